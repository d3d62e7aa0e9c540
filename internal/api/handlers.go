package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/6peterlu/coherence-chat/internal/models"
)

// inboundEventRequest is the wire form of one structured inbound event.
// Which fields matter depends on kind; unknown kinds are rejected.
type inboundEventRequest struct {
	UserID int64              `json:"user_id"`
	Kind   models.MessageKind `json:"kind"`

	At           *time.Time `json:"at,omitempty"`
	Excited      bool       `json:"excited,omitempty"`
	Minutes      int        `json:"minutes,omitempty"`
	Name         string     `json:"name,omitempty"`
	Response     string     `json:"response,omitempty"`
	DelayMinutes int        `json:"delay_minutes,omitempty"`
	Code         string     `json:"code,omitempty"`
	Metric       string     `json:"metric,omitempty"`
	Value        float64    `json:"value,omitempty"`
}

// toMessage converts the wire form into the tagged message union.
func (r *inboundEventRequest) toMessage() (models.Message, error) {
	switch r.Kind {
	case models.MessageKindTake:
		return models.Take{At: r.At, Excited: r.Excited}, nil
	case models.MessageKindSkip:
		return models.Skip{At: r.At}, nil
	case models.MessageKindDelayMinutes:
		if r.Minutes <= 0 {
			return nil, fmt.Errorf("minutes must be positive")
		}
		return models.DelayMinutes{Minutes: r.Minutes}, nil
	case models.MessageKindRequestedAlarm:
		if r.At == nil {
			return nil, fmt.Errorf("at is required for %s", r.Kind)
		}
		return models.RequestedAlarmTime{At: *r.At}, nil
	case models.MessageKindActivity:
		return models.Activity{Name: r.Name, Response: r.Response, DelayMinutes: r.DelayMinutes}, nil
	case models.MessageKindSpecial:
		return models.Special{Code: r.Code}, nil
	case models.MessageKindThanks:
		return models.Thanks{}, nil
	case models.MessageKindWebsiteRequest:
		return models.WebsiteRequest{}, nil
	case models.MessageKindHealthMetric:
		return models.HealthMetric{Metric: r.Metric, Value: r.Value}, nil
	default:
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownMessageKind, r.Kind)
	}
}

func (s *Server) eventHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var req inboundEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.eventHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	msg, err := req.toMessage()
	if err != nil {
		slog.Warn("Server.eventHandler: invalid event", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	slog.Debug("Server.eventHandler: processing event", "user_id", req.UserID, "kind", req.Kind)

	if err := s.reminders.HandleMessage(r.Context(), req.UserID, msg); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error(err.Error()))
			return
		}
		slog.Error("Server.eventHandler: transition failed", "error", err, "user_id", req.UserID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("failed to process event"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

func (s *Server) pauseHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.reminders.PauseUser(r.Context(), id); err != nil {
		respondOpError(w, err, "pause user")
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

func (s *Server) resumeHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.reminders.ResumeUser(r.Context(), id); err != nil {
		respondOpError(w, err, "resume user")
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

func (s *Server) activateHandler(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		if err := s.reminders.SetWindowActive(r.Context(), id, active); err != nil {
			respondOpError(w, err, "toggle dose window")
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(nil))
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "healthy"}))
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid id"))
		return 0, false
	}
	return id, true
}

func respondOpError(w http.ResponseWriter, err error, op string) {
	if errors.Is(err, models.ErrNotFound) {
		writeJSONResponse(w, http.StatusNotFound, models.Error(err.Error()))
		return
	}
	slog.Error("Server: operation failed", "op", op, "error", err)
	writeJSONResponse(w, http.StatusInternalServerError, models.Error("operation failed"))
}
