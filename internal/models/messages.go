// Package models: structured inbound message types.
//
// Free-text parsing happens upstream; the scheduling core only ever sees
// one of the tagged message kinds below.
package models

import (
	"errors"
	"time"
)

// MessageKind tags the concrete type of an inbound message.
type MessageKind string

const (
	MessageKindTake           MessageKind = "take"
	MessageKindSkip           MessageKind = "skip"
	MessageKindDelayMinutes   MessageKind = "delay_minutes"
	MessageKindRequestedAlarm MessageKind = "requested_alarm"
	MessageKindActivity       MessageKind = "activity"
	MessageKindSpecial        MessageKind = "special"
	MessageKindThanks         MessageKind = "thanks"
	MessageKindWebsiteRequest MessageKind = "website_request"
	MessageKindHealthMetric   MessageKind = "health_metric"
)

// Message is the sealed union of structured inbound messages. The state
// machine switches exhaustively on the concrete type.
type Message interface {
	Kind() MessageKind
}

// Take reports a dose taken, optionally at an explicit past time.
type Take struct {
	At      *time.Time `json:"at,omitempty"`
	Excited bool       `json:"excited,omitempty"`
}

// Skip reports a dose deliberately skipped.
type Skip struct {
	At *time.Time `json:"at,omitempty"`
}

// DelayMinutes requests a follow-up reminder after a fixed offset.
// Upstream parsing only produces 10, 30 or 60.
type DelayMinutes struct {
	Minutes int `json:"minutes"`
}

// RequestedAlarmTime requests a follow-up reminder at an absolute time.
type RequestedAlarmTime struct {
	At time.Time `json:"at"`
}

// Activity reports what the user is doing; the reminder is pushed back by
// an activity-specific delay.
type Activity struct {
	Name         string `json:"name"`
	Response     string `json:"response"`      // canned acknowledgement text
	DelayMinutes int    `json:"delay_minutes"` // inferred delay for this activity
}

// Special carries a single-character control code (e.g. "x" to flag an
// error for human review).
type Special struct {
	Code string `json:"code"`
}

// Thanks is a free-standing expression of gratitude.
type Thanks struct{}

// WebsiteRequest asks for a link to the web dashboard.
type WebsiteRequest struct{}

// HealthMetric self-reports a measurement such as blood glucose or weight.
type HealthMetric struct {
	Metric string  `json:"metric"`
	Value  float64 `json:"value"`
}

func (Take) Kind() MessageKind               { return MessageKindTake }
func (Skip) Kind() MessageKind               { return MessageKindSkip }
func (DelayMinutes) Kind() MessageKind       { return MessageKindDelayMinutes }
func (RequestedAlarmTime) Kind() MessageKind { return MessageKindRequestedAlarm }
func (Activity) Kind() MessageKind           { return MessageKindActivity }
func (Special) Kind() MessageKind            { return MessageKindSpecial }
func (Thanks) Kind() MessageKind             { return MessageKindThanks }
func (WebsiteRequest) Kind() MessageKind     { return MessageKindWebsiteRequest }
func (HealthMetric) Kind() MessageKind       { return MessageKindHealthMetric }

// ErrUnknownMessageKind reports an unrecognized tag during decoding.
var ErrUnknownMessageKind = errors.New("unknown message kind")
