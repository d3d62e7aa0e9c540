// Package messaging provides the outbound SMS abstraction for dose
// reminders. Delivery is fire-and-forget: failures are logged by callers,
// never retried, and never fail a state transition.
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
)

// phoneNumberRegex matches everything that is not a digit, for recipient
// canonicalization.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Notifier defines a pluggable message delivery abstraction.
type Notifier interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a
	// recipient phone number. Each implementation applies its own rules.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message body to a recipient.
	SendMessage(ctx context.Context, to string, body string) error
}

// CanonicalizePhone strips a phone number to digits and validates length.
// Shared by the Twilio and mock notifiers.
func CanonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}

	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}

	if recipient != canonical {
		slog.Debug("canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}
