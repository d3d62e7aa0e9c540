package messaging

import (
	"context"
	"sync"
)

// SentMessage records one outbound message captured by MockNotifier.
type SentMessage struct {
	To   string
	Body string
}

// MockNotifier is an in-memory Notifier for tests. It records every send
// and can be forced to fail.
type MockNotifier struct {
	mu      sync.Mutex
	sent    []SentMessage
	FailErr error
}

// NewMockNotifier creates an empty MockNotifier.
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

// ValidateAndCanonicalizeRecipient applies the shared phone rules.
func (m *MockNotifier) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizePhone(recipient)
}

// SendMessage records the message, or returns FailErr when set.
func (m *MockNotifier) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailErr != nil {
		return m.FailErr
	}
	m.sent = append(m.sent, SentMessage{To: to, Body: body})
	return nil
}

// Sent returns a copy of all recorded messages.
func (m *MockNotifier) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// Reset clears recorded messages.
func (m *MockNotifier) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}
