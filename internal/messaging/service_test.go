package messaging

import (
	"context"
	"errors"
	"testing"
)

func TestCanonicalizePhone(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"digits pass through", "15551234567", "15551234567", false},
		{"plus and separators stripped", "+1 (555) 123-4567", "15551234567", false},
		{"dots stripped", "555.123.4567", "5551234567", false},
		{"empty rejected", "", "", true},
		{"no digits rejected", "not-a-number", "", true},
		{"too short rejected", "12345", "", true},
		{"six digits accepted", "123456", "123456", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := CanonicalizePhone(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Errorf("CanonicalizePhone(%q) expected error, got %q", tc.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("CanonicalizePhone(%q) unexpected error: %v", tc.in, err)
			}
			if got != tc.want {
				t.Errorf("CanonicalizePhone(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestMockNotifierRecordsAndFails(t *testing.T) {
	m := NewMockNotifier()
	ctx := context.Background()

	if err := m.SendMessage(ctx, "15551234567", "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent := m.Sent()
	if len(sent) != 1 || sent[0].To != "15551234567" || sent[0].Body != "hello" {
		t.Errorf("Sent() = %+v", sent)
	}

	boom := errors.New("boom")
	m.FailErr = boom
	if err := m.SendMessage(ctx, "15551234567", "again"); !errors.Is(err, boom) {
		t.Errorf("expected injected failure, got %v", err)
	}
	if got := len(m.Sent()); got != 1 {
		t.Errorf("failed send must not be recorded, have %d", got)
	}

	m.Reset()
	if got := len(m.Sent()); got != 0 {
		t.Errorf("Reset should clear messages, have %d", got)
	}
}
