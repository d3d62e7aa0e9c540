package models

import (
	"errors"
	"testing"
	"time"
)

func TestUserLocation(t *testing.T) {
	u := &User{Timezone: "America/New_York"}
	loc, err := u.Location()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loc.String() != "America/New_York" {
		t.Errorf("got %v, want America/New_York", loc)
	}

	u = &User{}
	loc, err = u.Location()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loc != time.UTC {
		t.Errorf("empty timezone should resolve to UTC, got %v", loc)
	}

	u = &User{Timezone: "Not/AZone"}
	if _, err := u.Location(); !errors.Is(err, ErrInvalidTimezone) {
		t.Errorf("expected ErrInvalidTimezone, got %v", err)
	}
}

func TestDoseWindowValidate(t *testing.T) {
	cases := []struct {
		name    string
		w       DoseWindow
		wantErr error
	}{
		{"valid daytime", DoseWindow{StartHour: 9, EndHour: 11}, nil},
		{"valid overnight", DoseWindow{StartHour: 22, EndHour: 2}, nil},
		{"start hour too high", DoseWindow{StartHour: 24, EndHour: 11}, ErrInvalidHour},
		{"negative end hour", DoseWindow{StartHour: 9, EndHour: -1}, ErrInvalidHour},
		{"start minute too high", DoseWindow{StartHour: 9, StartMinute: 60, EndHour: 11}, ErrInvalidMinute},
		{"negative end minute", DoseWindow{StartHour: 9, EndHour: 11, EndMinute: -1}, ErrInvalidMinute},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.w.Validate()
			if tc.wantErr == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("got %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestJobKeyString(t *testing.T) {
	key := JobKey{DoseWindowID: 42, Type: JobAbsent}
	if got := key.String(); got != "42-absent" {
		t.Errorf("JobKey.String() = %q, want %q", got, "42-absent")
	}
}

func TestMessageKinds(t *testing.T) {
	cases := []struct {
		msg  Message
		want MessageKind
	}{
		{Take{}, MessageKindTake},
		{Skip{}, MessageKindSkip},
		{DelayMinutes{Minutes: 30}, MessageKindDelayMinutes},
		{RequestedAlarmTime{}, MessageKindRequestedAlarm},
		{Activity{}, MessageKindActivity},
		{Special{}, MessageKindSpecial},
		{Thanks{}, MessageKindThanks},
		{WebsiteRequest{}, MessageKindWebsiteRequest},
		{HealthMetric{}, MessageKindHealthMetric},
	}
	for _, tc := range cases {
		if got := tc.msg.Kind(); got != tc.want {
			t.Errorf("%T.Kind() = %q, want %q", tc.msg, got, tc.want)
		}
	}
}
