package model

import (
	"errors"
	"testing"
	"time"
)

func TestParseWireTimeUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)

	got, err := ParseWireTime("2024-06-05T09:30:00.000Z", loc)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2024, time.June, 5, 9, 30, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if FormatWireTime(got) != "2024-06-05T09:30:00.000Z" {
		t.Errorf("round trip = %s", FormatWireTime(got))
	}

	if _, err := ParseWireTime("06/05/2024", loc); err == nil {
		t.Error("expected error for malformed date")
	}
}

func TestStartOfWeek(t *testing.T) {
	loc := time.UTC
	tests := []struct {
		name  string
		in    time.Time
		first time.Weekday
		want  time.Time
	}{
		{"wednesday to monday", time.Date(2024, 6, 5, 15, 0, 0, 0, loc), time.Monday, time.Date(2024, 6, 3, 0, 0, 0, 0, loc)},
		{"monday stays", time.Date(2024, 6, 3, 0, 0, 0, 0, loc), time.Monday, time.Date(2024, 6, 3, 0, 0, 0, 0, loc)},
		{"sunday goes back six", time.Date(2024, 6, 9, 23, 59, 0, 0, loc), time.Monday, time.Date(2024, 6, 3, 0, 0, 0, 0, loc)},
		{"sunday first", time.Date(2024, 6, 5, 8, 0, 0, 0, loc), time.Sunday, time.Date(2024, 6, 2, 0, 0, 0, 0, loc)},
		{"across month", time.Date(2024, 7, 2, 8, 0, 0, 0, loc), time.Monday, time.Date(2024, 7, 1, 0, 0, 0, 0, loc)},
		{"across year", time.Date(2025, 1, 1, 8, 0, 0, 0, loc), time.Monday, time.Date(2024, 12, 30, 0, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StartOfWeek(tt.in, tt.first); !got.Equal(tt.want) {
				t.Errorf("StartOfWeek(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormats(t *testing.T) {
	d := time.Date(2024, time.June, 3, 14, 5, 0, 0, time.UTC)
	if got := FormatDay(d); got != "06-03-2024" {
		t.Errorf("FormatDay = %s", got)
	}
	if got := FormatClock(d); got != "02:05 PM" {
		t.Errorf("FormatClock = %s", got)
	}
	if got := DayKey(d); got != "2024-06-03" {
		t.Errorf("DayKey = %s", got)
	}
	back, err := ParseDayKey("2024-06-03", time.UTC)
	if err != nil || !back.Equal(StartOfDay(d)) {
		t.Errorf("ParseDayKey = %v, %v", back, err)
	}
}

func TestSameDay(t *testing.T) {
	a := time.Date(2024, 6, 5, 0, 0, 0, 0, time.UTC)
	if !SameDay(a, time.Date(2024, 6, 5, 23, 59, 59, 0, time.UTC)) {
		t.Error("same day reported different")
	}
	if SameDay(a, time.Date(2024, 6, 6, 0, 0, 0, 0, time.UTC)) {
		t.Error("different days reported same")
	}
}

func TestNextWholeHour(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	got := NextWholeHour(time.Date(2024, 6, 5, 9, 41, 12, 0, loc))
	want := time.Date(2024, 6, 5, 10, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestNewEventInputDefaults(t *testing.T) {
	now := time.Date(2024, 6, 5, 9, 41, 0, 0, time.UTC)
	in := NewEventInput(now)
	if in.Date != "2024-06-05T10:00:00.000Z" {
		t.Errorf("date = %s", in.Date)
	}
	if in.Duration != DefaultEventDuration {
		t.Errorf("duration = %d", in.Duration)
	}
	if in.UserID != nil || in.Onsite {
		t.Errorf("unexpected defaults: %+v", in)
	}
}

func TestEventEnd(t *testing.T) {
	ev := Event{Date: "2024-06-05T09:00:00.000Z", Duration: 5_400_000}

	end, ok := ev.End(time.UTC)
	if !ok || !end.Equal(time.Date(2024, 6, 5, 10, 30, 0, 0, time.UTC)) {
		t.Errorf("End = %v, %v", end, ok)
	}
	if got := ev.StartTime(time.UTC); got != "09:00 AM" {
		t.Errorf("StartTime = %s", got)
	}
	if got := ev.EndTime(time.UTC); got != "10:30 AM" {
		t.Errorf("EndTime = %s", got)
	}

	ev.Duration = 0
	if _, ok := ev.End(time.UTC); ok {
		t.Error("zero duration should have no end")
	}
	if got := ev.EndTime(time.UTC); got != "" {
		t.Errorf("EndTime = %q, want empty", got)
	}

	bad := Event{Date: "garbage", Duration: 60_000}
	if bad.StartDate(time.UTC) != "" || bad.StartTime(time.UTC) != "" {
		t.Error("invalid date should format empty")
	}
}

func TestEventInputCopiesUser(t *testing.T) {
	id := 4
	ev := Event{ID: 1, Title: "x", UserID: &id}
	in := ev.Input()
	id = 5
	if in.UserID == nil || *in.UserID != 4 {
		t.Errorf("UserID = %v", in.UserID)
	}
}

func TestValidateEventInput(t *testing.T) {
	valid := EventInput{Date: "2024-06-05T09:00:00.000Z", Title: "Patrol", Duration: DefaultEventDuration}

	tests := []struct {
		name    string
		mutate  func(*EventInput)
		wantErr bool
	}{
		{"valid", func(*EventInput) {}, false},
		{"blank title", func(in *EventInput) { in.Title = "  " }, true},
		{"bad date", func(in *EventInput) { in.Date = "2024-06-05" }, true},
		{"too short", func(in *EventInput) { in.Duration = MinEventDuration - 1 }, true},
		{"too long", func(in *EventInput) { in.Duration = MaxEventDuration + 1 }, true},
		{"min bound", func(in *EventInput) { in.Duration = MinEventDuration }, false},
		{"max bound", func(in *EventInput) { in.Duration = MaxEventDuration }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.mutate(&in)
			err := ValidateEventInput(in, time.UTC)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidInput) {
				t.Errorf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestResultFor(t *testing.T) {
	if ResultFor(0) != ResultEmpty || ResultFor(3) != ResultOK {
		t.Error("ResultFor mismatch")
	}
	if ResultError.String() != "error" || ResultNone.String() != "none" {
		t.Error("Result.String mismatch")
	}
}
