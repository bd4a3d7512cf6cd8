package model

import (
	"fmt"
	"strings"
	"time"
)

// Duration bounds accepted by editing surfaces, in milliseconds.
const (
	MinEventDuration     int64 = 60_000
	MaxEventDuration     int64 = 8_640_000
	DefaultEventDuration int64 = 900_000
)

// Event is a scheduled event as returned by the remote API.
//
// Date holds the wire timestamp; use Start to obtain a time.Time in the
// display location. ID is assigned by the server and never changed here.
type Event struct {
	ID        int    `json:"id"`
	Date      string `json:"date"`
	Title     string `json:"event"`
	Onsite    bool   `json:"onsite"`
	Notes     string `json:"notes"`
	Duration  int64  `json:"duration"` // milliseconds
	UserID    *int   `json:"user_id"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`

	// User is the assigned user summary embedded by the server, if any.
	User *User `json:"user,omitempty"`
}

// Start parses the event's wire date in loc.
func (e Event) Start(loc *time.Location) (time.Time, error) {
	return ParseWireTime(e.Date, loc)
}

// StartDate formats the start day as MM-dd-yyyy, or "" if Date is invalid.
func (e Event) StartDate(loc *time.Location) string {
	t, err := e.Start(loc)
	if err != nil {
		return ""
	}
	return FormatDay(t)
}

// StartTime formats the start as a 12-hour clock time, or "" if Date is invalid.
func (e Event) StartTime(loc *time.Location) string {
	t, err := e.Start(loc)
	if err != nil {
		return ""
	}
	return FormatClock(t)
}

// End returns start + duration. ok is false when the duration is not
// positive or the date does not parse.
func (e Event) End(loc *time.Location) (end time.Time, ok bool) {
	if e.Duration <= 0 {
		return time.Time{}, false
	}
	start, err := e.Start(loc)
	if err != nil {
		return time.Time{}, false
	}
	return start.Add(time.Duration(e.Duration) * time.Millisecond), true
}

// EndTime formats End as a clock time, or "" when there is no end.
func (e Event) EndTime(loc *time.Location) string {
	end, ok := e.End(loc)
	if !ok {
		return ""
	}
	return FormatClock(end)
}

// Input extracts the mutable fields sent on create/update.
func (e Event) Input() EventInput {
	in := EventInput{
		Date:     e.Date,
		Title:    e.Title,
		Onsite:   e.Onsite,
		Notes:    e.Notes,
		Duration: e.Duration,
	}
	if e.UserID != nil {
		id := *e.UserID
		in.UserID = &id
	}
	return in
}

// EventInput is the mutable subset of an Event. A nil UserID means the
// event has no assigned user and is sent as JSON null.
type EventInput struct {
	Date     string `json:"date"`
	Title    string `json:"event"`
	Onsite   bool   `json:"onsite"`
	Notes    string `json:"notes"`
	Duration int64  `json:"duration"`
	UserID   *int   `json:"user_id"`
}

// NewEventInput returns the defaults for a new event: it starts at the next
// whole hour after from and lasts DefaultEventDuration.
func NewEventInput(from time.Time) EventInput {
	return EventInput{
		Date:     FormatWireTime(NextWholeHour(from)),
		Duration: DefaultEventDuration,
	}
}

// ValidateEventInput checks the constraints an editing surface enforces.
func ValidateEventInput(in EventInput, loc *time.Location) error {
	var problems []string
	if strings.TrimSpace(in.Title) == "" {
		problems = append(problems, "event title cannot be blank")
	}
	if _, err := ParseWireTime(in.Date, loc); err != nil {
		problems = append(problems, "date must match "+WireLayout)
	}
	if in.Duration < MinEventDuration || in.Duration > MaxEventDuration {
		problems = append(problems, fmt.Sprintf("duration must be between %d and %d ms", MinEventDuration, MaxEventDuration))
	}
	if len(problems) > 0 {
		return NewError("event", fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(problems, "; ")))
	}
	return nil
}

// User is an account on the remote API. Password is write-only: the server
// never returns it and an empty value on edit means "unchanged".
type User struct {
	ID        int    `json:"id,omitempty"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password,omitempty"`
	IsAdmin   bool   `json:"isAdmin"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

// LoginResult is the body returned by the login endpoint.
type LoginResult struct {
	User    *User  `json:"user"`
	Message string `json:"message"`
}

// ErrorResponse is the error body shape produced by the remote API.
type ErrorResponse struct {
	Name   string        `json:"name"`
	Errors []ErrorDetail `json:"errors"`
}

type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Path    string `json:"path"`
	Value   any    `json:"value"`
	Origin  string `json:"origin"`
}
