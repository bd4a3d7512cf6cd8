package web

import (
	"errors"
	"net/http"
	"time"

	"guardsched/internal/api"
	"guardsched/internal/model"
	"guardsched/internal/session"
)

var (
	errNotLoggedIn = errors.New("not logged in")
	errForbidden   = errors.New("admin privileges required")
)

// eventDTO is an event with its display fields precomputed.
type eventDTO struct {
	ID        int    `json:"id"`
	Date      string `json:"date"`
	Day       string `json:"day,omitempty"`
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`
	Title     string `json:"event"`
	Onsite    bool   `json:"onsite"`
	Notes     string `json:"notes"`
	Duration  int64  `json:"duration"`
	UserID    *int   `json:"user_id"`
	Username  string `json:"username,omitempty"`
}

func toEventDTO(ev model.Event, loc *time.Location) eventDTO {
	d := eventDTO{
		ID:        ev.ID,
		Date:      ev.Date,
		StartTime: ev.StartTime(loc),
		EndTime:   ev.EndTime(loc),
		Title:     ev.Title,
		Onsite:    ev.Onsite,
		Notes:     ev.Notes,
		Duration:  ev.Duration,
		UserID:    ev.UserID,
	}
	if start, err := ev.Start(loc); err == nil {
		d.Day = model.DayKey(start)
	}
	if ev.User != nil {
		d.Username = ev.User.Username
	}
	return d
}

func toEventDTOs(evs []model.Event, loc *time.Location) []eventDTO {
	out := make([]eventDTO, 0, len(evs))
	for _, ev := range evs {
		out = append(out, toEventDTO(ev, loc))
	}
	return out
}

type stateDTO struct {
	Loading   bool       `json:"loading"`
	Result    string     `json:"result"`
	Error     string     `json:"error,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

func toStateDTO(st model.LoadState) stateDTO {
	d := stateDTO{Loading: st.Loading, Result: st.Result.String()}
	if st.Err != nil {
		d.Error = errorMessage(st.Err)
	}
	if !st.UpdatedAt.IsZero() {
		t := st.UpdatedAt
		d.UpdatedAt = &t
	}
	return d
}

type daySection struct {
	Day    string     `json:"day"`
	Label  string     `json:"label"`
	Events []eventDTO `json:"events"`
}

type weekResponse struct {
	WeekOf      string       `json:"week_of"`
	Selected    string       `json:"selected"`
	Days        []daySection `json:"days"`
	Unscheduled []eventDTO   `json:"unscheduled,omitempty"`
	State       stateDTO     `json:"state"`
}

type dayResponse struct {
	Day    string     `json:"day"`
	Events []eventDTO `json:"events"`
	State  stateDTO   `json:"state"`
}

type sessionDTO struct {
	LoggedIn bool       `json:"logged_in"`
	UserID   int        `json:"user_id,omitempty"`
	Username string     `json:"username,omitempty"`
	IsAdmin  bool       `json:"is_admin"`
	LastSync *time.Time `json:"last_sync,omitempty"`
}

func toSessionDTO(snap session.Snapshot) sessionDTO {
	d := sessionDTO{
		LoggedIn: snap.LoggedIn,
		UserID:   snap.UserID,
		Username: snap.Username,
		IsAdmin:  snap.IsAdmin,
	}
	if !snap.LastSync.IsZero() {
		t := snap.LastSync
		d.LastSync = &t
	}
	return d
}

type usersResponse struct {
	Users []model.User `json:"users"`
	State stateDTO     `json:"state"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type batchDeleteRequest struct {
	IDs []int `json:"ids"`
}

type batchDeleteResponse struct {
	Requested int    `json:"requested"`
	Error     string `json:"error,omitempty"`
}

// statusFor maps store, session and API errors to HTTP statuses.
func statusFor(err error) int {
	var se *api.ServerError
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errNotLoggedIn),
		errors.Is(err, session.ErrLoginFailed),
		errors.Is(err, session.ErrBadLoginResponse):
		return http.StatusUnauthorized
	case errors.Is(err, errForbidden):
		return http.StatusForbidden
	case errors.As(err, &se):
		if se.Status >= 400 && se.Status < 500 {
			return se.Status
		}
		return http.StatusBadGateway
	case errors.Is(err, api.ErrInvalidURL):
		return http.StatusBadGateway
	}
	var ne *api.NetworkError
	var de *api.DecodeError
	if errors.As(err, &ne) || errors.As(err, &de) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// errorMessage prefers the server's own message over the wrapped chain.
func errorMessage(err error) string {
	var se *api.ServerError
	if errors.As(err, &se) {
		return se.Message
	}
	return err.Error()
}

func writeErr(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), errorMessage(err))
}
