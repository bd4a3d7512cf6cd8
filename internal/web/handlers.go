package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"guardsched/internal/ics"
	"guardsched/internal/model"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toSessionDTO(s.sess.Snapshot()))
}

// handleLogin authenticates and, on success, loads users and the selected
// week in parallel. Load failures do not fail the login; they show up in the
// store states.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed login body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusUnprocessableEntity, "email and password are required")
		return
	}

	if _, err := s.sess.Login(r.Context(), s.auth, req.Email, req.Password); err != nil {
		writeErr(w, err)
		return
	}
	if err := s.reloadAll(r.Context()); err != nil {
		s.log.Warn("post-login reload failed", "error", err.Error())
	}
	writeJSON(w, http.StatusOK, toSessionDTO(s.sess.Snapshot()))
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	if err := s.sess.Logout(); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(s.sess.Snapshot()))
}

// handleRefresh re-validates the session and reloads both stores.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !s.requireLogin(w) {
		return
	}
	if err := s.sess.CheckCredentials(r.Context(), s.lister); err != nil {
		writeErr(w, err)
		return
	}
	if !s.sess.LoggedIn() {
		writeErr(w, errNotLoggedIn)
		return
	}
	if err := s.reloadAll(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.weekView())
}

// reloadAll loads users and the tracked week in parallel. The loads share
// ctx but not a group context: one failing must not cancel the other.
func (s *Server) reloadAll(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error { return s.users.LoadUsers(ctx) })
	g.Go(func() error { return s.events.Refresh(ctx) })
	return g.Wait()
}

func (s *Server) requireLogin(w http.ResponseWriter) bool {
	if !s.sess.LoggedIn() {
		writeErr(w, errNotLoggedIn)
		return false
	}
	return true
}

func (s *Server) requireAdmin(w http.ResponseWriter) bool {
	if !s.requireLogin(w) {
		return false
	}
	if !s.sess.IsAdmin() {
		writeErr(w, errForbidden)
		return false
	}
	return true
}

// dateParam reads ?date=YYYY-MM-DD in the store's zone, defaulting to the
// current cursor.
func (s *Server) dateParam(r *http.Request) (time.Time, error) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		return s.events.SelectedDate(), nil
	}
	d, err := model.ParseDayKey(raw, s.events.Location())
	if err != nil {
		return time.Time{}, model.NewError("date", fmt.Errorf("%w: want YYYY-MM-DD, got %q", model.ErrInvalidInput, raw))
	}
	return d, nil
}

func (s *Server) handleDay(w http.ResponseWriter, r *http.Request) {
	if !s.requireLogin(w) {
		return
	}
	d, err := s.dateParam(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if _, err := s.events.SetSelectedDate(r.Context(), d); err != nil {
		writeErr(w, err)
		return
	}

	loc := s.events.Location()
	writeJSON(w, http.StatusOK, dayResponse{
		Day:    model.DayKey(d.In(loc)),
		Events: toEventDTOs(s.events.SortedEventsForDay(d), loc),
		State:  toStateDTO(s.events.State()),
	})
}

func (s *Server) handleWeek(w http.ResponseWriter, r *http.Request) {
	if !s.requireLogin(w) {
		return
	}
	d, err := s.dateParam(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if _, err := s.events.SetSelectedDate(r.Context(), d); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.weekView())
}

// weekView renders the loaded week as day sections in ascending order.
func (s *Server) weekView() weekResponse {
	loc := s.events.Location()
	groups := s.events.GroupedByDay()
	keys := s.events.SortedDayKeys()

	days := make([]daySection, 0, len(keys))
	for _, k := range keys {
		days = append(days, daySection{
			Day:    model.DayKey(k),
			Label:  k.Format("Monday, Jan 2"),
			Events: toEventDTOs(groups[k], loc),
		})
	}

	resp := weekResponse{
		Selected: model.DayKey(s.events.SelectedDate()),
		Days:     days,
		State:    toStateDTO(s.events.State()),
	}
	if wk := s.events.TrackedWeek(); !wk.IsZero() {
		resp.WeekOf = model.DayKey(wk)
	}
	if un := s.events.Unscheduled(); len(un) > 0 {
		resp.Unscheduled = toEventDTOs(un, loc)
	}
	return resp
}

func (s *Server) decodeEventInput(w http.ResponseWriter, r *http.Request) (model.EventInput, bool) {
	var in model.EventInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "malformed event body")
		return in, false
	}
	if err := model.ValidateEventInput(in, s.events.Location()); err != nil {
		writeErr(w, err)
		return in, false
	}
	return in, true
}

func eventFromInput(id int, in model.EventInput) model.Event {
	return model.Event{
		ID:       id,
		Date:     in.Date,
		Title:    in.Title,
		Onsite:   in.Onsite,
		Notes:    in.Notes,
		Duration: in.Duration,
		UserID:   in.UserID,
	}
}

func (s *Server) handleAddEvent(w http.ResponseWriter, r *http.Request) {
	if !s.requireLogin(w) {
		return
	}
	in, ok := s.decodeEventInput(w, r)
	if !ok {
		return
	}
	if err := s.events.AddEvent(r.Context(), eventFromInput(0, in)); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.weekView())
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	if !s.requireLogin(w) {
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	in, ok := s.decodeEventInput(w, r)
	if !ok {
		return
	}
	if err := s.events.UpdateEvent(r.Context(), eventFromInput(id, in)); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.weekView())
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	if !s.requireLogin(w) {
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := s.events.DeleteEvent(r.Context(), s.loadedEvent(id)); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.weekView())
}

func (s *Server) handleDeleteBatch(w http.ResponseWriter, r *http.Request) {
	if !s.requireLogin(w) {
		return
	}
	var req batchDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed delete body")
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "ids cannot be empty")
		return
	}

	evs := make([]model.Event, 0, len(req.IDs))
	for _, id := range req.IDs {
		evs = append(evs, s.loadedEvent(id))
	}
	if err := s.events.DeleteBatch(r.Context(), evs); err != nil {
		writeJSON(w, statusFor(err), batchDeleteResponse{Requested: len(evs), Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, batchDeleteResponse{Requested: len(evs)})
}

// loadedEvent returns the loaded event with id. Unknown ids get the tracked
// week's anchor as date so the reload stays on the visible week.
func (s *Server) loadedEvent(id int) model.Event {
	for _, ev := range s.events.Events() {
		if ev.ID == id {
			return ev
		}
	}
	ev := model.Event{ID: id}
	if wk := s.events.TrackedWeek(); !wk.IsZero() {
		ev.Date = model.FormatWireTime(wk)
	}
	return ev
}

func (s *Server) handleListUsers(w http.ResponseWriter, _ *http.Request) {
	if !s.requireLogin(w) {
		return
	}
	writeJSON(w, http.StatusOK, usersResponse{
		Users: s.users.VisibleToSession(),
		State: toStateDTO(s.users.State()),
	})
}

func decodeUser(w http.ResponseWriter, r *http.Request) (model.User, bool) {
	var u model.User
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeError(w, http.StatusBadRequest, "malformed user body")
		return u, false
	}
	if u.Username == "" || u.Email == "" {
		writeError(w, http.StatusUnprocessableEntity, "username and email are required")
		return u, false
	}
	return u, true
}

func (s *Server) handleAddUser(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w) {
		return
	}
	u, ok := decodeUser(w, r)
	if !ok {
		return
	}
	if u.Password == "" {
		writeError(w, http.StatusUnprocessableEntity, "password is required")
		return
	}
	if err := s.users.AddUser(r.Context(), u); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, usersResponse{Users: s.users.VisibleToSession(), State: toStateDTO(s.users.State())})
}

// handleEditUser lets admins edit anyone and others edit themselves. Only
// admins may change the admin flag.
func (s *Server) handleEditUser(w http.ResponseWriter, r *http.Request) {
	if !s.requireLogin(w) {
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if !s.sess.IsAdmin() && id != s.sess.UserID() {
		writeErr(w, errForbidden)
		return
	}
	u, ok := decodeUser(w, r)
	if !ok {
		return
	}
	u.ID = id
	if !s.sess.IsAdmin() {
		u.IsAdmin = false
	}
	if err := s.users.EditUser(r.Context(), u); err != nil {
		writeErr(w, err)
		return
	}
	if id == s.sess.UserID() {
		if err := s.sess.CheckCredentials(r.Context(), s.lister); err != nil {
			s.log.Warn("session refresh after self edit failed", "error", err.Error())
		}
	}
	writeJSON(w, http.StatusOK, usersResponse{Users: s.users.VisibleToSession(), State: toStateDTO(s.users.State())})
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w) {
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	u, err := s.users.UserByID(id)
	if err != nil {
		u = model.User{ID: id}
	}
	if err := s.users.DeleteUser(r.Context(), u); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, usersResponse{Users: s.users.VisibleToSession(), State: toStateDTO(s.users.State())})
}

// handleCalendar exports the loaded week as iCalendar.
func (s *Server) handleCalendar(w http.ResponseWriter, _ *http.Request) {
	if !s.requireLogin(w) {
		return
	}
	body := ics.Export(s.events.Events(), ics.ExportOptions{
		Location: s.events.Location(),
		Domain:   s.cfg.ICS.Domain,
	})
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="guardsched.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

func idParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}
