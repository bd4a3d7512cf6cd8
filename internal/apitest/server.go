// Package apitest provides an in-memory stand-in for the scheduling REST API.
// It speaks the same paths and JSON shapes as the real server, records every
// request, and can be told to fail specific calls.
package apitest

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"guardsched/internal/model"
)

// Request is a recorded call.
type Request struct {
	Method string
	Path   string
	Body   []byte
}

type failure struct {
	status  int
	message string
}

// Server is a fake API backed by httptest.Server.
type Server struct {
	*httptest.Server

	loc *time.Location

	mu          sync.Mutex
	users       []model.User
	events      []model.Event
	nextUserID  int
	nextEventID int
	requests    []Request
	failures    map[string]failure
}

// New starts a fake API that reads event dates in loc. It is closed when
// the test ends.
func New(t testing.TB, loc *time.Location) *Server {
	t.Helper()
	if loc == nil {
		loc = time.Local
	}
	s := &Server{
		loc:         loc,
		nextUserID:  1,
		nextEventID: 1,
		failures:    make(map[string]failure),
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.record)
	r.Use(s.inject)

	r.Get("/api/users/", s.listUsers)
	r.Post("/api/users/", s.addUser)
	r.Post("/api/users/login", s.login)
	r.Put("/api/users/{id}", s.editUser)
	r.Delete("/api/users/{id}", s.deleteUser)

	r.Get("/api/events/weekof/{day}", s.listEvents)
	r.Post("/api/events/", s.addEvent)
	r.Put("/api/events/{id}", s.editEvent)
	r.Delete("/api/events/{id}", s.deleteEvent)
	return r
}

// Fail makes every method+path call answer status with an API error body
// carrying message, until Recover is called for it.
func (s *Server) Fail(method, path string, status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method+" "+path] = failure{status: status, message: message}
}

func (s *Server) Recover(method, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, method+" "+path)
}

// SeedUser stores u and returns its assigned id. The password is kept.
func (s *Server) SeedUser(u model.User) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.ID = s.nextUserID
	s.nextUserID++
	s.users = append(s.users, u)
	return u.ID
}

// SeedEvent stores ev and returns its assigned id.
func (s *Server) SeedEvent(ev model.Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev.ID = s.nextEventID
	s.nextEventID++
	s.events = append(s.events, ev)
	return ev.ID
}

// SeedEventWithID stores ev under its own id.
func (s *Server) SeedEventWithID(ev model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.ID >= s.nextEventID {
		s.nextEventID = ev.ID + 1
	}
	s.events = append(s.events, ev)
}

// Users returns the stored users, passwords included.
func (s *Server) Users() []model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.User(nil), s.users...)
}

func (s *Server) Events() []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Event(nil), s.events...)
}

func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Count returns how many method+path calls were received.
func (s *Server) Count(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

// Last returns the most recent request, if any.
func (s *Server) Last() (Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return Request{}, false
	}
	return s.requests[len(s.requests)-1], true
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))

		s.mu.Lock()
		s.requests = append(s.requests, Request{Method: r.Method, Path: r.URL.Path, Body: body})
		s.mu.Unlock()

		next.ServeHTTP(w, r)
	})
}

func (s *Server) inject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		f, ok := s.failures[r.Method+" "+r.URL.Path]
		s.mu.Unlock()
		if ok {
			writeAPIError(w, f.status, f.message)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) listUsers(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	out := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		u.Password = ""
		out = append(out, u)
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

type userBody struct {
	Username string  `json:"username"`
	Email    string  `json:"email"`
	Password *string `json:"password"`
	IsAdmin  bool    `json:"isAdmin"`
}

func (s *Server) addUser(w http.ResponseWriter, r *http.Request) {
	var b userBody
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		writeAPIError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if b.Password == nil || *b.Password == "" {
		writeAPIError(w, http.StatusBadRequest, "password cannot be empty")
		return
	}
	id := s.SeedUser(model.User{Username: b.Username, Email: b.Email, Password: *b.Password, IsAdmin: b.IsAdmin})
	writeJSON(w, http.StatusCreated, map[string]int{"id": id})
}

func (s *Server) editUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var b userBody
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		writeAPIError(w, http.StatusBadRequest, "malformed body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.users {
		if s.users[i].ID != id {
			continue
		}
		s.users[i].Username = b.Username
		s.users[i].Email = b.Email
		s.users[i].IsAdmin = b.IsAdmin
		if b.Password != nil && *b.Password != "" {
			s.users[i].Password = *b.Password
		}
		writeJSON(w, http.StatusOK, []int{1})
		return
	}
	writeAPIError(w, http.StatusNotFound, "user not found")
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.users {
		if s.users[i].ID == id {
			s.users = append(s.users[:i], s.users[i+1:]...)
			writeJSON(w, http.StatusOK, 1)
			return
		}
	}
	writeAPIError(w, http.StatusNotFound, "user not found")
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var b struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		writeAPIError(w, http.StatusBadRequest, "malformed body")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == b.Email && u.Password == b.Password {
			u.Password = ""
			writeJSON(w, http.StatusOK, model.LoginResult{User: &u, Message: "login successful"})
			return
		}
	}
	writeAPIError(w, http.StatusUnauthorized, "invalid email or password")
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	from, err := time.ParseInLocation("01-02-2006", chi.URLParam(r, "day"), s.loc)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "bad week")
		return
	}
	to := from.AddDate(0, 0, 7)

	s.mu.Lock()
	out := make([]model.Event, 0)
	for _, ev := range s.events {
		start, err := model.ParseWireTime(ev.Date, s.loc)
		if err != nil || start.Before(from) || !start.Before(to) {
			continue
		}
		ev.User = s.userLocked(ev.UserID)
		out = append(out, ev)
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) userLocked(id *int) *model.User {
	if id == nil {
		return nil
	}
	for _, u := range s.users {
		if u.ID == *id {
			u.Password = ""
			return &u
		}
	}
	return nil
}

func (s *Server) addEvent(w http.ResponseWriter, r *http.Request) {
	var in model.EventInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeAPIError(w, http.StatusBadRequest, "malformed body")
		return
	}
	now := time.Now().UTC().Format(model.WireLayout)
	id := s.SeedEvent(model.Event{
		Date: in.Date, Title: in.Title, Onsite: in.Onsite, Notes: in.Notes,
		Duration: in.Duration, UserID: in.UserID, CreatedAt: now, UpdatedAt: now,
	})
	writeJSON(w, http.StatusCreated, map[string]int{"id": id})
}

func (s *Server) editEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in model.EventInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeAPIError(w, http.StatusBadRequest, "malformed body")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if s.events[i].ID != id {
			continue
		}
		ev := &s.events[i]
		ev.Date, ev.Title, ev.Onsite, ev.Notes = in.Date, in.Title, in.Onsite, in.Notes
		ev.Duration, ev.UserID = in.Duration, in.UserID
		ev.UpdatedAt = time.Now().UTC().Format(model.WireLayout)
		writeJSON(w, http.StatusOK, []int{1})
		return
	}
	writeAPIError(w, http.StatusNotFound, "event not found")
}

func (s *Server) deleteEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if s.events[i].ID == id {
			s.events = append(s.events[:i], s.events[i+1:]...)
			writeJSON(w, http.StatusOK, 1)
			return
		}
	}
	writeAPIError(w, http.StatusNotFound, "event not found")
}

func pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "bad id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{
		Name:   "ApiError",
		Errors: []model.ErrorDetail{{Message: msg, Type: "Validation error"}},
	})
}
