package users

import (
	"context"
	"sync"
	"time"

	appLog "guardsched/internal/log"
	"guardsched/internal/metrics"
	"guardsched/internal/model"
)

// Client is the part of the API client the store needs.
type Client interface {
	ListUsers(ctx context.Context) ([]model.User, error)
	AddUser(ctx context.Context, u model.User) error
	EditUser(ctx context.Context, id int, u model.User) error
	DeleteUser(ctx context.Context, id int) error
}

// Viewer is the session information used to filter the user list.
// *session.Session implements it.
type Viewer interface {
	IsAdmin() bool
	UserID() int
}

// Store is the view-model for account management. It owns the full user
// list, the load state and the add/edit form flags.
type Store struct {
	client  Client
	viewer  Viewer
	metrics *metrics.Metrics
	now     func() time.Time
	log     appLog.Logger

	mutate sync.Mutex

	mu         sync.RWMutex
	users      []model.User
	state      model.LoadState
	loadSeq    uint64
	selected   *model.User
	presenting bool
	listeners  []func()
}

func New(client Client, viewer Viewer, m *metrics.Metrics) *Store {
	return &Store{
		client:  client,
		viewer:  viewer,
		metrics: m,
		now:     time.Now,
		log:     appLog.With("component", "users"),
		users:   []model.User{},
	}
}

// OnChange registers fn to be called after every state change, including
// the start of a load.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Store) notify() {
	s.mu.RLock()
	ls := append([]func(){}, s.listeners...)
	s.mu.RUnlock()
	for _, fn := range ls {
		fn()
	}
}

func (s *Store) State() model.LoadState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Users returns a copy of the full collection.
func (s *Store) Users() []model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.User(nil), s.users...)
}

// UserByID looks up a loaded user.
func (s *Store) UserByID(id int) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.ID == id {
			return u, nil
		}
	}
	return model.User{}, model.NewError("user", model.ErrNotFound)
}

// VisibleToSession returns every user for an admin session and only the
// session's own entry otherwise.
func (s *Store) VisibleToSession() []model.User {
	admin := s.viewer.IsAdmin()
	self := s.viewer.UserID()

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		if admin || u.ID == self {
			out = append(out, u)
		}
	}
	return out
}

// LoadUsers replaces the collection with the server's list. On failure the
// collection is cleared and the error is kept in the state and returned.
//
// When loads overlap, only the most recently issued one is applied.
func (s *Store) LoadUsers(ctx context.Context) error {
	s.mu.Lock()
	s.loadSeq++
	seq := s.loadSeq
	s.state.Loading = true
	s.mu.Unlock()
	s.notify()

	users, err := s.client.ListUsers(ctx)

	s.mu.Lock()
	if seq != s.loadSeq {
		s.mu.Unlock()
		s.log.Debug("discarding stale user load")
		return err
	}
	if err != nil {
		s.users = []model.User{}
		s.state = model.LoadState{Result: model.ResultError, Err: err, UpdatedAt: s.now()}
	} else {
		s.users = users
		s.state = model.LoadState{Result: model.ResultFor(len(users)), UpdatedAt: s.now()}
	}
	result := s.state.Result
	s.mu.Unlock()

	s.metrics.ObserveReload("users", result.String(), len(users))
	s.notify()
	if err != nil {
		s.log.Error("error loading users", err)
		return err
	}
	s.log.Debug("users loaded", "count", len(users))
	return nil
}

// Refresh reloads the collection.
func (s *Store) Refresh(ctx context.Context) error {
	return s.LoadUsers(ctx)
}

func (s *Store) mutateAndReload(ctx context.Context, action string, u model.User, call func(context.Context) error) error {
	s.mutate.Lock()
	defer s.mutate.Unlock()

	s.mu.Lock()
	s.state.Loading = true
	s.mu.Unlock()
	s.notify()

	if err := call(ctx); err != nil {
		s.log.Error("user "+action+" failed", err, "id", u.ID, "username", u.Username)
		s.mu.Lock()
		s.state = model.LoadState{Result: model.ResultError, Err: err, UpdatedAt: s.now()}
		s.mu.Unlock()
		s.notify()
		return err
	}
	s.log.Info("user "+action+" succeeded", "id", u.ID, "username", u.Username)
	return s.LoadUsers(ctx)
}

func (s *Store) AddUser(ctx context.Context, u model.User) error {
	return s.mutateAndReload(ctx, "add", u, func(ctx context.Context) error {
		return s.client.AddUser(ctx, u)
	})
}

// EditUser updates u on the server. An empty u.Password keeps the stored
// password.
func (s *Store) EditUser(ctx context.Context, u model.User) error {
	return s.mutateAndReload(ctx, "edit", u, func(ctx context.Context) error {
		return s.client.EditUser(ctx, u.ID, u)
	})
}

func (s *Store) DeleteUser(ctx context.Context, u model.User) error {
	return s.mutateAndReload(ctx, "delete", u, func(ctx context.Context) error {
		return s.client.DeleteUser(ctx, u.ID)
	})
}

// Select marks u as the user being edited; nil clears the selection.
func (s *Store) Select(u *model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u == nil {
		s.selected = nil
		return
	}
	cp := *u
	s.selected = &cp
}

func (s *Store) Selected() (model.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selected == nil {
		return model.User{}, false
	}
	return *s.selected, true
}

// Present toggles the add/edit form flag. Dismissing the form clears the
// selection.
func (s *Store) Present(show bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presenting = show
	if !show {
		s.selected = nil
	}
}

func (s *Store) Presenting() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.presenting
}
