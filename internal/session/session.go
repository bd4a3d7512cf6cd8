package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	appLog "guardsched/internal/log"
	"guardsched/internal/model"
)

var (
	// ErrLoginFailed is returned by Login when the server rejects the
	// credentials or the call fails.
	ErrLoginFailed = errors.New("session: unable to login, please check email and/or password")
	// ErrBadLoginResponse is returned when login succeeds without a user id.
	ErrBadLoginResponse = errors.New("session: bad return data received")
)

// Snapshot is the persisted session record.
type Snapshot struct {
	LoggedIn bool      `json:"logged_in"`
	UserID   int       `json:"user_id"`
	Username string    `json:"username"`
	IsAdmin  bool      `json:"is_admin"`
	LastSync time.Time `json:"last_sync"`
}

// Storage persists a Snapshot between runs.
type Storage interface {
	Load() (Snapshot, error)
	Save(Snapshot) error
}

// Authenticator performs the login call.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (model.LoginResult, error)
}

// UserLister fetches the full user list for the credential check.
type UserLister interface {
	ListUsers(ctx context.Context) ([]model.User, error)
}

// Session is the process-wide login context. It is passed explicitly to the
// stores and the HTTP adapter; it is only mutated by Login, CheckCredentials,
// MarkSynced and Logout.
type Session struct {
	mu      sync.RWMutex
	snap    Snapshot
	storage Storage
	log     appLog.Logger
}

// Open initializes a Session from storage.
func Open(storage Storage) (*Session, error) {
	if storage == nil {
		return nil, errors.New("session: storage is nil")
	}
	snap, err := storage.Load()
	if err != nil {
		return nil, fmt.Errorf("session: load: %w", err)
	}
	s := &Session{
		snap:    snap,
		storage: storage,
		log:     appLog.With("component", "session"),
	}
	s.log.Info("session loaded", "logged_in", snap.LoggedIn, "user_id", snap.UserID, "admin", snap.IsAdmin)
	return s, nil
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

func (s *Session) LoggedIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.LoggedIn
}

func (s *Session) UserID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.UserID
}

func (s *Session) IsAdmin() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.IsAdmin
}

// update applies fn to a copy of the snapshot, persists it and swaps it in.
// The in-memory state only changes when the save succeeds.
func (s *Session) update(fn func(*Snapshot)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.snap
	fn(&next)
	if err := s.storage.Save(next); err != nil {
		return fmt.Errorf("session: save: %w", err)
	}
	s.snap = next
	return nil
}

// apply records u as the current user, or resets to logged out when u is nil.
// LastSync is kept either way.
func apply(snap *Snapshot, u *model.User) {
	if u == nil {
		snap.LoggedIn = false
		snap.UserID = 0
		snap.Username = ""
		snap.IsAdmin = false
		return
	}
	snap.LoggedIn = true
	snap.UserID = u.ID
	snap.Username = u.Username
	snap.IsAdmin = u.IsAdmin
}

// Login authenticates against the API and records the returned user.
// Any failure leaves the session logged out.
func (s *Session) Login(ctx context.Context, auth Authenticator, email, password string) (model.User, error) {
	res, err := auth.Login(ctx, email, password)
	if err != nil {
		s.log.Error("login failed", err, "email", email)
		if uerr := s.update(func(snap *Snapshot) { apply(snap, nil) }); uerr != nil {
			return model.User{}, errors.Join(ErrLoginFailed, uerr)
		}
		return model.User{}, fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	if res.User == nil || res.User.ID == 0 {
		if uerr := s.update(func(snap *Snapshot) { apply(snap, nil) }); uerr != nil {
			return model.User{}, errors.Join(ErrBadLoginResponse, uerr)
		}
		return model.User{}, ErrBadLoginResponse
	}

	u := *res.User
	if err := s.update(func(snap *Snapshot) { apply(snap, &u) }); err != nil {
		return model.User{}, err
	}
	s.log.Info("logged in", "user_id", u.ID, "username", u.Username, "admin", u.IsAdmin)
	return u, nil
}

// CheckCredentials re-validates the stored user against the server: if the
// user still exists its name and role are refreshed, otherwise the session
// is reset to logged out. A fetch failure leaves the session untouched.
func (s *Session) CheckCredentials(ctx context.Context, lister UserLister) error {
	if !s.LoggedIn() {
		return nil
	}
	users, err := lister.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("session: check credentials: %w", err)
	}

	id := s.UserID()
	var found *model.User
	for i := range users {
		if users[i].ID == id {
			found = &users[i]
			break
		}
	}
	if found == nil {
		s.log.Warn("current user no longer exists; logging out", "user_id", id)
	}
	return s.update(func(snap *Snapshot) { apply(snap, found) })
}

// MarkSynced records the time of the last successful event download.
func (s *Session) MarkSynced(t time.Time) error {
	return s.update(func(snap *Snapshot) { snap.LastSync = t })
}

func (s *Session) Logout() error {
	s.log.Info("logged out", "user_id", s.UserID())
	return s.update(func(snap *Snapshot) { apply(snap, nil) })
}

// MemoryStorage keeps the snapshot in memory. It is used by tests and by
// one-shot CLI runs that should not touch the session database.
type MemoryStorage struct {
	mu   sync.Mutex
	snap Snapshot
}

func NewMemoryStorage(initial Snapshot) *MemoryStorage {
	return &MemoryStorage{snap: initial}
}

func (m *MemoryStorage) Load() (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap, nil
}

func (m *MemoryStorage) Save(s Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = s
	return nil
}
