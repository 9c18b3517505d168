package auth

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/droverhq/drover/internal/storage/jsonstore"
)

// SessionStatus is the login state for one provider.
type SessionStatus string

const (
	SessionLoggedIn  SessionStatus = "logged_in"
	SessionLoggedOut SessionStatus = "logged_out"
)

// Session records the auth state for a provider.
type Session struct {
	Provider  string        `json:"provider"`
	Status    SessionStatus `json:"status"`
	Method    string        `json:"method"` // "api_key" or "login"
	CreatedAt int64         `json:"created_at"`
	UpdatedAt int64         `json:"updated_at"`
}

// Sessions is the persistent login session registry.
type Sessions struct {
	mu       sync.Mutex
	store    *jsonstore.Store
	sessions map[string]*Session
	now      func() time.Time
}

// OpenSessions loads auth sessions from path.
func OpenSessions(path string) (*Sessions, error) {
	store, err := jsonstore.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sessions store: %w", err)
	}

	s := &Sessions{store: store, sessions: make(map[string]*Session), now: time.Now}
	for _, provider := range store.Keys() {
		var sess Session
		if ok, err := store.Get(provider, &sess); err == nil && ok {
			s.sessions[provider] = &sess
		}
	}
	return s, nil
}

// Login records a logged-in session for a provider.
func (s *Sessions) Login(provider, method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().Unix()
	sess, ok := s.sessions[provider]
	if !ok {
		sess = &Session{Provider: provider, CreatedAt: now}
		s.sessions[provider] = sess
	}
	sess.Status = SessionLoggedIn
	sess.Method = method
	sess.UpdatedAt = now
	return s.store.Set(provider, sess)
}

// Logout marks a provider's session logged out. Unknown providers are a no-op.
func (s *Sessions) Logout(provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[provider]
	if !ok {
		return nil
	}
	sess.Status = SessionLoggedOut
	sess.UpdatedAt = s.now().Unix()
	return s.store.Set(provider, sess)
}

// Get returns the session for a provider, or false.
func (s *Sessions) Get(provider string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[provider]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// List returns all sessions sorted by provider name.
func (s *Sessions) List() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}
