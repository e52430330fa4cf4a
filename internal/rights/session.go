package rights

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"sync"
	"time"

	certderrors "certd/internal/errors"
)

type session struct {
	caller    Caller
	expiresAt time.Time
}

// SessionStore maps opaque bearer tokens to authenticated callers.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]session
	ttl      time.Duration
	now      func() time.Time
}

func NewSessionStore(ttl time.Duration) *SessionStore {
	return &SessionStore{sessions: make(map[string]session), ttl: ttl, now: time.Now}
}

func createToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Create opens a session for caller. The returned caller carries the token.
func (s *SessionStore) Create(caller Caller) (Caller, time.Time, error) {
	token, err := createToken()
	if err != nil {
		return Caller{}, time.Time{}, err
	}
	caller.AuthToken = token
	expiresAt := s.now().Add(s.ttl)
	s.mu.Lock()
	s.sessions[token] = session{caller: caller, expiresAt: expiresAt}
	s.mu.Unlock()
	return caller, expiresAt, nil
}

// Lookup resolves token. Expired sessions are dropped.
func (s *SessionStore) Lookup(token string) (Caller, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Caller{}, certderrors.ErrUnauthorized
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return Caller{}, certderrors.ErrUnauthorized
	}
	if !s.now().Before(sess.expiresAt) {
		delete(s.sessions, token)
		return Caller{}, certderrors.ErrSessionExpired
	}
	return sess.caller, nil
}

func (s *SessionStore) Delete(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

// Prune drops expired sessions.
func (s *SessionStore) Prune() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for token, sess := range s.sessions {
		if !now.Before(sess.expiresAt) {
			delete(s.sessions, token)
		}
	}
}
