package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"trivia-forge-service/internal/domain"
)

// SessionStore is the in-memory SessionStore with TTL and version-checked
// conditional writes, matching the redis implementation's semantics.
type SessionStore struct {
	ttl   time.Duration
	clock func() time.Time

	mu       sync.Mutex
	sessions map[string]storedSession
}

type storedSession struct {
	data      []byte
	version   int64
	expiresAt time.Time
}

func NewSessionStore(ttl time.Duration) *SessionStore {
	return &SessionStore{
		ttl:      ttl,
		clock:    time.Now,
		sessions: make(map[string]storedSession),
	}
}

// WithClock is test-only.
func (s *SessionStore) WithClock(clock func() time.Time) *SessionStore {
	s.clock = clock
	return s
}

func (s *SessionStore) Put(_ context.Context, session *domain.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = storedSession{
		data:      data,
		version:   session.Version,
		expiresAt: s.clock().Add(s.ttl),
	}
	return nil
}

func (s *SessionStore) Get(_ context.Context, sessionID string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.sessions[sessionID]
	if !ok || !stored.expiresAt.After(s.clock()) {
		return nil, domain.ErrSessionNotFound
	}
	var session domain.Session
	if err := json.Unmarshal(stored.data, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *SessionStore) UpdateIf(_ context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.sessions[session.ID]
	if !ok || !stored.expiresAt.After(s.clock()) {
		return domain.ErrSessionNotFound
	}
	if stored.version != session.Version {
		return domain.ErrSessionConflict
	}
	session.Version++
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	stored.data = data
	stored.version = session.Version
	s.sessions[session.ID] = stored
	return nil
}

func (s *SessionStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}
