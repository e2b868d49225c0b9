package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PabloGalante/chatlog/internal/domain"
)

// SessionStore is an in-memory domain.SessionStore. It is NOT persistent and is only
// suitable for development / local mode and tests.
//
// The map lock only guards lookup, insert and removal. Each session has its own mutex,
// so mutations of one session serialize while other sessions proceed in parallel.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*entry
	now      func() time.Time
}

type entry struct {
	mu      sync.Mutex
	session *domain.Session
	deleted bool
}

var _ domain.SessionStore = &SessionStore{}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[domain.SessionID]*entry),
		now:      time.Now,
	}
}

// WithClock replaces the store's time source. Tests only.
func (s *SessionStore) WithClock(now func() time.Time) *SessionStore {
	s.now = now
	return s
}

func (s *SessionStore) Create(_ context.Context, owner domain.UserID, title string) (*domain.Session, error) {
	if owner == "" {
		return nil, domain.E(domain.KindUnauthorized, "memory.create", "owner is required")
	}

	id := domain.SessionID(uuid.Must(uuid.NewV7()).String())
	sess := domain.NewSession(id, owner, title, s.now())

	s.mu.Lock()
	s.sessions[id] = &entry{session: sess}
	s.mu.Unlock()

	return sess.Clone(), nil
}

func (s *SessionStore) lookup(id domain.SessionID) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id]
}

// mutate runs fn under the session's own lock after the ownership check.
func (s *SessionStore) mutate(op string, owner domain.UserID, id domain.SessionID, fn func(*domain.Session) error) (*domain.Session, error) {
	e := s.lookup(id)
	if e == nil {
		return nil, domain.NotFound(op, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.deleted || !e.session.OwnedBy(owner) {
		return nil, domain.NotFound(op, id)
	}

	// work on a copy so a failed fn leaves the stored session untouched
	next := e.session.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	e.session = next
	return next.Clone(), nil
}

func (s *SessionStore) Get(_ context.Context, owner domain.UserID, id domain.SessionID) (*domain.Session, error) {
	return s.mutate("memory.get", owner, id, func(*domain.Session) error { return nil })
}

func (s *SessionStore) Append(_ context.Context, owner domain.UserID, id domain.SessionID, turn domain.Turn) (*domain.Session, error) {
	return s.mutate("memory.append", owner, id, func(sess *domain.Session) error {
		return sess.Apply(turn, s.now())
	})
}

func (s *SessionStore) Rename(_ context.Context, owner domain.UserID, id domain.SessionID, title string) (*domain.Session, error) {
	return s.mutate("memory.rename", owner, id, func(sess *domain.Session) error {
		return sess.Rename(title, s.now())
	})
}

func (s *SessionStore) Delete(_ context.Context, owner domain.UserID, id domain.SessionID) error {
	const op = "memory.delete"

	e := s.lookup(id)
	if e == nil {
		return domain.NotFound(op, id)
	}

	e.mu.Lock()
	if e.deleted || !e.session.OwnedBy(owner) {
		e.mu.Unlock()
		return domain.NotFound(op, id)
	}
	e.deleted = true
	e.mu.Unlock()

	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	return nil
}

func (s *SessionStore) List(_ context.Context, owner domain.UserID) ([]*domain.Session, error) {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	result := make([]*domain.Session, 0)
	for _, e := range entries {
		e.mu.Lock()
		if !e.deleted && e.session.OwnedBy(owner) {
			result = append(result, e.session.Clone())
		}
		e.mu.Unlock()
	}

	domain.SortNewestFirst(result)
	return result, nil
}

func (s *SessionStore) Close() error { return nil }
