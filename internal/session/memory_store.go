package session

import (
	"context"
	"sync"
	"time"

	"github.com/geocoder89/userauth/internal/cache"
)

// MemoryStore is the single-process fallback used when no Redis is
// configured. Sessions expire through the cache's per-entry TTL.
type MemoryStore struct {
	sessions *cache.Cache
	now      func() time.Time

	mu     sync.Mutex
	byUser map[string]map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return newMemoryStore(time.Now)
}

func newMemoryStore(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		sessions: cache.New(24 * time.Hour).WithClock(now),
		now:      now,
		byUser:   make(map[string]map[string]struct{}),
	}
}

func (s *MemoryStore) Create(_ context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// the entry and its index change together so a concurrent
	// RevokeAllForUser sees both or neither
	s.sessions.Sweep()
	s.sessions.SetWithTTL(sess.ID, sess, sess.ExpiresAt.Sub(s.now()))

	ids, ok := s.byUser[sess.UserID]
	for id := range ids {
		// forget sessions that expired on their own
		if _, live := s.sessions.Get(id); !live {
			delete(ids, id)
		}
	}
	if !ok {
		ids = make(map[string]struct{})
		s.byUser[sess.UserID] = ids
	}
	ids[sess.ID] = struct{}{}

	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Session, error) {
	v, ok := s.sessions.Get(id)
	if !ok {
		return Session{}, ErrNotFound
	}

	return v.(Session), nil
}

func (s *MemoryStore) Revoke(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.sessions.Get(id)
	s.sessions.Delete(id)
	if ok {
		delete(s.byUser[v.(Session).UserID], id)
	}

	return nil
}

func (s *MemoryStore) RevokeAllForUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.byUser[userID] {
		s.sessions.Delete(id)
	}
	delete(s.byUser, userID)

	return nil
}
