package session

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const defaultMemorySize = 4096

// MemoryStore keeps sessions in an expiring LRU, so abandoned conversations
// fall back to idle after ttl.
type MemoryStore struct {
	cache *expirable.LRU[string, Session]
}

func NewMemoryStore(size int, ttl time.Duration) *MemoryStore {
	if size <= 0 {
		size = defaultMemorySize
	}
	return &MemoryStore{
		cache: expirable.NewLRU[string, Session](size, nil, ttl),
	}
}

func (s *MemoryStore) Get(_ context.Context, chat string) (Session, error) {
	sess, ok := s.cache.Get(chat)
	if !ok {
		return Session{}, ErrNoSession
	}
	return sess, nil
}

func (s *MemoryStore) Set(_ context.Context, chat string, sess Session) error {
	s.cache.Add(chat, sess)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, chat string) error {
	s.cache.Remove(chat)
	return nil
}

// Len reports the number of live sessions.
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}
