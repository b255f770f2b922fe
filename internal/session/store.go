package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

type Store struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, *Session]
}

func NewStore(size int, ttl time.Duration) *Store {
	return &Store{cache: expirable.NewLRU[string, *Session](size, nil, ttl)}
}

// New creates a session with a fresh random id.
func (s *Store) New() *Session {
	sess := newSession(uuid.NewString())
	s.cache.Add(sess.id, sess)
	return sess
}

// Get returns the session for id. An id that is no longer cached gets a new
// empty session under the same id; restored reports that case.
func (s *Store) Get(id string) (sess *Session, restored bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.cache.Get(id); ok {
		return sess, false
	}
	sess = newSession(id)
	s.cache.Add(id, sess)
	return sess, true
}

func (s *Store) Remove(id string) {
	s.cache.Remove(id)
}

func (s *Store) Len() int {
	return s.cache.Len()
}
