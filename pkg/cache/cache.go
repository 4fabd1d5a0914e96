// Package cache deduplicates identical requests within a TTL window.
// A hit short-circuits the entire dispatch pipeline: no budget is consumed
// and no backend is invoked.
package cache

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/zen-systems/routegate/pkg/task"
)

// Fingerprint returns a stable hash identifying a cacheable request.
// Fields are length-delimited so no two distinct triples collide by
// concatenation.
func Fingerprint(category string, risk task.Risk, prompt string) string {
	h := blake3.New()
	for _, part := range []string{category, string(risk), prompt} {
		var n [4]byte
		n[0] = byte(len(part) >> 24)
		n[1] = byte(len(part) >> 16)
		n[2] = byte(len(part) >> 8)
		n[3] = byte(len(part))
		h.Write(n[:])
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}

type entry struct {
	response  task.Response
	expiresAt time.Time
}

// Store is an in-memory response cache keyed by request fingerprint.
// It is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// New creates an empty cache.
func New() *Store {
	return NewWithClock(time.Now)
}

// NewWithClock creates an empty cache with an injectable clock.
func NewWithClock(now func() time.Time) *Store {
	return &Store{entries: make(map[string]entry), now: now}
}

// Get returns the cached response for a fingerprint if it has not expired.
// Expired entries are evicted on lookup.
func (s *Store) Get(fingerprint string) (task.Response, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[fingerprint]
	if !ok {
		return task.Response{}, false
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, fingerprint)
		return task.Response{}, false
	}
	return e.response, true
}

// Put stores a response, overwriting any prior entry for the fingerprint.
func (s *Store) Put(fingerprint string, response task.Response, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[fingerprint] = entry{response: response, expiresAt: s.now().Add(ttl)}
}

// Clear drops all entries.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]entry)
}

// Len returns the number of stored entries, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
