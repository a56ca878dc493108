package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Key prefixes shared by the components that correlate an outbound request
// with its eventual inbound callback.
const (
	PrefixLinkCareContext  = "link_care_context__"
	PrefixLinkToken        = "link_token__"
	PrefixUserLinking      = "user_initiated_linking__"
	PrefixPatientShare     = "patient_share__"
	KeyGatewaySessionToken = "gateway_session_token"
)

// Store is a TTL-scoped key/value store. It bridges the gap between an
// outbound call and its asynchronous callback; a miss means the correlation
// is expired or unknown and is terminal for that callback.
type Store interface {
	Set(key string, value any, ttl time.Duration)
	// SetNX stores the value only when the key is absent (or expired) and
	// reports whether the write happened. Used for single-occupancy tokens.
	SetNX(key string, value any, ttl time.Duration) bool
	Get(key string) (any, bool)
	Delete(key string)
	Keys(prefix string) []string
}

type entry struct {
	value     any
	expiresAt time.Time
}

// InMemoryStore is a thread-safe in-memory Store with lazy expiration.
type InMemoryStore struct {
	entries map[string]*entry
	mu      sync.RWMutex
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string]*entry)}
}

func (s *InMemoryStore) Set(key string, value any, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &entry{value: value, expiresAt: time.Now().Add(ttl)}
}

func (s *InMemoryStore) SetNX(key string, value any, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && time.Now().Before(e.expiresAt) {
		return false
	}
	s.entries[key] = &entry{value: value, expiresAt: time.Now().Add(ttl)}
	return true
}

// Get retrieves a value. Performs lazy expiration: deletes the entry and
// returns a miss if it has expired.
func (s *InMemoryStore) Get(key string) (any, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		s.deleteIfExpired(key)
		return nil, false
	}
	return e.value, true
}

// deleteIfExpired re-checks expiry under the write lock before removing the
// entry; a Set that raced in after the read must win.
func (s *InMemoryStore) deleteIfExpired(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && time.Now().After(e.expiresAt) {
		delete(s.entries, key)
	}
}

func (s *InMemoryStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Keys returns the unexpired keys matching the given prefix.
func (s *InMemoryStore) Keys(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	var keys []string
	for k, e := range s.entries {
		if strings.HasPrefix(k, prefix) && now.Before(e.expiresAt) {
			keys = append(keys, k)
		}
	}
	return keys
}

// StartCleanup runs a background goroutine that periodically removes expired
// entries. It stops when the context is cancelled.
func (s *InMemoryStore) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.mu.Lock()
				now := time.Now()
				for k, e := range s.entries {
					if now.After(e.expiresAt) {
						delete(s.entries, k)
					}
				}
				s.mu.Unlock()
			}
		}
	}()
}
