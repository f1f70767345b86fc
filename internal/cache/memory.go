package cache

import (
	"context"
	"path"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is an in-process EphemeralStore. It backs single-node runs
// without Redis and serves as the store double in tests.
type MemoryStore struct {
	mu      sync.Mutex
	values  map[string]memEntry
	hashes  map[string]map[string]string
	expires map[string]time.Time
}

type memEntry struct {
	value     string
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:  make(map[string]memEntry),
		hashes:  make(map[string]map[string]string),
		expires: make(map[string]time.Time),
	}
}

func (s *MemoryStore) expired(key string) bool {
	if e, ok := s.values[key]; ok && !e.expiresAt.After(time.Now()) {
		delete(s.values, key)
		return true
	}
	if at, ok := s.expires[key]; ok && !at.After(time.Now()) {
		delete(s.hashes, key)
		delete(s.expires, key)
		return true
	}
	return false
}

func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = memEntry{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (s *MemoryStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expired(key)
	if _, ok := s.values[key]; ok {
		return false, nil
	}
	s.values[key] = memEntry{value: value, expiresAt: time.Now().Add(ttl)}
	return true, nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expired(key)
	e, ok := s.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return e.value, nil
}

func (s *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.values, k)
		delete(s.hashes, k)
		delete(s.expires, k)
	}
	return nil
}

func (s *MemoryStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expired(key)
	if e, ok := s.values[key]; ok {
		return time.Until(e.expiresAt), nil
	}
	if at, ok := s.expires[key]; ok {
		return time.Until(at), nil
	}
	return 0, ErrNotFound
}

func (s *MemoryStore) HSet(ctx context.Context, key, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expired(key)
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string)
		s.hashes[key] = h
		s.expires[key] = time.Now().Add(defaultHashTTL)
	}
	h[field] = value
	return nil
}

func (s *MemoryStore) HDel(ctx context.Context, key string, fields ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.hashes[key]; ok {
		for _, f := range fields {
			delete(h, f)
		}
	}
	return nil
}

func (s *MemoryStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expired(key)
	result := make(map[string]string, len(s.hashes[key]))
	for f, v := range s.hashes[key] {
		result[f] = v
	}
	return result, nil
}

func (s *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	at := time.Now().Add(ttl)
	if e, ok := s.values[key]; ok {
		e.expiresAt = at
		s.values[key] = e
	}
	if _, ok := s.hashes[key]; ok {
		s.expires[key] = at
	}
	return nil
}

func (s *MemoryStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expired(key)
	n := int64(0)
	if e, ok := s.values[key]; ok {
		n, _ = strconv.ParseInt(e.value, 10, 64)
		n++
		s.values[key] = memEntry{value: strconv.FormatInt(n, 10), expiresAt: e.expiresAt}
		return n, nil
	}
	s.values[key] = memEntry{value: "1", expiresAt: time.Now().Add(ttl)}
	return 1, nil
}

func (s *MemoryStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	match := func(k string) bool {
		ok, _ := path.Match(pattern, k)
		return ok
	}
	for k := range s.values {
		if !s.expired(k) && match(k) {
			keys = append(keys, k)
		}
	}
	for k := range s.hashes {
		if !s.expired(k) && match(k) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

var _ EphemeralStore = (*MemoryStore)(nil)
