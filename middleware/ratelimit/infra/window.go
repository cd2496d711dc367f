package infra

import (
	"sync"

	"nightmate-runtime/middleware/ratelimit/domain"
)

// MaxBucketAge é a idade (em buckets) a partir da qual uma janela é descartada.
const MaxBucketAge = 2

type windowKey struct {
	key    domain.Key
	bucket domain.Bucket
}

// WindowStore é uma implementação em memória de domain.WindowStore.
type WindowStore struct {
	mu      sync.Mutex
	entries map[windowKey]int
}

func NewWindowStore() *WindowStore {
	return &WindowStore{entries: make(map[windowKey]int)}
}

// Increment implementa domain.WindowStore.
func (s *WindowStore) Increment(key domain.Key, bucket domain.Bucket, ceiling int) (int, bool) {
	k := windowKey{key: key, bucket: bucket}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.entries[k]
	if n >= ceiling {
		return n, false
	}
	n++
	s.entries[k] = n
	return n, true
}

// Refund implementa domain.WindowStore.
func (s *WindowStore) Refund(key domain.Key, bucket domain.Bucket) {
	k := windowKey{key: key, bucket: bucket}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch n := s.entries[k]; {
	case n > 1:
		s.entries[k] = n - 1
	case n == 1:
		delete(s.entries, k)
	}
}

// Count devolve o contador atual de (key, bucket).
func (s *WindowStore) Count(key domain.Key, bucket domain.Bucket) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[windowKey{key: key, bucket: bucket}]
}

func (s *WindowStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Prune remove janelas com mais de MaxBucketAge buckets em relação a current.
func (s *WindowStore) Prune(current domain.Bucket) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k := range s.entries {
		if current-k.bucket > MaxBucketAge {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}
