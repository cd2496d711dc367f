package infra

import (
	"context"
	"sync"

	"nightmate-runtime/middleware/ratelimit/domain"
)

type Counters struct {
	Allowed int64
	Denied  int64
}

// MemoryStatsStore é uma implementação simples em memória.
// Útil para testes, desenvolvimento e para o runtime sem Redis.
//
// Não faz expiração: a cardinalidade é limitada pelo número de endpoints.
type MemoryStatsStore struct {
	mu       sync.Mutex
	total    Counters
	byTarget map[string]Counters
	byReason map[string]int64
}

func NewMemoryStatsStore() *MemoryStatsStore {
	return &MemoryStatsStore{
		byTarget: make(map[string]Counters),
		byReason: make(map[string]int64),
	}
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	target := ev.Method + " " + ev.Path

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.byTarget[target]
	if ev.Allowed {
		s.total.Allowed++
		c.Allowed++
	} else {
		s.total.Denied++
		c.Denied++
	}
	s.byTarget[target] = c

	reason := ev.Reason
	if reason == "" {
		reason = domain.ReasonAllowed
	}
	s.byReason[reason]++
	return nil
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *MemoryStatsStore) ByTarget() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.byTarget))
	for k, v := range s.byTarget {
		out[k] = v
	}
	return out
}

func (s *MemoryStatsStore) ByReason() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.byReason))
	for k, v := range s.byReason {
		out[k] = v
	}
	return out
}
