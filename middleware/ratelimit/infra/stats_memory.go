package infra

import (
	"context"
	"sync"
	"time"

	"ai-gateway/middleware/ratelimit/domain"
)

// Counters agrupa os contadores por rota.
type Counters struct {
	Requests int64
	Errors   int64
	Denied   int64
}

// MemoryStatsStore é a implementação em memória e autoritativa das estatísticas
// de uso do processo. Os contadores só crescem e o conjunto de identidades só
// aumenta; nada disso sobrevive a um restart.
type MemoryStatsStore struct {
	mu sync.Mutex

	startTime     time.Time
	total         int64
	errors        int64
	rateLimitHits int64
	identities    map[domain.Identity]struct{}

	byRoute map[string]Counters
}

type MemoryStatsOption func(*MemoryStatsStore)

// WithStartTime fixa o início do processo (útil em testes).
func WithStartTime(t time.Time) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.startTime = t }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		startTime:  time.Now(),
		identities: make(map[domain.Identity]struct{}),
		byRoute:    make(map[string]Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordRequest conta uma requisição servida (com ou sem sucesso).
func (s *MemoryStatsStore) RecordRequest(id domain.Identity, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordRequestLocked(id, success)
}

// RecordRateLimitHit conta uma requisição barrada pelo rate limit.
func (s *MemoryStatsStore) RecordRateLimitHit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateLimitHits++
}

// Record implementa domain.StatsStore. Bloqueios (OutcomeDenied) contam apenas
// como rate limit hit e não entram no total de requisições servidas.
func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	route := ev.Method + " " + ev.Path

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.byRoute[route]
	if ev.Outcome == domain.OutcomeDenied {
		s.rateLimitHits++
		c.Denied++
		s.byRoute[route] = c
		return nil
	}

	s.recordRequestLocked(ev.Identity, ev.Outcome.Success())
	c.Requests++
	if !ev.Outcome.Success() {
		c.Errors++
	}
	s.byRoute[route] = c
	return nil
}

func (s *MemoryStatsStore) recordRequestLocked(id domain.Identity, success bool) {
	s.total++
	s.identities[id] = struct{}{}
	if !success {
		s.errors++
	}
}

// Counters implementa domain.CountersReader.
func (s *MemoryStatsStore) Counters() domain.UsageCounters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.UsageCounters{
		TotalRequests:    s.total,
		UniqueIdentities: int64(len(s.identities)),
		Errors:           s.errors,
		RateLimitHits:    s.rateLimitHits,
		StartTime:        s.startTime,
	}
}

func (s *MemoryStatsStore) ByRoute() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.byRoute))
	for k, v := range s.byRoute {
		out[k] = v
	}
	return out
}
