package infra

import (
	"context"
	"errors"
	"sync"

	"admission-gateway/middleware/ratelimit/domain"
)

type Counters struct {
	Allowed int64
	Denied  int64
}

func (c *Counters) add(allowed bool) {
	if allowed {
		c.Allowed++
		return
	}
	c.Denied++
}

// MemoryStatsStore é uma implementação simples em memória.
// Útil para testes e desenvolvimento.
//
// Não faz expiração: com WithTrackIdentities(true) cresce com o número de chamadores.
type MemoryStatsStore struct {
	mu         sync.Mutex
	total      Counters
	byEndpoint map[string]Counters
	byBackend  map[domain.Backend]Counters
	byIdentity map[string]Counters

	trackIdentities bool
}

type MemoryStatsOption func(*MemoryStatsStore)

func WithTrackIdentities(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackIdentities = track }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		byEndpoint: make(map[string]Counters),
		byBackend:  make(map[domain.Backend]Counters),
		byIdentity: make(map[string]Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total.add(ev.Allowed)

	c := s.byEndpoint[ev.Endpoint]
	c.add(ev.Allowed)
	s.byEndpoint[ev.Endpoint] = c

	if ev.Backend != "" {
		b := s.byBackend[ev.Backend]
		b.add(ev.Allowed)
		s.byBackend[ev.Backend] = b
	}

	if s.trackIdentities && ev.Identity != "" {
		k := s.byIdentity[ev.Identity]
		k.add(ev.Allowed)
		s.byIdentity[ev.Identity] = k
	}
	return nil
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *MemoryStatsStore) ByEndpoint() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyCounters(s.byEndpoint)
}

func (s *MemoryStatsStore) ByBackend() map[domain.Backend]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyCounters(s.byBackend)
}

func (s *MemoryStatsStore) ByIdentity() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyCounters(s.byIdentity)
}

func copyCounters[K comparable](in map[K]Counters) map[K]Counters {
	out := make(map[K]Counters, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// StatsFanout repassa cada evento para várias lojas. Todas são chamadas mesmo
// quando alguma falha; os erros voltam juntos.
type StatsFanout []domain.StatsStore

func (f StatsFanout) Record(ctx context.Context, ev domain.StatsEvent) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
