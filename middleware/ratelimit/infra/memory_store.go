package infra

import (
	"context"
	"sync"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// DefaultSweepEvery é o intervalo padrão da limpeza de janelas expiradas.
const DefaultSweepEvery = 5 * time.Minute

// MemoryCounterStore é uma loja de contadores em janela FIXA, por processo.
//
// Serve de fallback quando não há loja compartilhada: cada instância aplica a
// cota sozinha, então a capacidade global efetiva é limite × instâncias.
type MemoryCounterStore struct {
	mu         sync.Mutex
	windows    map[string]*windowRecord
	sweepEvery time.Duration
	now        func() time.Time
}

type windowRecord struct {
	count   int
	resetAt time.Time
}

type MemoryStoreOption func(*MemoryCounterStore)

func WithSweepEvery(d time.Duration) MemoryStoreOption {
	return func(s *MemoryCounterStore) { s.sweepEvery = d }
}

// WithMemoryClock troca a fonte de tempo (testes).
func WithMemoryClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryCounterStore) { s.now = now }
}

func NewMemoryCounterStore(opts ...MemoryStoreOption) *MemoryCounterStore {
	s := &MemoryCounterStore{
		windows:    make(map[string]*windowRecord),
		sweepEvery: DefaultSweepEvery,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CheckAndIncrement implementa domain.CounterStore.
//
// O registro é criado na primeira requisição e sobrescrito quando a janela
// expira. Incrementa sempre; allowed = count <= limit.
func (s *MemoryCounterStore) CheckAndIncrement(_ context.Context, key string, limit int, window time.Duration) domain.Count {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.windows[key]
	if !ok || !now.Before(rec.resetAt) {
		rec = &windowRecord{resetAt: now.Add(window)}
		s.windows[key] = rec
	}
	rec.count++

	return domain.Count{
		Allowed:   rec.count <= limit,
		Effective: rec.count,
		ResetAt:   rec.resetAt,
		Backend:   domain.BackendMemory,
	}
}

// Len devolve quantos registros estão em memória.
func (s *MemoryCounterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// Sweep remove todos os registros cuja janela já expirou.
func (s *MemoryCounterStore) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, rec := range s.windows {
		if !now.Before(rec.resetAt) {
			delete(s.windows, k)
			removed++
		}
	}
	return removed
}

// StartJanitor inicia uma goroutine que chama Sweep periodicamente.
// Pare cancelando o contexto.
func (s *MemoryCounterStore) StartJanitor(ctx context.Context) {
	if s.sweepEvery <= 0 {
		return
	}

	t := time.NewTicker(s.sweepEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Sweep()
			}
		}
	}()
}
