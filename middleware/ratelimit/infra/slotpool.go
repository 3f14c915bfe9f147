package infra

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// SlotPool é o domain.SlotPool do gateway, sobre semaphore.Weighted.
type SlotPool struct {
	sem      *semaphore.Weighted
	max      int64
	inFlight atomic.Int64
}

func NewSlotPool(max int) *SlotPool {
	return &SlotPool{sem: semaphore.NewWeighted(int64(max)), max: int64(max)}
}

func (p *SlotPool) Acquire(ctx context.Context) (func(), bool) {
	if !p.sem.TryAcquire(1) {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return nil, false
		}
	}
	p.inFlight.Add(1)

	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			p.inFlight.Add(-1)
			p.sem.Release(1)
		}
	}, true
}

// InFlight devolve quantas vagas estão ocupadas agora.
func (p *SlotPool) InFlight() int { return int(p.inFlight.Load()) }

func (p *SlotPool) Capacity() int { return int(p.max) }
