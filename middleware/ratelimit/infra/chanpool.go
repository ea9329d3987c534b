package infra

import (
	"context"
	"sync"
)

// UpstreamSlots limita as chamadas simultâneas ao serviço de IA com um
// semáforo de channel. Implementa domain.SlotPool.
type UpstreamSlots struct {
	sem chan struct{}
}

// NewChanPool cria o semáforo com `max` vagas (max >= 1).
func NewChanPool(max int) *UpstreamSlots {
	if max < 1 {
		max = 1
	}
	return &UpstreamSlots{sem: make(chan struct{}, max)}
}

// Acquire espera uma vaga ou o fim do ctx. O release devolvido é idempotente.
func (p *UpstreamSlots) Acquire(ctx context.Context) (func(), bool) {
	if ctx.Err() != nil {
		return nil, false
	}
	select {
	case p.sem <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-p.sem }) }, true
	case <-ctx.Done():
		return nil, false
	}
}

// InFlight é o número de vagas ocupadas agora.
func (p *UpstreamSlots) InFlight() int { return len(p.sem) }

func (p *UpstreamSlots) Cap() int { return cap(p.sem) }
