package application

import (
	"context"
	"time"

	"ai-gateway/middleware/ratelimit/domain"
)

// ConcurrencyService concentra a regra de acesso ao serviço de IA: espera um
// token do Pacer (se houver) e depois adquire uma vaga do Pool com timeout,
// sem saber nada sobre HTTP.
type ConcurrencyService struct {
	Pool           domain.SlotPool
	Pacer          domain.Pacer
	AcquireTimeout time.Duration
}

// Acquire tenta adquirir uma vaga.
// - Se `AcquireTimeout <= 0`, espera indefinidamente (até ctx cancelar).
// - Se `AcquireTimeout > 0`, espera até o timeout (pacer e pool somados).
// Retorna (release, ok). Se ok=false, nenhuma vaga foi adquirida.
func (s ConcurrencyService) Acquire(ctx context.Context) (func(), bool) {
	if s.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.AcquireTimeout)
		defer cancel()
	}

	if s.Pacer != nil {
		if err := s.Pacer.Wait(ctx); err != nil {
			return nil, false
		}
	}

	if s.Pool == nil {
		return func() {}, true
	}
	return s.Pool.Acquire(ctx)
}
