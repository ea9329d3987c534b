package infra

import (
	"golang.org/x/time/rate"
)

// NewPacer cria um token bucket (x/time/rate) que espaça as chamadas ao serviço
// de IA. rps <= 0 desliga o controle (rate.Inf).
//
// *rate.Limiter já satisfaz domain.Pacer via Wait(ctx).
func NewPacer(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
