package application

import (
	"context"
	"log/slog"
	"math"
	"time"

	"ai-gateway/middleware/ratelimit/domain"
)

// minUptimeHours evita divisão por zero logo após o start.
const minUptimeHours = 0.001

// UsageService agrega as estatísticas de uso: um store autoritativo (memória)
// e espelhos opcionais (Redis, Prometheus). Falha de espelho é best-effort:
// vai para o log e nunca derruba a requisição.
type UsageService struct {
	Primary interface {
		domain.StatsStore
		domain.CountersReader
	}
	Mirrors []domain.StatsStore
	Active  domain.ActiveCounter
	Logger  *slog.Logger
}

// Record registra um desfecho terminal. Deve ser chamado exatamente uma vez
// por requisição.
func (u UsageService) Record(ctx context.Context, ev domain.StatsEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	if u.Primary != nil {
		_ = u.Primary.Record(ctx, ev)
	}
	for _, m := range u.Mirrors {
		if m == nil {
			continue
		}
		if err := m.Record(ctx, ev); err != nil {
			u.logger().Warn("usage mirror record failed",
				"error", err,
				"outcome", string(ev.Outcome))
		}
	}
}

// Snapshot monta a foto pontual das estatísticas. Duas chamadas sem
// requisições no meio só diferem nos campos derivados de uptime.
func (u UsageService) Snapshot(now time.Time) domain.UsageSnapshot {
	var c domain.UsageCounters
	if u.Primary != nil {
		c = u.Primary.Counters()
	}
	if c.StartTime.IsZero() {
		c.StartTime = now
	}

	uptime := now.Sub(c.StartTime)
	if uptime < 0 {
		uptime = 0
	}
	hours := math.Max(uptime.Hours(), minUptimeHours)

	active := 0
	if u.Active != nil {
		active = u.Active.Active()
	}

	return domain.UsageSnapshot{
		TotalRequests:         c.TotalRequests,
		UniqueIdentities:      c.UniqueIdentities,
		Errors:                c.Errors,
		RateLimitHits:         c.RateLimitHits,
		UptimeSeconds:         math.Floor(uptime.Seconds()),
		Uptime:                uptime.Truncate(time.Second).String(),
		RequestsPerUptimeHour: math.Round(float64(c.TotalRequests)/hours*100) / 100,
		ActiveIdentities:      active,
		StartTime:             c.StartTime.UTC().Format(time.RFC3339),
	}
}

func (u UsageService) logger() *slog.Logger {
	if u.Logger != nil {
		return u.Logger
	}
	return slog.Default()
}
