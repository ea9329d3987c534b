package domain

import (
	"context"
	"time"
)

// Outcome é o estado terminal de uma requisição no gateway.
type Outcome string

const (
	OutcomeSucceeded       Outcome = "succeeded"
	OutcomeUpstreamFailed  Outcome = "upstream_failed"
	OutcomeRejectedInvalid Outcome = "rejected_invalid"
	OutcomeDenied          Outcome = "denied"
	OutcomeNotConfigured   Outcome = "not_configured"
	OutcomeInternalError   Outcome = "internal_error"
)

// Success indica se o desfecho conta como requisição bem-sucedida.
func (o Outcome) Success() bool { return o == OutcomeSucceeded }

// StatsEvent representa um desfecho terminal de uma requisição.
//
// Ele é propositalmente "agnóstico de HTTP": Method/Path são strings genéricas.
//
// Observação: cuidado com cardinalidade (ex.: salvar Identity sem controle pode
// explodir o número de séries/chaves em uma base como Redis/Prometheus).
type StatsEvent struct {
	Identity Identity
	Outcome  Outcome

	Method string
	Path   string

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas de uso.
//
// Implementações podem armazenar em Redis, Prometheus, memória, etc.
// O chamador deve tratar erro como best-effort (não derrubar request).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}

// UsageCounters são os contadores acumulados do processo. Nunca diminuem.
type UsageCounters struct {
	TotalRequests    int64
	UniqueIdentities int64
	Errors           int64
	RateLimitHits    int64
	StartTime        time.Time
}

// CountersReader lê os contadores acumulados de um StatsStore autoritativo.
type CountersReader interface {
	Counters() UsageCounters
}

// UsageSnapshot é a foto pontual servida no endpoint de estatísticas.
type UsageSnapshot struct {
	TotalRequests         int64   `json:"totalRequests"`
	UniqueIdentities      int64   `json:"uniqueIdentityCount"`
	Errors                int64   `json:"errorCount"`
	RateLimitHits         int64   `json:"rateLimitHitCount"`
	UptimeSeconds         float64 `json:"uptimeSeconds"`
	Uptime                string  `json:"uptime"`
	RequestsPerUptimeHour float64 `json:"requestsPerUptimeHour"`
	ActiveIdentities      int     `json:"activeIdentityCount"`
	StartTime             string  `json:"startTime"`
}
