package infra

import (
	"fmt"
	"sync"
	"time"

	"ai-gateway/middleware/ratelimit/domain"
)

// Ledger é uma implementação de infra baseada em janela deslizante (log de
// timestamps) com vários tiers por identidade e limpeza periódica.
//
// Um único mutex protege o mapa inteiro: poda, checagem e append de todos os
// tiers de uma identidade acontecem na mesma seção crítica.
type Ledger struct {
	mu      sync.Mutex
	tiers   []domain.Tier
	entries map[domain.Identity]*ledgerEntry
	clock   domain.Clock

	// sweepEvery: a cada N chamadas de CheckAndRecord roda um Sweep.
	sweepEvery int
	calls      int

	cleanupEvery time.Duration
}

type ledgerEntry struct {
	// um slice por tier, na mesma ordem de Ledger.tiers, em ordem cronológica.
	windows [][]time.Time
}

type LedgerOption func(*Ledger)

func WithSweepEvery(n int) LedgerOption {
	return func(l *Ledger) { l.sweepEvery = n }
}

func WithCleanupEvery(d time.Duration) LedgerOption {
	return func(l *Ledger) { l.cleanupEvery = d }
}

func WithClock(c domain.Clock) LedgerOption {
	return func(l *Ledger) { l.clock = c }
}

func NewLedger(tiers []domain.Tier, opts ...LedgerOption) (*Ledger, error) {
	if err := domain.ValidateTiers(tiers); err != nil {
		return nil, fmt.Errorf("invalid tiers: %w", err)
	}

	l := &Ledger{
		tiers:        append([]domain.Tier(nil), tiers...),
		entries:      make(map[domain.Identity]*ledgerEntry),
		clock:        SystemClock{},
		sweepEvery:   100,
		cleanupEvery: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *Ledger) Tiers() []domain.Tier { return append([]domain.Tier(nil), l.tiers...) }
func (l *Ledger) CleanupEvery() time.Duration { return l.cleanupEvery }
func (l *Ledger) SweepEvery() int { return l.sweepEvery }

// CheckAndRecord implementa domain.Ledger.
//
// Para cada tier, em ordem: poda os timestamps fora da janela e, se o que sobrou
// já atingiu o máximo, bloqueia sem registrar nada em nenhum tier. Se nenhum
// tier bloquear, registra `now` em todos.
//
// `now` é lido fora do lock pelo chamador; se chegar antes do último registro
// da identidade, vale o último registro, para manter cada tier em ordem
// cronológica.
func (l *Ledger) CheckAndRecord(id domain.Identity, now time.Time) domain.Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls++
	if l.sweepEvery > 0 && l.calls%l.sweepEvery == 0 {
		defer l.sweepLocked(now)
	}

	ent, ok := l.entries[id]
	if !ok {
		ent = &ledgerEntry{windows: make([][]time.Time, len(l.tiers))}
		l.entries[id] = ent
	}
	if last, ok := ent.last(); ok && now.Before(last) {
		now = last
	}

	for i, t := range l.tiers {
		ent.windows[i] = prune(ent.windows[i], now.Add(-t.Window))
		if len(ent.windows[i]) >= t.Max {
			return domain.Decision{
				Allowed:    false,
				Tier:       t.Name,
				Max:        t.Max,
				Window:     t.Window,
				RetryAfter: t.Window,
			}
		}
	}

	for i := range l.tiers {
		ent.windows[i] = append(ent.windows[i], now)
	}
	return domain.Decision{Allowed: true, At: now}
}

// Release implementa domain.Ledger: remove um timestamp igual a `at` de cada
// tier da identidade.
func (l *Ledger) Release(id domain.Identity, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ent, ok := l.entries[id]
	if !ok {
		return
	}
	for i, w := range ent.windows {
		for j := len(w) - 1; j >= 0; j-- {
			if w[j].Equal(at) {
				ent.windows[i] = append(w[:j], w[j+1:]...)
				break
			}
		}
	}
	if ent.empty() {
		delete(l.entries, id)
	}
}

// Active implementa domain.ActiveCounter.
func (l *Ledger) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Counts devolve quantos timestamps cada tier guarda hoje para a identidade,
// sem podar.
func (l *Ledger) Counts(id domain.Identity) map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]int, len(l.tiers))
	ent, ok := l.entries[id]
	for i, t := range l.tiers {
		if ok {
			out[t.Name] = len(ent.windows[i])
		} else {
			out[t.Name] = 0
		}
	}
	return out
}

// Sweep poda todas as identidades e remove as que ficaram vazias em todos os
// tiers. Retorna quantas foram removidas.
func (l *Ledger) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sweepLocked(now)
}

func (l *Ledger) sweepLocked(now time.Time) int {
	removed := 0
	for id, ent := range l.entries {
		for i, t := range l.tiers {
			ent.windows[i] = prune(ent.windows[i], now.Add(-t.Window))
		}
		if ent.empty() {
			delete(l.entries, id)
			removed++
		}
	}
	return removed
}

// StartJanitor inicia uma goroutine que varre identidades vazias periodicamente.
// Pare cancelando o contexto.
func (l *Ledger) StartJanitor(ctx DoneContext) {
	if l.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(l.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				l.Sweep(l.clock.Now())
			}
		}
	}()
}

// DoneContext é o mínimo necessário para aceitar context.Context sem importar context aqui.
// (Permite reuso em libs sem acoplar.)
type DoneContext interface {
	Done() <-chan struct{}
}

// last devolve o registro mais recente entre todos os tiers.
func (e *ledgerEntry) last() (time.Time, bool) {
	var (
		last time.Time
		ok   bool
	)
	for _, w := range e.windows {
		if n := len(w); n > 0 && (!ok || w[n-1].After(last)) {
			last, ok = w[n-1], true
		}
	}
	return last, ok
}

func (e *ledgerEntry) empty() bool {
	for _, w := range e.windows {
		if len(w) > 0 {
			return false
		}
	}
	return true
}

// prune descarta timestamps em ou antes de cutoff. A janela válida é
// (cutoff, now].
func prune(w []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(w) && !w[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return w
	}
	if i == len(w) {
		return nil
	}
	return w[i:]
}
