package application

import (
	"sync"
	"time"

	"ai-gateway/middleware/ratelimit/domain"
)

// Service concentra a regra de aplicação do rate limit.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
type Service struct {
	Ledger domain.Ledger
	Clock  domain.Clock
	// Unknown substitui identidades vazias. Se vazio, usa domain.UnknownIdentity.
	Unknown domain.Identity
}

// Admit consulta e registra a admissão de uma requisição.
//
// Quando admitida, devolve também `undo`, que remove do ledger exatamente o
// registro desta admissão. O handler só chama undo quando o payload é
// rejeitado na validação; falha ou timeout do serviço de IA não devolvem cota.
// undo pode ser chamado mais de uma vez sem efeito extra.
func (s Service) Admit(id domain.Identity) (domain.Decision, func()) {
	noop := func() {}
	if s.Ledger == nil {
		return domain.Decision{Allowed: true}, noop
	}

	id = s.identity(id)
	dec := s.Ledger.CheckAndRecord(id, s.now())
	if !dec.Allowed {
		return dec, noop
	}

	var once sync.Once
	return dec, func() {
		once.Do(func() { s.Ledger.Release(id, dec.At) })
	}
}

func (s Service) identity(id domain.Identity) domain.Identity {
	if id != "" {
		return id
	}
	if s.Unknown != "" {
		return s.Unknown
	}
	return domain.UnknownIdentity
}

func (s Service) now() time.Time {
	if s.Clock == nil {
		return time.Now()
	}
	return s.Clock.Now()
}
