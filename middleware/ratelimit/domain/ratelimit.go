package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import "time"

// Identity é a chave best-effort de um cliente (normalmente um IP vindo de
// X-Forwarded-For). Não é autenticada e pode agrupar vários clientes atrás
// de um mesmo NAT/proxy.
type Identity string

// UnknownIdentity é o sentinela usado quando não dá para determinar o cliente.
// Todas as requisições sem metadado de rede compartilham essa mesma cota.
const UnknownIdentity Identity = "unknown"

// Tier é uma regra nomeada de janela deslizante: no máximo Max requisições
// dentro de Window.
type Tier struct {
	Name   string
	Window time.Duration
	Max    int
}

// Decision é o resultado de uma consulta de admissão.
type Decision struct {
	Allowed bool

	// Preenchidos apenas quando bloqueado: o primeiro tier (em ordem de
	// prioridade) que estourou.
	Tier   string
	Max    int
	Window time.Duration

	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Sempre igual à janela do tier violado.
	RetryAfter time.Duration

	// At é o instante registrado no ledger quando a requisição foi admitida.
	At time.Time
}

// Ledger guarda, por identidade e por tier, os timestamps das requisições
// admitidas.
//
// CheckAndRecord precisa ser atômico para uma identidade: poda, checagem e
// append em todos os tiers acontecem numa única seção crítica.
type Ledger interface {
	CheckAndRecord(id Identity, now time.Time) Decision
	// Release desfaz uma admissão registrada em `at` (remove exatamente um
	// timestamp por tier).
	Release(id Identity, at time.Time)
}

// ActiveCounter expõe quantas identidades estão vivas no ledger agora.
type ActiveCounter interface {
	Active() int
}
