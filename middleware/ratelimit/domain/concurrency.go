package domain

import "context"

// SlotPool representa um recurso com capacidade finita (ex: chamadas simultâneas
// ao serviço de IA).
//
// A semântica é: Acquire bloqueia até conseguir uma vaga ou até o ctx encerrar.
// Ao adquirir, retorna uma função de release que deve ser chamada exatamente uma vez.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
}

// Pacer espaça chamadas no tempo (token bucket). Wait bloqueia até haver um
// token ou o ctx encerrar.
type Pacer interface {
	Wait(ctx context.Context) error
}
