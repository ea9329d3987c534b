package domain

import "time"

// Clock abstrai o relógio para que testes controlem o avanço do tempo
// sem sleeps.
type Clock interface {
	Now() time.Time
}
