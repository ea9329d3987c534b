package inference

import (
	"errors"
	"fmt"
)

// ErrNotConfigured indica que o cliente não tem credencial para chamar o
// serviço de IA. É um erro de configuração do processo, não do cliente.
var ErrNotConfigured = errors.New("inference: api token not configured")

// ErrNoCapacity indica que não houve token/vaga para chamar o serviço a tempo.
var ErrNoCapacity = errors.New("inference: no upstream capacity")

// UpstreamError representa uma falha do serviço de IA: erro de transporte,
// timeout, status não-2xx ou payload com campo "error". Os detalhes só vão
// para o log.
type UpstreamError struct {
	Status  int
	Message string
	Err     error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Err != nil && e.Status != 0:
		return fmt.Sprintf("inference upstream (status %d): %v", e.Status, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("inference upstream: %v", e.Err)
	case e.Status != 0:
		return fmt.Sprintf("inference upstream (status %d): %s", e.Status, e.Message)
	default:
		return "inference upstream: " + e.Message
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// IsUpstreamError diz se err (ou algo que ele embrulha) é um *UpstreamError.
func IsUpstreamError(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}
