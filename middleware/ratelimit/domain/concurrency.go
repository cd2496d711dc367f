package domain

import "errors"

var (
	// ErrTooManyConcurrent é devolvido quando o set de chamadas em voo está cheio.
	ErrTooManyConcurrent = errors.New("too many concurrent requests")

	// ErrDuplicateInFlight indica que o identificador já está no set.
	ErrDuplicateInFlight = errors.New("request already in flight")
)

// InFlightSet representa o conjunto de chamadas em execução, com capacidade finita.
//
// A semântica é: Acquire NÃO bloqueia. Ou entra na hora, ou falha com
// ErrTooManyConcurrent / ErrDuplicateInFlight. Ao adquirir, retorna uma função
// de release que deve ser chamada exatamente uma vez (chamadas extras são ignoradas).
type InFlightSet interface {
	Acquire(id string) (release func(), err error)
	Contains(id string) bool
	Len() int
}
