package application

import "nightmate-runtime/middleware/ratelimit/domain"

// ConcurrencyService concentra a regra de aquisição/liberação de vagas no set
// de chamadas em voo, sem saber nada sobre transporte.
type ConcurrencyService struct {
	Pool domain.InFlightSet
}

// Acquire tenta ocupar uma vaga para id, sem esperar.
// Sem pool configurado, sempre permite.
func (s ConcurrencyService) Acquire(id string) (func(), error) {
	if s.Pool == nil {
		return func() {}, nil
	}
	return s.Pool.Acquire(id)
}

// InFlight informa se id já está em execução.
func (s ConcurrencyService) InFlight(id string) bool {
	if s.Pool == nil || id == "" {
		return false
	}
	return s.Pool.Contains(id)
}
