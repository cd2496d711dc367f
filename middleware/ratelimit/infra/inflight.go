package infra

import (
	"sync"

	"nightmate-runtime/middleware/ratelimit/domain"
)

// DefaultMaxInFlight é o número máximo de chamadas simultâneas.
const DefaultMaxInFlight = 5

type inFlight struct {
	mu  sync.Mutex
	ids map[string]struct{}
	max int
}

// NewInFlight cria o set de chamadas em voo com capacidade `max`.
// Diferente de um semáforo, ele nunca espera: cheio é erro.
func NewInFlight(max int) domain.InFlightSet {
	if max <= 0 {
		max = DefaultMaxInFlight
	}
	return &inFlight{ids: make(map[string]struct{}), max: max}
}

func (p *inFlight) Acquire(id string) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.ids[id]; ok {
		return nil, domain.ErrDuplicateInFlight
	}
	if len(p.ids) >= p.max {
		return nil, domain.ErrTooManyConcurrent
	}
	p.ids[id] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.ids, id)
			p.mu.Unlock()
		})
	}, nil
}

func (p *inFlight) Contains(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.ids[id]
	return ok
}

func (p *inFlight) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ids)
}
