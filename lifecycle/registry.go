package lifecycle

import (
	"fmt"
	"sync"
)

// Registry guarda as fábricas de módulos por nome de aba. É injetado nos
// pacotes de funcionalidade, que se registram sem conhecer o Controller.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	order     []string
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

func (r *Registry) Register(name string, f Factory) error {
	if name == "" || f == nil {
		return fmt.Errorf("register %q: name and factory are required", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("register %q: %w", name, ErrDuplicateModule)
	}
	r.factories[name] = f
	r.order = append(r.order, name)
	return nil
}

func (r *Registry) Factory(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// Names devolve os nomes na ordem de registro.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}
