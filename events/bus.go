// Package events é o barramento de eventos da página: publicação fire-and-forget,
// sem confirmação, para os dois sinais que o runtime define.
package events

import (
	"slices"
	"sync"
)

const (
	// AuthReady carrega um bool: true quando a sessão fica autenticada, false quando cai.
	AuthReady = "auth:ready"
	// RuntimeReady não tem payload; é publicado quando o controller terminou de subir.
	RuntimeReady = "runtime:ready"
)

type Event struct {
	Name    string
	Payload any
}

type Handler func(Event)

type subscription struct {
	id int
	fn Handler
}

type Bus struct {
	mu   sync.RWMutex
	subs map[string][]subscription
	next int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string][]subscription)}
}

// Subscribe registra um handler e devolve a função de cancelamento.
func (b *Bus) Subscribe(name string, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[name] = append(b.subs[name], subscription{id: id, fn: h})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.subs[name] = slices.DeleteFunc(b.subs[name], func(s subscription) bool { return s.id == id })
	}
}

// Publish entrega o evento a todos os assinantes, na goroutine atual.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := slices.Clone(b.subs[ev.Name])
	b.mu.RUnlock()

	for _, s := range subs {
		s.fn(ev)
	}
}
