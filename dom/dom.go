// Package dom define a fronteira com o documento: busca de elementos, mutação
// de atributos/classes, assinatura de eventos e criação/remoção de elementos
// transitórios (banners, mensagens).
//
// O runtime nunca depende de uma implementação concreta; o binário headless e
// os testes usam dom/memdom.
package dom

import (
	"context"
	"errors"
	"time"

	"nightmate-runtime/retry"
)

// ErrNotReady indica que elementos obrigatórios não apareceram dentro do limite de espera.
var ErrNotReady = errors.New("dom: required elements not ready")

type Event struct {
	Type   string
	Target Element
	// Value é o valor corrente de inputs/selects.
	Value  string
	Detail any
}

type Handler func(Event)

type Element interface {
	ID() string
	Tag() string

	Attr(name string) (string, bool)
	SetAttr(name, value string)
	RemoveAttr(name string)

	AddClass(class string)
	RemoveClass(class string)
	HasClass(class string) bool

	Text() string
	SetText(text string)

	Append(child Element)
	Remove()
	Children() []Element

	// On assina um evento e devolve a função que cancela a assinatura.
	On(eventType string, h Handler) (off func())
}

type Document interface {
	// ByID devolve nil quando o elemento não existe.
	ByID(id string) Element
	// Query devolve o primeiro elemento que casa com o seletor, ou nil.
	Query(selector string) Element
	QueryAll(selector string) []Element
	Create(tag string) Element
	Body() Element
}

// Missing lista os ids ausentes.
func Missing(doc Document, ids ...string) []string {
	var out []string
	for _, id := range ids {
		if doc.ByID(id) == nil {
			out = append(out, id)
		}
	}
	return out
}

// WaitFor espera (poll limitado) até todos os ids existirem.
// Esgotadas as tentativas, devolve ErrNotReady; quem chama decide se segue em modo degradado.
func WaitFor(ctx context.Context, doc Document, attempts int, step time.Duration, ids ...string) error {
	return retry.Do(ctx, retry.Policy{
		MaxAttempts: attempts,
		Delay:       retry.Constant(step),
	}, func(context.Context, int) error {
		if len(Missing(doc, ids...)) > 0 {
			return ErrNotReady
		}
		return nil
	})
}

// Toggle liga/desliga uma classe.
func Toggle(el Element, class string, on bool) {
	if el == nil {
		return
	}
	if on {
		el.AddClass(class)
		return
	}
	el.RemoveClass(class)
}

// Clear remove todos os filhos.
func Clear(el Element) {
	if el == nil {
		return
	}
	for _, c := range el.Children() {
		c.Remove()
	}
}

// CountClass conta os filhos diretos com a classe.
func CountClass(el Element, class string) int {
	if el == nil {
		return 0
	}
	n := 0
	for _, c := range el.Children() {
		if c.HasClass(class) {
			n++
		}
	}
	return n
}
