// Package lifecycle é o Module Registry & Lifecycle Controller: cria módulos
// de aba sob demanda, alterna a aba ativa, isola falhas por módulo e coordena
// a destruição e a evicção por pressão de memória.
package lifecycle

import (
	"context"
	"errors"
)

var (
	ErrUnknownModule       = errors.New("no factory registered for module")
	ErrDuplicateModule     = errors.New("module already registered")
	ErrNotCreated          = errors.New("module not created")
	ErrNoReloadHook        = errors.New("module has no reload hook")
	ErrControllerDestroyed = errors.New("controller destroyed")
)

// Module é o contrato mínimo de um módulo de aba.
type Module interface {
	Activate(ctx context.Context) error
}

// Deactivator é chamado quando a aba do módulo deixa de ser a ativa.
type Deactivator interface {
	Deactivate(ctx context.Context)
}

// Destroyer libera timers e listeners em DestroyAll ou na evicção.
type Destroyer interface {
	Destroy(ctx context.Context)
}

// Reloader é o gancho de recuperação usado pelo coordenador de erros.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Resetter limpa o estado dependente da sessão (logout).
type Resetter interface {
	Reset()
}

// AuthAware recebe a notificação de sessão pronta quando é o módulo ativo.
type AuthAware interface {
	AuthReady(ctx context.Context)
}

type Factory func(ctx context.Context) (Module, error)

type State int

const (
	NotCreated State = iota
	Active
	Inactive
	Destroyed
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Inactive:
		return "inactive"
	case Destroyed:
		return "destroyed"
	}
	return "not_created"
}

// ModuleInitError é uma falha de construção ou ativação de um módulo.
// Ela nunca aborta a troca de aba; vira mensagem local no painel.
type ModuleInitError struct {
	Tab   string
	Phase string
	Err   error
}

func (e *ModuleInitError) Error() string {
	return "module-init " + e.Tab + " (" + e.Phase + "): " + e.Err.Error()
}

func (e *ModuleInitError) Unwrap() error { return e.Err }
