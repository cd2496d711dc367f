// Package reconcile garante que uma inicialização cara rode no máximo uma vez
// por sessão, mesmo disparada por várias fontes sem coordenação (timers,
// notificação de auth, clique na aba).
//
// O mecanismo é um claim flag: a primeira fonte que vê attempted == false o
// marca true com compare-and-swap, antes de qualquer ponto de espera, e roda o
// corpo. As demais viram no-op, mesmo com o corpo ainda em execução. Se o corpo
// falhar (ou a pré-condição não for atendida), o flag volta para false e uma
// fonte posterior pode tentar de novo.
package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrPreconditionUnmet indica que o corpo não pôde rodar (ex.: sessão não
// autenticada, DOM obrigatório ausente). Libera o claim sem ser erro grave.
var ErrPreconditionUnmet = errors.New("initialization precondition not met")

// Claim é um flag de check-and-set atômico para uma operação lógica.
type Claim struct {
	flag atomic.Bool
}

// TryClaim devolve true para exatamente um chamador até o próximo Release.
func (c *Claim) TryClaim() bool { return c.flag.CompareAndSwap(false, true) }

func (c *Claim) Release() { c.flag.Store(false) }

func (c *Claim) Held() bool { return c.flag.Load() }

// Record é o registro de tentativas de inicialização.
type Record struct {
	Attempted   bool
	Succeeded   bool
	Runs        int
	LastAttempt time.Time
	LastSource  string
}

type Body func(ctx context.Context) error

type Initializer struct {
	name string
	body Body
	log  logrus.FieldLogger
	now  func() time.Time

	claim Claim

	mu        sync.Mutex
	gen       uint64
	succeeded bool
	runs      int
	last      time.Time
	source    string
	timers    []*time.Timer
}

type Option func(*Initializer)

func WithLogger(l logrus.FieldLogger) Option {
	return func(i *Initializer) { i.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(i *Initializer) { i.now = now }
}

func New(name string, body Body, opts ...Option) *Initializer {
	i := &Initializer{
		name: name,
		body: body,
		log:  logrus.StandardLogger(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	i.log = i.log.WithFields(logrus.Fields{"component": "initializer", "module": name})
	return i
}

// Trigger tenta inicializar a partir de `source`. Roda o corpo na goroutine
// atual e devolve true somente se este chamador ganhou o claim e o corpo teve sucesso.
//
// Um Reset durante a execução invalida a rodada: o resultado dela não marca
// sucesso nem libera o claim de uma rodada posterior.
func (i *Initializer) Trigger(ctx context.Context, source string) bool {
	i.mu.Lock()
	if !i.claim.TryClaim() {
		i.mu.Unlock()
		i.log.WithField("source", source).Debug("initialization already claimed, skipping")
		return false
	}
	gen := i.gen
	i.runs++
	i.last = i.now()
	i.source = source
	i.mu.Unlock()

	i.log.WithField("source", source).Info("initialization claimed")

	err := i.run(ctx)

	i.mu.Lock()
	current := gen == i.gen
	if err != nil && current {
		i.claim.Release()
	}
	if err == nil && current {
		i.succeeded = true
	}
	i.mu.Unlock()

	entry := i.log.WithField("source", source)
	switch {
	case !current:
		entry.Info("initialization superseded by reset")
		return false
	case errors.Is(err, ErrPreconditionUnmet):
		entry.WithError(err).Info("initialization deferred, claim released")
		return false
	case err != nil:
		entry.WithError(err).Warn("initialization failed, claim released for retry")
		return false
	}
	return true
}

func (i *Initializer) run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("initialization panicked")
			i.log.WithField("panic", r).Error("initialization body panicked")
		}
	}()
	return i.body(ctx)
}

// Schedule arma um timer por atraso; cada um dispara Trigger numa goroutine própria.
// Timers anteriores são cancelados antes.
func (i *Initializer) Schedule(ctx context.Context, delays ...time.Duration) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.stopTimersLocked()
	for _, d := range delays {
		source := "timer:" + d.String()
		i.timers = append(i.timers, time.AfterFunc(d, func() {
			if ctx.Err() != nil {
				return
			}
			i.Trigger(ctx, source)
		}))
	}
}

// Stop cancela os timers pendentes.
func (i *Initializer) Stop() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.stopTimersLocked()
}

func (i *Initializer) stopTimersLocked() {
	for _, t := range i.timers {
		t.Stop()
	}
	i.timers = nil
}

// Reset libera o claim e esquece o sucesso anterior (ex.: logout), permitindo
// uma nova inicialização na próxima sessão.
func (i *Initializer) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.gen++
	i.succeeded = false
	i.stopTimersLocked()
	i.claim.Release()
}

func (i *Initializer) Record() Record {
	i.mu.Lock()
	defer i.mu.Unlock()
	return Record{
		Attempted:   i.claim.Held(),
		Succeeded:   i.succeeded,
		Runs:        i.runs,
		LastAttempt: i.last,
		LastSource:  i.source,
	}
}
