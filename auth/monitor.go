// Package auth implementa o Authentication Monitor: uma máquina de dois estados
// (Unauthenticated, Authenticated) alimentada por polling do Session Signal e
// por checagens sob demanda (após login/cadastro).
//
// Cada transição é notificada exatamente uma vez. Erro na leitura do sinal é
// tratado como Unauthenticated (fail-closed).
package auth

import (
	"context"
	"sync"
	"time"

	"nightmate-runtime/events"
	"nightmate-runtime/metrics"
	"nightmate-runtime/session"

	"github.com/sirupsen/logrus"
)

type State int

const (
	Unauthenticated State = iota
	Authenticated
)

func (s State) String() string {
	if s == Authenticated {
		return "authenticated"
	}
	return "unauthenticated"
}

// DefaultPollInterval é o intervalo de polling do sinal de sessão.
const DefaultPollInterval = 5 * time.Second

type Option func(*Monitor)

func WithPollInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

func WithBus(b *events.Bus) Option {
	return func(m *Monitor) { m.bus = b }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(m *Monitor) { m.log = l }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Monitor) { m.metrics = mt }
}

type Monitor struct {
	signal   session.Signal
	interval time.Duration
	bus      *events.Bus
	log      logrus.FieldLogger
	metrics  *metrics.Metrics

	// checkMu serializa checagens para que hooks de uma transição terminem
	// antes da próxima ser observada.
	checkMu sync.Mutex

	mu       sync.RWMutex
	state    State
	onReady  []func()
	onLogout []func()
}

func NewMonitor(signal session.Signal, opts ...Option) *Monitor {
	m := &Monitor{
		signal:   signal,
		interval: DefaultPollInterval,
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.WithField("component", "auth")
	return m
}

// OnReady registra um hook chamado na transição Unauthenticated -> Authenticated.
func (m *Monitor) OnReady(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReady = append(m.onReady, fn)
}

// OnLogout registra um hook chamado na transição Authenticated -> Unauthenticated.
func (m *Monitor) OnLogout(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLogout = append(m.onLogout, fn)
}

func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Monitor) Authenticated() bool { return m.State() == Authenticated }

// CheckNow lê o sinal e aplica a transição, se houver. Devolve o estado resultante.
func (m *Monitor) CheckNow() State {
	m.checkMu.Lock()
	defer m.checkMu.Unlock()

	observed := m.read()

	m.mu.Lock()
	prev := m.state
	m.state = observed
	var hooks []func()
	if prev != observed {
		if observed == Authenticated {
			hooks = append(hooks, m.onReady...)
		} else {
			hooks = append(hooks, m.onLogout...)
		}
	}
	m.mu.Unlock()

	if prev == observed {
		return observed
	}

	m.log.WithFields(logrus.Fields{"from": prev.String(), "to": observed.String()}).Info("authentication state changed")
	m.metrics.AuthTransition(observed.String())
	for _, h := range hooks {
		h()
	}
	m.bus.Publish(events.Event{Name: events.AuthReady, Payload: observed == Authenticated})
	return observed
}

func (m *Monitor) read() (state State) {
	defer func() {
		if r := recover(); r != nil {
			m.log.WithField("panic", r).Warn("session signal panicked, treating as unauthenticated")
			state = Unauthenticated
		}
	}()

	if m.signal == nil {
		return Unauthenticated
	}
	ok, err := m.signal.Authenticated()
	if err != nil {
		m.log.WithError(err).Warn("session signal check failed, treating as unauthenticated")
		return Unauthenticated
	}
	if ok {
		return Authenticated
	}
	return Unauthenticated
}

// Run faz uma checagem imediata e depois a cada intervalo, até o ctx encerrar.
func (m *Monitor) Run(ctx context.Context) error {
	m.CheckNow()

	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			m.CheckNow()
		}
	}
}
