package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"nightmate-runtime/events"
	"nightmate-runtime/session"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// switchSignal é um Session Signal controlável pelo teste.
type switchSignal struct {
	mu  sync.Mutex
	on  bool
	err error
}

func (s *switchSignal) set(on bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.on, s.err = on, err
}

func (s *switchSignal) Authenticated() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.on, s.err
}

func newTestMonitor(sig session.Signal, opts ...Option) (*Monitor, *events.Bus) {
	logger, _ := test.NewNullLogger()
	bus := events.NewBus()
	opts = append([]Option{WithBus(bus), WithLogger(logger)}, opts...)
	return NewMonitor(sig, opts...), bus
}

func TestMonitor_NotifiesOncePerTransition(t *testing.T) {
	sig := &switchSignal{}
	m, bus := newTestMonitor(sig)

	var ready, logout atomic.Int32
	m.OnReady(func() { ready.Add(1) })
	m.OnLogout(func() { logout.Add(1) })

	var payloads []any
	bus.Subscribe(events.AuthReady, func(ev events.Event) { payloads = append(payloads, ev.Payload) })

	assert.Equal(t, Unauthenticated, m.CheckNow())
	assert.Zero(t, ready.Load(), "no transition from the initial state")

	sig.set(true, nil)
	for i := 0; i < 3; i++ {
		assert.Equal(t, Authenticated, m.CheckNow())
	}
	assert.Equal(t, int32(1), ready.Load())

	sig.set(false, nil)
	m.CheckNow()
	m.CheckNow()
	assert.Equal(t, int32(1), logout.Load())

	sig.set(true, nil)
	m.CheckNow()
	assert.Equal(t, int32(2), ready.Load(), "ready fires again only after a new positive transition")

	assert.Equal(t, []any{true, false, true}, payloads)
}

func TestMonitor_FailClosed(t *testing.T) {
	sig := &switchSignal{on: true}
	m, _ := newTestMonitor(sig)

	cleared := false
	m.OnLogout(func() { cleared = true })

	require.Equal(t, Authenticated, m.CheckNow())

	sig.set(true, errors.New("cookie store unavailable"))
	assert.Equal(t, Unauthenticated, m.CheckNow())
	assert.True(t, cleared, "dependent state must be cleared when the check fails")
	assert.False(t, m.Authenticated())
}

func TestMonitor_PanickingSignalFailsClosed(t *testing.T) {
	m, _ := newTestMonitor(session.SignalFunc(func() (bool, error) { panic("boom") }))
	assert.Equal(t, Unauthenticated, m.CheckNow())
}

func TestMonitor_RunPolls(t *testing.T) {
	sig := &switchSignal{}
	m, _ := newTestMonitor(sig, WithPollInterval(5*time.Millisecond))

	ready := make(chan struct{}, 1)
	m.OnReady(func() { ready <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	sig.set(true, nil)
	select {
	case <-ready:
	case <-time.After(time.Second):
		t.Fatal("expected ready notification from polling")
	}

	cancel()
	assert.NoError(t, <-done)
}
