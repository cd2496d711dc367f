package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quiet() Option {
	l, _ := test.NewNullLogger()
	return WithLogger(l)
}

func TestClaim_SingleWinner(t *testing.T) {
	var c Claim
	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.TryClaim() {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
	assert.True(t, c.Held())

	c.Release()
	assert.True(t, c.TryClaim())
}

func TestInitializer_AtMostOnceUnderConcurrentTriggers(t *testing.T) {
	var runs atomic.Int32
	release := make(chan struct{})
	init := New("feed", func(ctx context.Context) error {
		runs.Add(1)
		<-release
		return nil
	}, quiet())

	var wg sync.WaitGroup
	for _, src := range []string{"timer:0s", "tab-click", "auth-ready", "timer:500ms", "timer:1.5s"} {
		wg.Add(1)
		go func(src string) {
			defer wg.Done()
			init.Trigger(context.Background(), src)
		}(src)
	}

	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, time.Millisecond)
	// mid-flight: triggers extras continuam sendo no-op
	assert.False(t, init.Trigger(context.Background(), "late-click"))
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), runs.Load())
	rec := init.Record()
	assert.True(t, rec.Attempted)
	assert.True(t, rec.Succeeded)
	assert.Equal(t, 1, rec.Runs)

	assert.False(t, init.Trigger(context.Background(), "after-success"))
	assert.Equal(t, int32(1), runs.Load())
}

func TestInitializer_RetryAfterFailure(t *testing.T) {
	var runs atomic.Int32
	fail := true
	init := New("feed", func(ctx context.Context) error {
		runs.Add(1)
		if fail {
			return errors.New("first load failed")
		}
		return nil
	}, quiet())

	assert.False(t, init.Trigger(context.Background(), "timer:0s"))
	rec := init.Record()
	assert.False(t, rec.Attempted, "claim must be observably reset after failure")
	assert.False(t, rec.Succeeded)

	fail = false
	assert.True(t, init.Trigger(context.Background(), "auth-ready"))
	assert.Equal(t, int32(2), runs.Load())
	assert.Equal(t, "auth-ready", init.Record().LastSource)
}

func TestInitializer_PreconditionAndPanicReleaseClaim(t *testing.T) {
	calls := 0
	init := New("feed", func(ctx context.Context) error {
		calls++
		switch calls {
		case 1:
			return ErrPreconditionUnmet
		case 2:
			panic("nil element")
		}
		return nil
	}, quiet())

	assert.False(t, init.Trigger(context.Background(), "a"))
	assert.False(t, init.Trigger(context.Background(), "b"))
	assert.True(t, init.Trigger(context.Background(), "c"))
	assert.Equal(t, 3, calls)
}

func TestInitializer_ScheduleAndReset(t *testing.T) {
	var runs atomic.Int32
	init := New("feed", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, quiet())

	init.Schedule(context.Background(), 0, 5*time.Millisecond, 10*time.Millisecond)
	require.Eventually(t, func() bool { return init.Record().Succeeded }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())

	init.Reset()
	assert.False(t, init.Record().Attempted)
	assert.True(t, init.Trigger(context.Background(), "auth-ready"))
	assert.Equal(t, int32(2), runs.Load())
}

func TestInitializer_StopCancelsTimers(t *testing.T) {
	var runs atomic.Int32
	init := New("feed", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, quiet())

	init.Schedule(context.Background(), 20*time.Millisecond)
	init.Stop()
	time.Sleep(40 * time.Millisecond)
	assert.Zero(t, runs.Load())
}

func TestInitializer_ResetDuringRunSupersedesIt(t *testing.T) {
	started := make(chan struct{})
	proceed := make(chan struct{})
	var runs atomic.Int32
	init := New("feed", func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			close(started)
			<-proceed
			return errors.New("stale session")
		}
		return nil
	}, quiet())

	first := make(chan bool, 1)
	go func() { first <- init.Trigger(context.Background(), "timer:0s") }()
	<-started

	init.Reset()
	assert.False(t, init.Record().Attempted)

	close(proceed)
	assert.False(t, <-first)
	assert.False(t, init.Record().Succeeded)
	assert.False(t, init.Record().Attempted)

	assert.True(t, init.Trigger(context.Background(), "auth-ready"))
	assert.True(t, init.Record().Succeeded)
}

func TestInitializer_StaleFailureKeepsNewClaim(t *testing.T) {
	started := make(chan struct{})
	proceed := make(chan struct{})
	newRun := make(chan struct{})
	finishNew := make(chan struct{})
	var runs atomic.Int32
	init := New("feed", func(ctx context.Context) error {
		switch runs.Add(1) {
		case 1:
			close(started)
			<-proceed
			return errors.New("stale session")
		case 2:
			close(newRun)
			<-finishNew
		}
		return nil
	}, quiet())

	first := make(chan bool, 1)
	go func() { first <- init.Trigger(context.Background(), "timer:0s") }()
	<-started
	init.Reset()

	second := make(chan bool, 1)
	go func() { second <- init.Trigger(context.Background(), "auth-ready") }()
	<-newRun

	close(proceed)
	assert.False(t, <-first)
	assert.True(t, init.Record().Attempted, "stale failure must not release the new claim")
	assert.False(t, init.Trigger(context.Background(), "tab-click"))

	close(finishNew)
	assert.True(t, <-second)
	assert.Equal(t, int32(2), runs.Load())
}
