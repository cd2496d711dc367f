// Package retry é a primitiva única de re-tentativa com backoff do runtime.
//
// Ela substitui timers encadeados: quem precisa re-tentar descreve uma Policy
// (tentativas, atraso por tentativa, quais erros são transitórios) e chama Do.
// O laço em si é o de github.com/cenkalti/backoff.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DelayFunc devolve o atraso antes da tentativa `attempt` (2, 3, ...).
type DelayFunc func(attempt int) time.Duration

// Linear cresce o atraso linearmente: base, 2*base, 3*base...
func Linear(base time.Duration) DelayFunc {
	return func(attempt int) time.Duration {
		return base * time.Duration(attempt-1)
	}
}

// Constant usa sempre o mesmo atraso.
func Constant(d time.Duration) DelayFunc {
	return func(int) time.Duration { return d }
}

type Policy struct {
	// MaxAttempts é o total de tentativas (1 = sem re-tentativa). Se <= 0, usa 1.
	MaxAttempts int
	// Initial é uma espera antes da primeira tentativa.
	Initial time.Duration
	Delay   DelayFunc
	// Retryable decide se o erro é transitório. nil = todos são.
	Retryable func(error) bool
	// Notify é chamado antes de cada espera entre tentativas.
	Notify func(err error, next time.Duration)
}

// delayBackOff adapta uma DelayFunc à interface backoff.BackOff.
type delayBackOff struct {
	delay DelayFunc
	n     int
}

func (b *delayBackOff) Reset() { b.n = 0 }

func (b *delayBackOff) NextBackOff() time.Duration {
	b.n++
	if b.delay == nil {
		return 0
	}
	return b.delay(b.n + 1)
}

// Do executa fn até ter sucesso, esgotar as tentativas, receber um erro não
// transitório ou o ctx encerrar. Devolve o último erro.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	if err := wait(ctx, p.Initial); err != nil {
		return err
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(&delayBackOff{delay: p.Delay}, uint64(attempts-1)),
		ctx,
	)

	attempt := 0
	op := func() error {
		attempt++
		err := fn(ctx, attempt)
		if err != nil && p.Retryable != nil && !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.RetryNotify(op, b, p.Notify)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// wait é a espera única antes da primeira tentativa.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
