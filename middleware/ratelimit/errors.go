package ratelimit

import (
	"time"

	"nightmate-runtime/middleware/ratelimit/domain"
)

// RateLimitError detalha uma rejeição por janela. errors.Is(err, domain.ErrRateLimited) == true.
type RateLimitError struct {
	Key        domain.Key
	Ceiling    int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return "rate limited: " + string(e.Key) + " reached " + formatInt(e.Ceiling) +
		"/min, retry after " + formatSeconds(e.RetryAfter) + "s"
}

func (e *RateLimitError) Unwrap() error { return domain.ErrRateLimited }
