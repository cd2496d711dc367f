package application

import (
	"time"

	"nightmate-runtime/middleware/ratelimit/domain"
)

// DefaultCeiling é o teto de chamadas por alvo por minuto.
const DefaultCeiling = 30

// Service concentra a regra de aplicação do rate limit.
//
// Ele não sabe nada sobre transporte, apenas retorna uma decisão.
type Service struct {
	Windows domain.WindowStore
	Ceiling int
}

func (s Service) Decide(key domain.Key, now time.Time) domain.Decision {
	if s.Windows == nil {
		return domain.Decision{Allowed: true}
	}
	if s.Ceiling <= 0 {
		s.Ceiling = DefaultCeiling
	}

	bucket := domain.BucketOf(now)
	count, ok := s.Windows.Increment(key, bucket, s.Ceiling)
	if ok {
		return domain.Decision{Allowed: true, Count: count, Bucket: bucket}
	}

	retry := (bucket + 1).Start().Sub(now)
	if retry <= 0 {
		retry = time.Second
	}
	return domain.Decision{Allowed: false, Count: count, Bucket: bucket, RetryAfter: retry}
}

// Refund estorna uma decisão permitida cuja chamada não saiu.
func (s Service) Refund(key domain.Key, dec domain.Decision) {
	if s.Windows == nil || !dec.Allowed {
		return
	}
	s.Windows.Refund(key, dec.Bucket)
}
