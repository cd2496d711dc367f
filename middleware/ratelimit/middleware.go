package ratelimit

import (
	"context"
	"errors"
	"time"

	"nightmate-runtime/middleware/ratelimit/application"
	"nightmate-runtime/middleware/ratelimit/domain"
	"nightmate-runtime/transport"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type KeyFunc func(req *transport.Request) string

type Options struct {
	Windows domain.WindowStore
	Stats   domain.StatsStore
	KeyFn   KeyFunc
	Ceiling int
	Now     func() time.Time

	// PruneEvery amortiza a poda das janelas: roda na 1a chamada e depois a cada N.
	PruneEvery int

	Logger logrus.FieldLogger
}

// DefaultKeyFunc usa o path do alvo como chave, para que query strings
// diferentes do mesmo endpoint dividam a mesma janela.
func DefaultKeyFunc(req *transport.Request) string {
	if p := req.Path(); p != "" {
		return p
	}
	return "unknown"
}

func Middleware(opts Options) transport.Middleware {
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.PruneEvery <= 0 {
		opts.PruneEvery = 16
	}
	if opts.Ceiling <= 0 {
		opts.Ceiling = application.DefaultCeiling
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	svc := application.Service{
		Windows: opts.Windows,
		Ceiling: opts.Ceiling,
	}
	prune := &rate.Sometimes{First: 1, Every: opts.PruneEvery}

	return func(next transport.Transport) transport.Transport {
		return transport.Func(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			now := opts.Now()
			if opts.Windows != nil {
				prune.Do(func() {
					if n := opts.Windows.Prune(domain.BucketOf(now)); n > 0 {
						log.WithField("removed", n).Debug("rate windows pruned")
					}
				})
			}

			key := domain.Key(opts.KeyFn(req))
			dec := svc.Decide(key, now)
			if !dec.Allowed {
				record(ctx, opts.Stats, req, false, domain.ReasonRateLimited)
				log.WithFields(logrus.Fields{"target": key, "count": dec.Count}).Warn("call rejected by rate window")
				return nil, &RateLimitError{Key: key, Ceiling: opts.Ceiling, RetryAfter: dec.RetryAfter}
			}

			resp, err := next.RoundTrip(ctx, req)
			// só conta o que saiu: rejeição por concorrência e duplicata não gastam janela
			if errors.Is(err, domain.ErrTooManyConcurrent) || (err == nil && resp == nil) {
				svc.Refund(key, dec)
			}
			return resp, err
		})
	}
}

func record(ctx context.Context, stats domain.StatsStore, req *transport.Request, allowed bool, reason string) {
	if stats == nil {
		return
	}
	_ = stats.Record(ctx, domain.StatsEvent{
		Key:     domain.Key(req.Path()),
		Allowed: allowed,
		Reason:  reason,
		Method:  req.Method,
		Path:    req.Path(),
		At:      time.Now(),
	})
}
