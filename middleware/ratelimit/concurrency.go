package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"

	"nightmate-runtime/middleware/ratelimit/application"
	"nightmate-runtime/middleware/ratelimit/domain"
	"nightmate-runtime/transport"

	"github.com/sirupsen/logrus"
)

type ConcurrencyOptions struct {
	Pool   domain.InFlightSet
	Stats  domain.StatsStore
	Logger logrus.FieldLogger
}

// ConcurrencyMiddleware limita as chamadas em voo. Não espera por vaga:
// com o set cheio a chamada falha com ErrTooManyConcurrent.
//
// Chamadas sem chave de idempotência recebem um identificador único
// (method_url#seq) para que o set nunca tenha o mesmo id duas vezes sem
// deduplicar chamadas que não pediram isso.
func ConcurrencyMiddleware(opts ConcurrencyOptions) transport.Middleware {
	if opts.Pool == nil {
		return func(next transport.Transport) transport.Transport { return next }
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	svc := application.ConcurrencyService{Pool: opts.Pool}
	var seq atomic.Uint64

	return func(next transport.Transport) transport.Transport {
		return transport.Func(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			id := req.ID()
			if req.IdempotencyKey == "" {
				id += "#" + strconv.FormatUint(seq.Add(1), 10)
			}

			release, err := svc.Acquire(id)
			switch {
			case errors.Is(err, domain.ErrDuplicateInFlight):
				record(ctx, opts.Stats, req, false, domain.ReasonDuplicate)
				return nil, nil
			case err != nil:
				record(ctx, opts.Stats, req, false, domain.ReasonConcurrency)
				log.WithFields(logrus.Fields{"id": id, "in_flight": opts.Pool.Len()}).Warn("call rejected by concurrency cap")
				return nil, err
			}
			defer release()

			record(ctx, opts.Stats, req, true, domain.ReasonAllowed)
			return next.RoundTrip(ctx, req)
		})
	}
}

// DedupeMiddleware transforma em no-op uma chamada cuja chave de idempotência
// já está em voo: o resultado da chamada original vence.
// É seletivo: só age quando o chamador passa IdempotencyKey.
func DedupeMiddleware(pool domain.InFlightSet, stats domain.StatsStore) transport.Middleware {
	svc := application.ConcurrencyService{Pool: pool}
	return func(next transport.Transport) transport.Transport {
		return transport.Func(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			if req.IdempotencyKey != "" && svc.InFlight(req.IdempotencyKey) {
				record(ctx, stats, req, false, domain.ReasonDuplicate)
				return nil, nil
			}
			return next.RoundTrip(ctx, req)
		})
	}
}
