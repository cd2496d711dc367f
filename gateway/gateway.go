// Package gateway é o Capability Gateway: o único caminho de rede dos módulos.
//
// Call aplica, nesta ordem: estado "destroying" (falha rápida), credenciais
// same-origin por padrão, supressão de duplicatas, janela de rate limit por
// minuto, limite de chamadas em voo e observação da resposta. Nenhuma rejeição
// é re-tentada aqui: quem chama decide se mostra ou descarta.
package gateway

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"nightmate-runtime/metrics"
	"nightmate-runtime/middleware/ratelimit"
	"nightmate-runtime/middleware/ratelimit/domain"
	"nightmate-runtime/middleware/ratelimit/infra"
	"nightmate-runtime/transport"

	"github.com/sirupsen/logrus"
)

var (
	// ErrDestroyed é devolvido para toda chamada feita depois de DestroyAll.
	ErrDestroyed = errors.New("runtime is being destroyed")

	ErrRateLimited           = domain.ErrRateLimited
	ErrTooManyConcurrent     = domain.ErrTooManyConcurrent
	ErrNetwork               = transport.ErrNetwork
	ErrUnexpectedContentType = transport.ErrUnexpectedContentType
)

type Config struct {
	// RatePerMinute é o teto por alvo por minuto. Se 0, usa 30.
	RatePerMinute int
	// MaxInFlight é o número de chamadas simultâneas. Se 0, usa 5.
	MaxInFlight int

	Stats   domain.StatsStore
	Metrics *metrics.Metrics
	Logger  logrus.FieldLogger
	Now     func() time.Time
}

type Gateway struct {
	chain    transport.Transport
	windows  *infra.WindowStore
	inFlight domain.InFlightSet
	stats    domain.StatsStore
	metrics  *metrics.Metrics
	log      logrus.FieldLogger

	destroying atomic.Bool
	apiCalls   atomic.Int64
	htmlHits   atomic.Int64
}

func New(base transport.Transport, cfg Config) *Gateway {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("component", "gateway")

	g := &Gateway{
		windows:  infra.NewWindowStore(),
		inFlight: infra.NewInFlight(cfg.MaxInFlight),
		stats:    cfg.Stats,
		metrics:  cfg.Metrics,
		log:      log,
	}

	g.chain = transport.Chain(base,
		ratelimit.DedupeMiddleware(g.inFlight, g.stats),
		ratelimit.Middleware(ratelimit.Options{
			Windows: g.windows,
			Stats:   g.stats,
			Ceiling: cfg.RatePerMinute,
			Now:     cfg.Now,
			Logger:  log,
		}),
		ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{
			Pool:   g.inFlight,
			Stats:  g.stats,
			Logger: log,
		}),
		g.observe,
	)
	return g
}

// Call executa uma chamada. (nil, nil) significa duplicata suprimida.
func (g *Gateway) Call(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	if g.destroying.Load() {
		g.metrics.Rejected(domain.ReasonDestroyed)
		if g.stats != nil {
			_ = g.stats.Record(ctx, domain.StatsEvent{
				Key: domain.Key(req.Path()), Reason: domain.ReasonDestroyed,
				Method: req.Method, Path: req.Path(), At: time.Now(),
			})
		}
		return nil, ErrDestroyed
	}

	if req.Credentials == transport.CredentialsDefault {
		req.Credentials = transport.CredentialsSameOrigin
	}

	resp, err := g.chain.RoundTrip(ctx, req)
	switch {
	case errors.Is(err, ErrRateLimited):
		g.metrics.Rejected(domain.ReasonRateLimited)
	case errors.Is(err, ErrTooManyConcurrent):
		g.metrics.Rejected(domain.ReasonConcurrency)
	case err == nil && resp == nil:
		g.metrics.Rejected(domain.ReasonDuplicate)
		g.log.WithField("key", req.ID()).Debug("duplicate call suppressed")
	}
	return resp, err
}

// GetJSON é um atalho para GET de JSON. dedupe ativa a chave method_url.
func (g *Gateway) GetJSON(ctx context.Context, url string, dedupe bool) (*transport.Response, error) {
	req := transport.NewJSONRequest("GET", url)
	if dedupe {
		req.IdempotencyKey = req.ID()
	}
	return g.Call(ctx, req)
}

// observe é o último middleware antes da rede: conta a chamada, registra os
// metadados da resposta e avisa quando um endpoint JSON devolve HTML.
func (g *Gateway) observe(next transport.Transport) transport.Transport {
	return transport.Func(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		g.apiCalls.Add(1)
		g.metrics.InFlight(g.inFlight.Len())
		defer func() { g.metrics.InFlight(g.inFlight.Len() - 1) }()

		resp, err := next.RoundTrip(ctx, req)
		if err != nil {
			g.metrics.APICall(req.Method, "error")
			g.log.WithError(err).WithField("url", req.URL).Warn("network call failed")
			return nil, err
		}

		g.metrics.APICall(req.Method, strconv.Itoa(resp.Status))
		fields := logrus.Fields{
			"url":          req.URL,
			"status":       resp.Status,
			"content_type": resp.ContentType(),
		}
		if (req.ExpectsJSON() || strings.HasPrefix(req.Path(), "/api/")) && resp.IsHTML() {
			// sintoma típico de redirect de autenticação: não re-tentar, só avisar.
			g.htmlHits.Add(1)
			g.log.WithFields(fields).Warn("json endpoint returned an html document, possible auth redirect")
			return resp, nil
		}
		g.log.WithFields(fields).Debug("call completed")
		return resp, nil
	})
}

// SetDestroying liga/desliga a falha rápida de todas as chamadas.
func (g *Gateway) SetDestroying(v bool) { g.destroying.Store(v) }

func (g *Gateway) Destroying() bool { return g.destroying.Load() }

type Snapshot struct {
	APICalls      int64
	InFlight      int
	RateWindows   int
	HTMLResponses int64
	Destroying    bool
}

// Snapshot devolve contadores para diagnóstico.
func (g *Gateway) Snapshot() Snapshot {
	return Snapshot{
		APICalls:      g.apiCalls.Load(),
		InFlight:      g.inFlight.Len(),
		RateWindows:   g.windows.Len(),
		HTMLResponses: g.htmlHits.Load(),
		Destroying:    g.destroying.Load(),
	}
}
