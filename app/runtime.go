// Package app constrói e é dono do runtime: gateway, monitor de sessão,
// registry e controller de módulos, coordenador de erros e barramento de eventos.
// Não há estado global; quem precisa de uma peça a recebe por injeção.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nightmate-runtime/auth"
	"nightmate-runtime/dom"
	"nightmate-runtime/events"
	"nightmate-runtime/feed"
	"nightmate-runtime/gateway"
	"nightmate-runtime/internal/config"
	"nightmate-runtime/lifecycle"
	"nightmate-runtime/metrics"
	"nightmate-runtime/middleware/ratelimit/domain"
	"nightmate-runtime/modules"
	"nightmate-runtime/recovery"
	"nightmate-runtime/session"
	"nightmate-runtime/transport"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	Config    config.Config
	Transport transport.Transport
	Signal    session.Signal
	Doc       dom.Document
	Stats     domain.StatsStore
	Metrics   *metrics.Metrics
	Probe     lifecycle.MemoryProbe
	Logger    logrus.FieldLogger

	// FeedTriggerDelays substitui os timers escalonados do feed (nil = padrão).
	FeedTriggerDelays []time.Duration
}

type Runtime struct {
	Bus        *events.Bus
	Gateway    *gateway.Gateway
	Monitor    *auth.Monitor
	Registry   *lifecycle.Registry
	Controller *lifecycle.Controller
	Recovery   *recovery.Coordinator
	Doc        dom.Document

	cfg config.Config
	log logrus.FieldLogger
}

func New(ctx context.Context, opts Options) (*Runtime, error) {
	if opts.Transport == nil {
		return nil, errors.New("app: transport is required")
	}
	if opts.Doc == nil {
		opts.Doc = BuildShell(nil)
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	cfg := opts.Config

	r := &Runtime{Bus: events.NewBus(), Doc: opts.Doc, cfg: cfg, log: log.WithField("component", "runtime")}

	r.Gateway = gateway.New(opts.Transport, gateway.Config{
		RatePerMinute: cfg.Gateway.RatePerMinute,
		MaxInFlight:   cfg.Gateway.MaxInFlight,
		Stats:         opts.Stats,
		Metrics:       opts.Metrics,
		Logger:        log,
	})

	monitorOpts := []auth.Option{auth.WithBus(r.Bus), auth.WithLogger(log), auth.WithMetrics(opts.Metrics)}
	if cfg.Auth.PollInterval > 0 {
		monitorOpts = append(monitorOpts, auth.WithPollInterval(cfg.Auth.PollInterval))
	}
	r.Monitor = auth.NewMonitor(opts.Signal, monitorOpts...)

	recOpts := []recovery.Option{recovery.WithDocument(opts.Doc), recovery.WithLogger(log), recovery.WithMetrics(opts.Metrics)}
	if cfg.Recovery.Delay > 0 {
		recOpts = append(recOpts, recovery.WithRecoveryDelay(cfg.Recovery.Delay))
	}
	if cfg.Recovery.BannerTTL > 0 {
		recOpts = append(recOpts, recovery.WithBannerTTL(cfg.Recovery.BannerTTL))
	}
	r.Recovery = recovery.New(recOpts...)

	r.Registry = lifecycle.NewRegistry()
	r.Controller = lifecycle.NewController(r.Registry,
		lifecycle.WithDocument(opts.Doc),
		lifecycle.WithGate(r.Gateway),
		lifecycle.WithReporter(r.Recovery),
		lifecycle.WithResident(feed.Tab),
		lifecycle.WithMemoryProbe(opts.Probe, cfg.Memory.HighWaterBytes()),
		lifecycle.WithContext(ctx),
		lifecycle.WithLogger(log),
		lifecycle.WithMetrics(opts.Metrics),
	)
	r.Recovery.SetTarget(r.Controller)

	feedCfg := feed.Config{
		Gateway:         r.Gateway,
		Session:         r.Monitor,
		Doc:             opts.Doc,
		Reporter:        r.Recovery,
		Logger:          log,
		Metrics:         opts.Metrics,
		RefreshInterval: cfg.Feed.RefreshInterval,
		RetryBase:       cfg.Feed.RetryBase,
		Retries:         cfg.Feed.Retries,
		TriggerDelays:   opts.FeedTriggerDelays,
	}
	if err := r.Controller.RegisterManager(ctx, feed.Tab, feed.Factory(feedCfg), lifecycle.BindTab); err != nil {
		return nil, fmt.Errorf("register feed: %w", err)
	}
	if err := modules.RegisterAll(ctx, r.Controller, modules.Deps{
		Gateway:  r.Gateway,
		Doc:      opts.Doc,
		Reporter: r.Recovery,
		Logger:   log,
	}); err != nil {
		return nil, err
	}

	r.Monitor.OnReady(func() { r.Controller.HandleAuthReady(ctx) })
	r.Monitor.OnLogout(r.Controller.ResetAll)
	return r, nil
}

// Start ativa a aba inicial e anuncia runtime:ready.
func (r *Runtime) Start(ctx context.Context, tab string) {
	if tab == "" {
		tab = feed.Tab
	}
	if err := r.Controller.Activate(ctx, tab); err != nil {
		r.log.WithError(err).WithField("tab", tab).Warn("initial tab failed to activate")
	}
	r.Bus.Publish(events.Event{Name: events.RuntimeReady})
	r.log.WithField("tab", tab).Info("runtime ready")
}

// Run mantém o polling de sessão e o monitor de memória até o ctx encerrar.
func (r *Runtime) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.Monitor.Run(ctx) })
	g.Go(func() error { return r.Controller.WatchMemory(ctx, r.cfg.Memory.CheckInterval) })
	return g.Wait()
}

// Shutdown destrói os módulos (o gateway passa a rejeitar chamadas antes) e
// encerra o coordenador de erros.
func (r *Runtime) Shutdown(ctx context.Context) {
	r.Controller.DestroyAll(ctx)
	r.Recovery.Close()
	r.log.Info("runtime shut down")
}
