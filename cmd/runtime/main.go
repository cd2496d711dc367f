package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nightmate-runtime/app"
	"nightmate-runtime/internal/config"
	"nightmate-runtime/internal/logging"
	"nightmate-runtime/lifecycle"
	"nightmate-runtime/metrics"
	"nightmate-runtime/middleware/ratelimit/domain"
	"nightmate-runtime/middleware/ratelimit/infra"
	"nightmate-runtime/session"
	"nightmate-runtime/transport"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging error: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("runtime stopped")
	}
}

func run(cfg config.Config, log *logrus.Logger) error {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("cookie jar: %w", err)
	}
	client := &http.Client{Jar: jar, Timeout: 15 * time.Second}

	stats, closeStats, err := statsStore(cfg.Gateway)
	if err != nil {
		return err
	}
	defer closeStats()

	var probe lifecycle.MemoryProbe
	if cfg.Memory.HighWaterMB > 0 {
		p, err := lifecycle.NewProcessMemoryProbe()
		if err != nil {
			log.WithError(err).Warn("memory probe unavailable, eviction disabled")
		} else {
			probe = p
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()
	rt, err := app.New(ctx, app.Options{
		Config:    cfg,
		Transport: transport.NewHTTP(client, cfg.BaseURL),
		Signal:    session.CookieSignal{Jar: jar, URL: base, Name: cfg.Auth.CookieName, Value: cfg.Auth.CookieValue},
		Stats:     stats,
		Metrics:   m,
		Probe:     probe,
		Logger:    log,
	})
	if err != nil {
		return err
	}

	if cfg.Auth.Username != "" {
		if err := login(ctx, rt, cfg.Auth); err != nil {
			log.WithError(err).Warn("login failed, waiting for an external session")
		}
	}
	rt.Monitor.CheckNow()
	rt.Start(ctx, "")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.Run(gctx) })
	if cfg.Metrics.ListenAddr != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.ListenAddr,
			Handler:           metricsMux(m),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			log.WithField("addr", cfg.Metrics.ListenAddr).Info("metrics listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	log.WithFields(logrus.Fields{
		"base_url":        cfg.BaseURL,
		"rate_per_minute": cfg.Gateway.RatePerMinute,
		"max_in_flight":   cfg.Gateway.MaxInFlight,
		"stats_backend":   cfg.Gateway.StatsBackend,
		"poll_interval":   cfg.Auth.PollInterval.String(),
	}).Info("runtime started")

	err = g.Wait()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	rt.Shutdown(shutdownCtx)

	snap := rt.Gateway.Snapshot()
	log.WithFields(logrus.Fields{
		"api_calls":      snap.APICalls,
		"html_responses": snap.HTMLResponses,
		"errors":         rt.Recovery.Errors(),
	}).Info("final counters")
	return err
}

func statsStore(cfg config.GatewayConfig) (domain.StatsStore, func(), error) {
	if cfg.StatsBackend != "redis" {
		return infra.NewMemoryStatsStore(), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	_, err := rdb.Ping(pingCtx).Result()
	cancel()
	if err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis stats ping: %w", err)
	}

	store := infra.NewRedisStatsStore(rdb,
		infra.WithStatsPrefix(cfg.Redis.Prefix),
		infra.WithStatsTTL(cfg.Redis.TTL),
		infra.WithStatsBucket(cfg.Redis.Bucket),
	)
	return store, func() { _ = rdb.Close() }, nil
}

func login(ctx context.Context, rt *app.Runtime, cfg config.AuthConfig) error {
	body, err := json.Marshal(map[string]string{"username": cfg.Username, "password": cfg.Password})
	if err != nil {
		return err
	}
	req := transport.NewJSONRequest(http.MethodPost, cfg.LoginPath)
	req.Header.Set("Content-Type", "application/json")
	req.Body = body

	resp, err := rt.Gateway.Call(ctx, req)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("login returned status %d", resp.Status)
	}
	return nil
}

func metricsMux(m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return mux
}
