package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"admission-gateway/middleware/ratelimit/infra"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Str("service", "admission-gateway").Logger()

	cfg, err := readConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("config error")
	}
	zerolog.SetGlobalLevel(cfg.logLevel)

	target, err := url.Parse(cfg.upstreamURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid UPSTREAM_URL")
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("proxy error")
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	var rdb redis.UniversalClient
	if len(cfg.redisAddrs) > 0 && (cfg.backend != infra.ModeMemory || cfg.rateStatsEnabled) {
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    cfg.redisAddrs,
			Password: cfg.redisPassword,
			DB:       cfg.redisDB,
		})
		defer func() { _ = rdb.Close() }()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	gw, err := newGateway(cfg, logger, rdb, reg, proxy)
	if err != nil {
		logger.Fatal().Err(err).Msg("gateway setup error")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	gw.local.StartJanitor(ctx)

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           gw.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	if gw.probe != nil {
		g.Go(func() error { return gw.probe.Run(gctx) })
	}
	g.Go(func() error {
		logger.Info().
			Str("addr", cfg.listenAddr).
			Str("upstream", target.String()).
			Str("backend", string(cfg.backend)).
			Strs("redis", cfg.redisAddrs).
			Bool("auth_secret", cfg.authSecret != "").
			Int("concurrency_max", cfg.concurrencyMax).
			Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
	logger.Info().Msg("gateway stopped")
}
