package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"admission-gateway/middleware/auth"
	"admission-gateway/middleware/pipeline"
	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type gateway struct {
	handler http.Handler
	local   *infra.MemoryCounterStore
	probe   *infra.RedisProbe // nil sem Redis
	slots   *infra.SlotPool   // nil com CONCURRENCY_MAX=0
	totals  func(ctx context.Context) (infra.Counters, error)
}

// newGateway monta o roteador completo. rdb pode ser nil: nesse caso só a loja
// local é usada.
func newGateway(cfg config, logger zerolog.Logger, rdb redis.UniversalClient, reg *prometheus.Registry, upstream http.Handler) (*gateway, error) {
	policies := application.DefaultPolicies()
	if cfg.policyFile != "" {
		f, err := os.Open(cfg.policyFile)
		if err != nil {
			return nil, fmt.Errorf("open POLICY_FILE: %w", err)
		}
		policies, err = application.LoadPolicies(f)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("POLICY_FILE: %w", err)
		}
	}
	table, err := application.NewPolicyTable(policies)
	if err != nil {
		return nil, err
	}

	metrics := infra.NewMetrics(reg)
	gw := &gateway{local: infra.NewMemoryCounterStore()}

	selector := infra.SelectorStore{Mode: cfg.backend, Local: gw.local}
	localStats := infra.NewMemoryStatsStore()
	stats := infra.StatsFanout{metrics, localStats}
	gw.totals = func(context.Context) (infra.Counters, error) { return localStats.Total(), nil }
	var subs pipeline.SubscriptionStore = pipeline.NewMemorySubscriptions(nil)

	if rdb != nil {
		gw.probe = infra.NewRedisProbe(rdb,
			infra.WithProbeInterval(cfg.probeInterval),
			infra.WithProbeLogger(logger),
		)
		selector.Probe = gw.probe
		selector.Distributed = infra.NewRedisCounterStore(rdb,
			infra.WithRedisPrefix(cfg.redisPrefix),
			infra.WithOpTimeout(cfg.redisOpTimeout),
			infra.WithRedisLogger(logger),
			infra.WithRedisMetrics(metrics),
			infra.WithRedisClock(gw.probe.Now),
		)
		subs = pipeline.NewRedisSubscriptions(rdb, pipeline.WithSubscriptionPrefix(cfg.subscriptionPrefix))
		if cfg.rateStatsEnabled {
			shared := infra.NewRedisStatsStore(rdb,
				infra.WithStatsPrefix(cfg.rateStatsPrefix),
				infra.WithStatsTTL(cfg.rateStatsTTL),
				infra.WithStatsBucket(cfg.rateStatsBucket),
				infra.WithStatsTrackIdentities(cfg.rateStatsTrackIdentities),
			)
			stats = append(stats, shared)
			gw.totals = shared.Totals
		}
	}

	verifier := auth.NewHMACVerifier(cfg.authSecret)
	limiter := ratelimit.New(ratelimit.Options{
		Engine: application.Engine{Policies: table, Store: selector},
		Resolver: ratelimit.IdentityResolver{
			Verifier:      verifier,
			CookieNames:   cfg.sessionCookies,
			IPHeaders:     cfg.ipHeaders,
			UseRemoteAddr: cfg.useRemoteAddr,
			VerifyTimeout: time.Second,
		},
		Stats:  stats,
		Logger: logger,
	})
	p := pipeline.New(pipeline.Options{
		Limiter:       limiter,
		Sessions:      pipeline.TokenSessions{Verifier: verifier, CookieNames: cfg.sessionCookies, Timeout: time.Second},
		Subscriptions: subs,
		Reporter:      pipeline.LogReporter{Logger: logger},
		Version:       cfg.appVersion,
		Logger:        logger,
	})

	concurrency := ratelimit.ConcurrencyOptions{
		Max:            cfg.concurrencyMax,
		AcquireTimeout: cfg.concurrencyTimeout,
		Logger:         logger,
	}
	if cfg.concurrencyMax > 0 {
		gw.slots = infra.NewSlotPool(cfg.concurrencyMax)
		concurrency.Pool = gw.slots
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(ratelimit.ConcurrencyMiddleware(concurrency))
	r.Get("/healthz", gw.health(cfg.backend))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Handle("/internal/stats", p.Wrap(pipeline.Route{Roles: []string{"admin"}}, gw.statsHandler))
	mountRoutes(r, p, upstream)

	gw.handler = r
	return gw, nil
}

type healthBody struct {
	Status  string         `json:"status"`
	Backend infra.Mode     `json:"backend"`
	Redis   string         `json:"redis"`
	Store   domain.Backend `json:"store"`

	// Requisições em voo / capacidade; ausente sem limite de concorrência.
	InFlight *int `json:"in_flight,omitempty"`
	Capacity *int `json:"capacity,omitempty"`
}

// statsHandler devolve o total de decisões: de todas as instâncias com
// RATE_STATS_ENABLED, senão só desta.
func (gw *gateway) statsHandler(w http.ResponseWriter, r *http.Request) error {
	c, err := gw.totals(r.Context())
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	return json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"data":    map[string]int64{"allowed": c.Allowed, "denied": c.Denied},
	})
}

func (gw *gateway) health(mode infra.Mode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := healthBody{Status: "ok", Backend: mode, Redis: "disabled", Store: domain.BackendMemory}
		if gw.probe != nil {
			body.Redis = "down"
			if gw.probe.Healthy() {
				body.Redis = "up"
			}
			if mode == infra.ModeRedis || (mode == infra.ModeAuto && gw.probe.Healthy()) {
				body.Store = domain.BackendRedis
			}
		}
		if gw.slots != nil {
			inFlight, capacity := gw.slots.InFlight(), gw.slots.Capacity()
			body.InFlight, body.Capacity = &inFlight, &capacity
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(body)
	}
}
