package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/infra"

	"github.com/rs/zerolog"
)

type config struct {
	listenAddr  string
	upstreamURL string
	appVersion  string
	logLevel    zerolog.Level

	backend        infra.Mode
	authSecret     string
	sessionCookies []string
	ipHeaders      []string
	useRemoteAddr  bool
	policyFile     string

	redisAddrs     []string
	redisPassword  string
	redisDB        int
	redisPrefix    string
	redisOpTimeout time.Duration
	probeInterval  time.Duration

	subscriptionPrefix string

	concurrencyMax     int
	concurrencyTimeout time.Duration

	rateStatsEnabled         bool
	rateStatsPrefix          string
	rateStatsTTL             time.Duration
	rateStatsBucket          string
	rateStatsTrackIdentities bool
}

func readConfig() (config, error) {
	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.upstreamURL = os.Getenv("UPSTREAM_URL")
	cfg.appVersion = getenvDefault("APP_VERSION", "dev")

	lvl, err := zerolog.ParseLevel(getenvDefault("LOG_LEVEL", "info"))
	if err != nil {
		return config{}, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	cfg.logLevel = lvl

	cfg.backend, err = infra.ParseMode(os.Getenv("ADMISSION_BACKEND"))
	if err != nil {
		return config{}, fmt.Errorf("ADMISSION_BACKEND: %w", err)
	}
	// Sem segredo toda identidade autenticada cai para anônima.
	cfg.authSecret = os.Getenv("AUTH_SECRET")
	cfg.sessionCookies = getenvList("SESSION_COOKIES")
	cfg.ipHeaders = getenvList("IP_HEADERS")
	cfg.useRemoteAddr = getenvBoolDefault("USE_REMOTE_ADDR", false)
	cfg.policyFile = os.Getenv("POLICY_FILE")

	cfg.redisAddrs = getenvList("REDIS_ADDR")
	cfg.redisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.redisDB = getenvIntDefault("REDIS_DB", 0)
	cfg.redisPrefix = getenvDefault("REDIS_PREFIX", "ratelimit")
	cfg.redisOpTimeout = getenvDurationDefault("REDIS_OP_TIMEOUT", infra.DefaultOpTimeout)
	cfg.probeInterval = getenvDurationDefault("PROBE_INTERVAL", 5*time.Second)

	cfg.subscriptionPrefix = getenvDefault("SUBSCRIPTION_PREFIX", "billing")

	cfg.concurrencyMax = getenvIntDefault("CONCURRENCY_MAX", 100)
	cfg.concurrencyTimeout = getenvDurationDefault("CONCURRENCY_TIMEOUT", 0)

	cfg.rateStatsEnabled = getenvBoolDefault("RATE_STATS_ENABLED", false)
	cfg.rateStatsPrefix = getenvDefault("RATE_STATS_PREFIX", "ratelimit:stats")
	cfg.rateStatsTTL = getenvDurationDefault("RATE_STATS_TTL", 24*time.Hour)
	cfg.rateStatsBucket = getenvDefault("RATE_STATS_BUCKET", "minute")
	cfg.rateStatsTrackIdentities = getenvBoolDefault("RATE_STATS_TRACK_IDENTITIES", false)

	if cfg.upstreamURL == "" {
		return config{}, errors.New("UPSTREAM_URL is required")
	}
	if cfg.backend == infra.ModeRedis && len(cfg.redisAddrs) == 0 {
		return config{}, errors.New("REDIS_ADDR is required when ADMISSION_BACKEND=redis")
	}
	if cfg.rateStatsEnabled && len(cfg.redisAddrs) == 0 {
		return config{}, errors.New("REDIS_ADDR is required when RATE_STATS_ENABLED=true")
	}
	if cfg.redisOpTimeout <= 0 {
		return config{}, errors.New("REDIS_OP_TIMEOUT must be > 0")
	}
	if cfg.probeInterval <= 0 {
		return config{}, errors.New("PROBE_INTERVAL must be > 0")
	}
	if cfg.concurrencyMax < 0 {
		return config{}, errors.New("CONCURRENCY_MAX must be >= 0")
	}
	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// getenvList lê uma lista separada por vírgula. nil quando ausente.
func getenvList(k string) []string {
	v := os.Getenv(k)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
