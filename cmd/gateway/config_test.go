package main

import (
	"testing"
	"time"

	"admission-gateway/middleware/ratelimit/infra"

	"github.com/rs/zerolog"
)

func TestReadConfig_Defaults(t *testing.T) {
	t.Setenv("UPSTREAM_URL", "http://localhost:8081")

	cfg, err := readConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.listenAddr != ":8080" {
		t.Fatalf("expected default listen addr, got %q", cfg.listenAddr)
	}
	if cfg.backend != infra.ModeAuto {
		t.Fatalf("expected auto backend by default, got %q", cfg.backend)
	}
	if cfg.redisOpTimeout != infra.DefaultOpTimeout {
		t.Fatalf("expected default op timeout, got %s", cfg.redisOpTimeout)
	}
	if cfg.logLevel != zerolog.InfoLevel {
		t.Fatalf("expected info level, got %s", cfg.logLevel)
	}
	if cfg.sessionCookies != nil || cfg.ipHeaders != nil {
		t.Fatalf("expected nil lists so library defaults apply")
	}
}

func TestReadConfig_Overrides(t *testing.T) {
	t.Setenv("UPSTREAM_URL", "http://localhost:8081")
	t.Setenv("ADMISSION_BACKEND", "REDIS")
	t.Setenv("REDIS_ADDR", "redis-a:6379, redis-b:6379")
	t.Setenv("REDIS_OP_TIMEOUT", "100ms")
	t.Setenv("IP_HEADERS", "CF-Connecting-IP")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := readConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.backend != infra.ModeRedis {
		t.Fatalf("expected redis backend, got %q", cfg.backend)
	}
	if len(cfg.redisAddrs) != 2 || cfg.redisAddrs[1] != "redis-b:6379" {
		t.Fatalf("unexpected redis addrs %v", cfg.redisAddrs)
	}
	if cfg.redisOpTimeout != 100*time.Millisecond {
		t.Fatalf("unexpected op timeout %s", cfg.redisOpTimeout)
	}
	if len(cfg.ipHeaders) != 1 {
		t.Fatalf("unexpected ip headers %v", cfg.ipHeaders)
	}
	if cfg.logLevel != zerolog.DebugLevel {
		t.Fatalf("expected debug level, got %s", cfg.logLevel)
	}
}

func TestReadConfig_Errors(t *testing.T) {
	cases := map[string]map[string]string{
		"missing upstream":     {},
		"unknown backend":      {"UPSTREAM_URL": "http://u", "ADMISSION_BACKEND": "etcd"},
		"redis without addr":   {"UPSTREAM_URL": "http://u", "ADMISSION_BACKEND": "redis"},
		"stats without addr":   {"UPSTREAM_URL": "http://u", "RATE_STATS_ENABLED": "true"},
		"bad log level":        {"UPSTREAM_URL": "http://u", "LOG_LEVEL": "loud"},
		"negative concurrency": {"UPSTREAM_URL": "http://u", "CONCURRENCY_MAX": "-1"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("UPSTREAM_URL", "")
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := readConfig(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
