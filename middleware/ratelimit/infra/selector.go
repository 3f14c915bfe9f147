package infra

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Mode é a configuração de escolha da loja de contadores.
type Mode string

const (
	ModeMemory Mode = "memory"
	ModeRedis  Mode = "redis"
	ModeAuto   Mode = "auto"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeMemory, ModeRedis, ModeAuto:
		return m, nil
	case "":
		return ModeAuto, nil
	default:
		return "", fmt.Errorf("unknown admission backend %q (want redis, memory or auto)", s)
	}
}

// HealthChecker informa se a loja compartilhada está acessível.
type HealthChecker interface {
	Healthy() bool
}

// SelectorStore escolhe a loja a cada chamada de CheckAndIncrement.
//
// Em ModeAuto a escolha consulta o último resultado do probe (leitura atômica),
// então uma mudança de acessibilidade vale já na próxima requisição depois que o
// probe a percebe. Sem loja distribuída configurada, usa sempre a local.
type SelectorStore struct {
	Mode        Mode
	Local       domain.CounterStore
	Distributed domain.CounterStore
	Probe       HealthChecker
}

func (s SelectorStore) pick() domain.CounterStore {
	if s.Distributed == nil {
		return s.Local
	}
	switch s.Mode {
	case ModeRedis:
		return s.Distributed
	case ModeAuto:
		if s.Probe == nil || s.Probe.Healthy() {
			return s.Distributed
		}
	}
	return s.Local
}

// Em ModeAuto, se a loja distribuída falhar aberta (Redis caiu entre duas
// rodadas do probe), a requisição é contada na loja local.
func (s SelectorStore) CheckAndIncrement(ctx context.Context, key string, limit int, window time.Duration) domain.Count {
	store := s.pick()
	if store == nil {
		return domain.Count{Allowed: true, ResetAt: time.Now().Add(window)}
	}
	c := store.CheckAndIncrement(ctx, key, limit, window)
	if c.Backend == domain.BackendFailOpen && s.Mode == ModeAuto && s.Local != nil && store != s.Local {
		return s.Local.CheckAndIncrement(ctx, key, limit, window)
	}
	return c
}

// RedisProbe consulta o Redis periodicamente e guarda o resultado para leitura barata.
type RedisProbe struct {
	rdb      redis.UniversalClient
	interval time.Duration
	timeout  time.Duration
	logger   zerolog.Logger

	healthy atomic.Bool
	offset  atomic.Int64 // relógio do Redis - relógio local, em ns
}

type ProbeOption func(*RedisProbe)

func WithProbeInterval(d time.Duration) ProbeOption {
	return func(p *RedisProbe) { p.interval = d }
}

func WithProbeTimeout(d time.Duration) ProbeOption {
	return func(p *RedisProbe) { p.timeout = d }
}

func WithProbeLogger(l zerolog.Logger) ProbeOption {
	return func(p *RedisProbe) { p.logger = l }
}

func NewRedisProbe(rdb redis.UniversalClient, opts ...ProbeOption) *RedisProbe {
	p := &RedisProbe{
		rdb:      rdb,
		interval: 2 * time.Second,
		timeout:  DefaultOpTimeout,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *RedisProbe) Healthy() bool { return p.healthy.Load() }

// Now é o relógio do Redis estimado a partir do último TIME bem-sucedido.
// Todas as instâncias que o usam concordam sobre as fronteiras de janela, mesmo
// com relógios locais defasados. Antes do primeiro Check é o relógio local.
func (p *RedisProbe) Now() time.Time {
	return time.Now().Add(time.Duration(p.offset.Load()))
}

// Check faz um TIME agora, atualiza o estado e o offset do relógio.
// Loga apenas transições.
func (p *RedisProbe) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	sent := time.Now()
	server, err := p.rdb.Time(ctx).Result()
	ok := err == nil
	if ok {
		recv := time.Now()
		mid := sent.Add(recv.Sub(sent) / 2)
		p.offset.Store(int64(server.Sub(mid)))
	}
	if was := p.healthy.Swap(ok); was != ok {
		if ok {
			p.logger.Info().Msg("redis reachable, using distributed counters")
		} else {
			p.logger.Warn().Err(err).Msg("redis unreachable, using local counters")
		}
	}
	return ok
}

// Run checa imediatamente e depois a cada intervalo, até o ctx encerrar.
func (p *RedisProbe) Run(ctx context.Context) error {
	p.Check(ctx)

	interval := p.interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			p.Check(ctx)
		}
	}
}
