package infra

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// slidingWindowScript faz check-and-increment da janela deslizante de forma
// atômica no Redis.
//
// KEYS[1] = contador da janela atual, KEYS[2] = contador da janela anterior.
// ARGV[1] = limite, ARGV[2] = janela (ms), ARGV[3] = ms decorridos na janela atual.
// Retorna {allowed (0|1), contagem efetiva}.
var slidingWindowScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local previous = tonumber(redis.call('GET', KEYS[2]) or '0')
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local elapsed = tonumber(ARGV[3])

-- divisão por último, em inteiros: floor do produto exato
local num = previous * (window - elapsed)
local weighted = (num - num % window) / window
if weighted + current >= limit then
  return {0, weighted + current}
end

current = redis.call('INCR', KEYS[1])
redis.call('PEXPIRE', KEYS[1], window * 2)
return {1, weighted + current}
`)

const (
	DefaultRedisPrefix   = "ratelimit"
	DefaultOpTimeout     = 250 * time.Millisecond
	DefaultFailOpenReset = 5 * time.Second
)

// RedisCounterStore é a loja distribuída: janela deslizante compartilhada entre
// todas as instâncias.
//
// Escada de degradação, cada degrau só é tentado se o anterior falhar:
//  1. script Lua -> janela deslizante completa (BackendRedis)
//  2. Redis responde mas o script falha -> INCR+PEXPIRE numa janela fixa (BackendRedisFixed)
//  3. Redis inacessível, timeout ou degrau 2 falhou -> fail open (BackendFailOpen)
//
// Disponibilidade vem antes da cota: nenhuma falha daqui chega ao chamador.
type RedisCounterStore struct {
	rdb    redis.UniversalClient
	script *redis.Script

	prefix        string
	opTimeout     time.Duration
	failOpenReset time.Duration
	now           func() time.Time

	logger  zerolog.Logger
	metrics *Metrics

	fixedWarn    rate.Sometimes
	failOpenWarn rate.Sometimes
}

type RedisStoreOption func(*RedisCounterStore)

func WithRedisPrefix(prefix string) RedisStoreOption {
	return func(s *RedisCounterStore) {
		if p := strings.Trim(prefix, ":"); p != "" {
			s.prefix = p
		}
	}
}

// WithOpTimeout limita cada chamada ao Redis. Timeout conta como falha da loja.
func WithOpTimeout(d time.Duration) RedisStoreOption {
	return func(s *RedisCounterStore) { s.opTimeout = d }
}

func WithFailOpenReset(d time.Duration) RedisStoreOption {
	return func(s *RedisCounterStore) { s.failOpenReset = d }
}

func WithRedisClock(now func() time.Time) RedisStoreOption {
	return func(s *RedisCounterStore) { s.now = now }
}

func WithRedisLogger(l zerolog.Logger) RedisStoreOption {
	return func(s *RedisCounterStore) { s.logger = l }
}

func WithRedisMetrics(m *Metrics) RedisStoreOption {
	return func(s *RedisCounterStore) { s.metrics = m }
}

// WithWarnInterval controla com que frequência os avisos de degradação são
// logados (um por intervalo, por degrau).
func WithWarnInterval(d time.Duration) RedisStoreOption {
	return func(s *RedisCounterStore) {
		s.fixedWarn = rate.Sometimes{First: 1, Interval: d}
		s.failOpenWarn = rate.Sometimes{First: 1, Interval: d}
	}
}

func NewRedisCounterStore(rdb redis.UniversalClient, opts ...RedisStoreOption) *RedisCounterStore {
	s := &RedisCounterStore{
		rdb:           rdb,
		script:        slidingWindowScript,
		prefix:        DefaultRedisPrefix,
		opTimeout:     DefaultOpTimeout,
		failOpenReset: DefaultFailOpenReset,
		now:           time.Now,
		logger:        zerolog.Nop(),
		fixedWarn:     rate.Sometimes{First: 1, Interval: 10 * time.Second},
		failOpenWarn:  rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// windowKey monta "<prefix>:<endpoint>:<identidade>:<início da janela em ms>".
// key já chega como "<endpoint>:<identidade>".
func (s *RedisCounterStore) windowKey(key string, windowStart int64) string {
	return s.prefix + ":" + key + ":" + strconv.FormatInt(windowStart, 10)
}

// CheckAndIncrement implementa domain.CounterStore.
func (s *RedisCounterStore) CheckAndIncrement(ctx context.Context, key string, limit int, window time.Duration) domain.Count {
	now := s.now()
	windowMs := window.Milliseconds()
	if windowMs <= 0 {
		windowMs = 1
	}
	nowMs := now.UnixMilli()
	windowStart := (nowMs / windowMs) * windowMs
	resetAt := time.UnixMilli(windowStart + windowMs)

	cur := s.windowKey(key, windowStart)
	prev := s.windowKey(key, windowStart-windowMs)

	started := time.Now()
	c, err := s.sliding(ctx, cur, prev, limit, windowMs, nowMs-windowStart)
	if err == nil {
		c.ResetAt = resetAt
		s.metrics.observeStore(domain.BackendRedis, time.Since(started))
		return c
	}

	if errors.Is(err, domain.ErrScriptFailed) {
		s.metrics.degraded(domain.BackendRedisFixed)
		s.fixedWarn.Do(func() {
			s.logger.Warn().Err(err).Str("key", key).Msg("sliding window script failed, using fixed window")
		})

		c, err = s.fixed(ctx, cur, limit, window)
		if err == nil {
			c.ResetAt = resetAt
			s.metrics.observeStore(domain.BackendRedisFixed, time.Since(started))
			return c
		}
	}

	s.metrics.degraded(domain.BackendFailOpen)
	s.failOpenWarn.Do(func() {
		s.logger.Warn().Err(err).Str("key", key).Msg("counter store unavailable, failing open")
	})
	return domain.Count{
		Allowed:   true,
		Effective: 1,
		ResetAt:   now.Add(s.failOpenReset),
		Backend:   domain.BackendFailOpen,
	}
}

func (s *RedisCounterStore) sliding(ctx context.Context, cur, prev string, limit int, windowMs, elapsedMs int64) (domain.Count, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	vals, err := s.script.Run(ctx, s.rdb, []string{cur, prev}, limit, windowMs, elapsedMs).Int64Slice()
	if err != nil {
		return domain.Count{}, classify(err)
	}
	if len(vals) != 2 {
		return domain.Count{}, fmt.Errorf("%w: unexpected reply %v", domain.ErrScriptFailed, vals)
	}
	return domain.Count{
		Allowed:   vals[0] == 1,
		Effective: int(vals[1]),
		Backend:   domain.BackendRedis,
	}, nil
}

// fixed é o degrau 2: sem suavização de fronteira, mas ainda atômico e
// compartilhado entre instâncias.
func (s *RedisCounterStore) fixed(ctx context.Context, cur string, limit int, window time.Duration) (domain.Count, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var incr *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, cur)
		p.PExpire(ctx, cur, 2*window)
		return nil
	})
	if err != nil {
		return domain.Count{}, classify(err)
	}
	n := int(incr.Val())
	return domain.Count{
		Allowed:   n <= limit,
		Effective: n,
		Backend:   domain.BackendRedisFixed,
	}, nil
}

func (s *RedisCounterStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// classify converte erros do go-redis nos erros de domínio da escada.
// Resposta de erro do servidor = script falhou (o Redis está de pé).
func classify(err error) error {
	var (
		netErr   net.Error
		replyErr redis.Error
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %v", domain.ErrStoreTimeout, err)
	case errors.As(err, &replyErr) && !errors.Is(err, redis.Nil):
		return fmt.Errorf("%w: %v", domain.ErrScriptFailed, err)
	default:
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
}
