package ratelimit

import (
	"context"
	"net/http"
	"time"

	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"

	"github.com/rs/zerolog"
)

const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

type Options struct {
	Engine   application.Engine
	Resolver IdentityResolver
	Stats    domain.StatsStore
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Limiter liga a Engine ao net/http.
type Limiter struct {
	engine   application.Engine
	resolver IdentityResolver
	stats    domain.StatsStore
	logger   zerolog.Logger
	now      func() time.Time
}

func New(opts Options) *Limiter {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Limiter{
		engine:   opts.Engine,
		resolver: opts.Resolver,
		stats:    opts.Stats,
		logger:   opts.Logger,
		now:      opts.Now,
	}
}

// Check decide a admissão da requisição para o endpoint e registra a decisão
// nas estatísticas (best-effort).
func (l *Limiter) Check(r *http.Request, endpoint string) domain.Result {
	res, id := l.check(r, endpoint)
	if l.stats != nil {
		err := l.stats.Record(r.Context(), domain.StatsEvent{
			Endpoint:      endpoint,
			Identity:      id,
			Allowed:       res.Allowed,
			Authenticated: res.Authenticated,
			Backend:       res.Backend,
			At:            l.now(),
		})
		if err != nil {
			l.logger.Debug().Err(err).Str("endpoint", endpoint).Msg("admission stats not recorded")
		}
	}
	return res
}

func (l *Limiter) check(r *http.Request, endpoint string) (domain.Result, string) {
	var key string
	resolve := l.resolver.For(r)
	res := l.engine.Check(r.Context(), endpoint, func(ctx context.Context, dim domain.Dimension) domain.Identity {
		id := resolve(ctx, dim)
		key = id.Key
		return id
	})
	return res, key
}

// SetHeaders escreve os headers de cota. Vale para respostas negadas e permitidas.
func SetHeaders(h http.Header, res domain.Result) {
	h.Set(HeaderLimit, formatInt(res.Limit))
	h.Set(HeaderRemaining, formatInt(res.Remaining))
	if !res.ResetAt.IsZero() {
		h.Set(HeaderReset, formatReset(res.ResetAt))
	}
}

type tooManyRequestsBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter"`
}

// Reject escreve a resposta 429 completa: headers de cota, Retry-After e corpo JSON.
func (l *Limiter) Reject(w http.ResponseWriter, res domain.Result) {
	retry := retryAfterSeconds(res.ResetAt, l.now())
	SetHeaders(w.Header(), res)
	w.Header().Set("Retry-After", formatInt(retry))
	writeJSON(w, http.StatusTooManyRequests, tooManyRequestsBody{
		Error:      http.StatusText(http.StatusTooManyRequests),
		Message:    "Rate limit exceeded. Try again in " + formatInt(retry) + " seconds.",
		RetryAfter: retry,
	})
}

// Middleware aplica só o controle de admissão, sem auth. Para a composição
// completa use pipeline.Pipeline.
func (l *Limiter) Middleware(endpoint string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := l.Check(r, endpoint)
			if !res.Allowed {
				l.Reject(w, res)
				return
			}
			SetHeaders(w.Header(), res)
			next.ServeHTTP(w, r)
		})
	}
}
