package ratelimit

import (
	"net/http"
	"time"

	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/rs/zerolog"
)

type ConcurrencyOptions struct {
	Max            int
	RejectStatus   int
	AcquireTimeout time.Duration
	Logger         zerolog.Logger
	// Pool permite compartilhar o pool (ex.: para expor a ocupação). nil cria um com Max vagas.
	Pool domain.SlotPool
}

type overloadedBody struct {
	Success bool          `json:"success"`
	Error   overloadedErr `json:"error"`
}

type overloadedErr struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ConcurrencyMiddleware limita quantas requisições ficam em voo. Fica por fora
// do pipeline: protege o processo, não a cota de cada chamador.
// Max <= 0 desliga o limite.
func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Max <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusServiceUnavailable
	}

	if opts.Pool == nil {
		opts.Pool = infra.NewSlotPool(opts.Max)
	}
	svc := application.ConcurrencyService{
		Pool:           opts.Pool,
		AcquireTimeout: opts.AcquireTimeout,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			release, ok := svc.Acquire(r.Context())
			if !ok {
				opts.Logger.Warn().Str("path", r.URL.Path).Int("max", opts.Max).Msg("concurrency limit reached")
				writeJSON(w, opts.RejectStatus, overloadedBody{Error: overloadedErr{
					Code:    "OVERLOADED",
					Message: "The service is busy. Please retry shortly.",
				}})
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}
}
