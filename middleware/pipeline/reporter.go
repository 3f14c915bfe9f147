package pipeline

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"
)

// ErrorReporter recebe o detalhe das falhas internas. Nada do que chega aqui
// é devolvido ao chamador.
type ErrorReporter interface {
	Report(ctx context.Context, r *http.Request, err error)
}

// LogReporter reporta via zerolog.
type LogReporter struct {
	Logger zerolog.Logger
}

func (lr LogReporter) Report(_ context.Context, r *http.Request, err error) {
	lr.Logger.Error().
		Err(err).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("request_id", RequestIDFromContext(r.Context())).
		Msg("request handler failed")
}
