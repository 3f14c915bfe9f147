package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"admission-gateway/middleware/ratelimit"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	HeaderAPIVersion = "X-API-Version"
	HeaderRequestID  = "X-Request-ID"
)

type AuthMode int

const (
	AuthNone AuthMode = iota
	AuthOptional
	AuthRequired
)

// Route descreve os estágios ativos para um handler.
type Route struct {
	// Endpoint é a chave na tabela de políticas. Vazio desliga o controle de admissão.
	Endpoint string
	Auth     AuthMode
	// Roles exige que o papel da sessão seja um destes. Implica AuthRequired.
	Roles               []string
	RequireSubscription bool
}

// HandlerFunc é um handler de negócio. Um erro devolvido vira 500 com
// mensagem genérica; o detalhe vai só para o ErrorReporter.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// FromHTTP adapta um http.Handler comum.
func FromHTTP(h http.Handler) HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		h.ServeHTTP(w, r)
		return nil
	}
}

type Options struct {
	Limiter       *ratelimit.Limiter
	Sessions      SessionResolver
	Subscriptions SubscriptionStore
	Reporter      ErrorReporter
	Version       string
	Logger        zerolog.Logger
	Now           func() time.Time
}

type Pipeline struct {
	limiter       *ratelimit.Limiter
	sessions      SessionResolver
	subscriptions SubscriptionStore
	reporter      ErrorReporter
	version       string
	logger        zerolog.Logger
	now           func() time.Time
}

func New(opts Options) *Pipeline {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Reporter == nil {
		opts.Reporter = LogReporter{Logger: opts.Logger}
	}
	return &Pipeline{
		limiter:       opts.Limiter,
		sessions:      opts.Sessions,
		subscriptions: opts.Subscriptions,
		reporter:      opts.Reporter,
		version:       opts.Version,
		logger:        opts.Logger,
		now:           opts.Now,
	}
}

type requestIDKey struct{}

// RequestIDFromContext devolve o id de correlação da requisição.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// requestID reaproveita um X-Request-ID de entrada quando ele é um UUID válido.
func requestID(r *http.Request) string {
	if in := r.Header.Get(HeaderRequestID); in != "" {
		if id, err := uuid.Parse(in); err == nil {
			return id.String()
		}
	}
	return uuid.NewString()
}

// Wrap monta o pipeline completo em volta de h.
func (p *Pipeline) Wrap(route Route, h HandlerFunc) http.Handler {
	if len(route.Roles) > 0 {
		route.Auth = AuthRequired
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := p.now()
		rid := requestID(r)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, rid))
		w.Header().Set(HeaderRequestID, rid)
		if p.version != "" {
			w.Header().Set(HeaderAPIVersion, p.version)
		}

		state := p.serve(w, r, route, h)

		p.logger.Debug().
			Str("request_id", rid).
			Str("endpoint", route.Endpoint).
			Str("path", r.URL.Path).
			Stringer("state", state).
			Dur("elapsed", p.now().Sub(start)).
			Msg("request finished")
	})
}

func (p *Pipeline) serve(w http.ResponseWriter, r *http.Request, route Route, h HandlerFunc) State {
	if p.limiter != nil && route.Endpoint != "" {
		res := p.limiter.Check(r, route.Endpoint)
		if !res.Allowed {
			p.limiter.Reject(w, res)
			return StateRateLimited
		}
		ratelimit.SetHeaders(w.Header(), res)
	}

	var sess *Session
	if route.Auth != AuthNone {
		var err error
		sess, err = p.session(r)
		if err != nil && route.Auth == AuthRequired {
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Authentication required.", nil)
			return StateAuthFailed
		}
		if sess != nil {
			r = r.WithContext(withSession(r.Context(), sess))
		}
	}

	if len(route.Roles) > 0 && !slices.Contains(route.Roles, sess.Role) {
		writeError(w, http.StatusForbidden, CodeForbidden, "You do not have permission to access this resource.", nil)
		return StateForbidden
	}

	if route.RequireSubscription {
		status, err := p.subscription(r.Context(), sess)
		if err != nil {
			p.reporter.Report(r.Context(), r, err)
			writeError(w, http.StatusInternalServerError, CodeInternalError, internalErrorMessage, nil)
			return StateInternalError
		}
		if !status.Allows() {
			writeError(w, http.StatusForbidden, CodeSubscriptionRequired, status.RemediationMessage(), map[string]any{
				"status": string(status),
			})
			return StateSubscriptionRequired
		}
	}

	return p.handle(w, r, h)
}

const internalErrorMessage = "An unexpected error occurred. Please try again later."

func (p *Pipeline) handle(w http.ResponseWriter, r *http.Request, h HandlerFunc) (state State) {
	tw := &trackingWriter{ResponseWriter: w}
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		if rec == http.ErrAbortHandler {
			panic(rec)
		}
		err, ok := rec.(error)
		if !ok {
			err = fmt.Errorf("panic: %v", rec)
		} else {
			err = fmt.Errorf("panic: %w", err)
		}
		state = p.fail(tw, r, err)
	}()

	if err := h(tw, r); err != nil {
		return p.fail(tw, r, err)
	}
	return StateSuccess
}

func (p *Pipeline) fail(tw *trackingWriter, r *http.Request, err error) State {
	p.reporter.Report(r.Context(), r, err)
	if !tw.written() {
		writeError(tw, http.StatusInternalServerError, CodeInternalError, internalErrorMessage, nil)
	}
	return StateInternalError
}

func (p *Pipeline) session(r *http.Request) (*Session, error) {
	if p.sessions == nil {
		return nil, ErrNoSession
	}
	sess, err := p.sessions.Session(r)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNoSession
	}
	return sess, nil
}

var errNoSubscriptionStore = errors.New("pipeline: route requires a subscription store")

func (p *Pipeline) subscription(ctx context.Context, sess *Session) (SubscriptionStatus, error) {
	if p.subscriptions == nil {
		return "", errNoSubscriptionStore
	}
	if sess == nil || sess.AccountID == "" {
		return StatusNone, nil
	}
	return p.subscriptions.Status(ctx, sess.AccountID)
}
