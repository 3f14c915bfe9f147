package pipeline

import (
	"context"
	"errors"
	"net/http"
	"time"

	"admission-gateway/middleware/auth"
)

// ErrNoSession indica que a requisição não traz sessão válida.
var ErrNoSession = errors.New("pipeline: no valid session")

type Session struct {
	UserID    string
	Role      string
	AccountID string
	ExpiresAt time.Time
}

// SessionResolver resolve a sessão de uma requisição. Sem sessão válida deve
// devolver ErrNoSession (ou um erro que o embrulhe).
type SessionResolver interface {
	Session(r *http.Request) (*Session, error)
}

// TokenSessions resolve sessões a partir do mesmo JWT verificado usado pelo
// resolvedor de identidade.
type TokenSessions struct {
	Verifier    auth.Verifier
	CookieNames []string // nil = auth.DefaultSessionCookies
	Timeout     time.Duration
}

func (ts TokenSessions) Session(r *http.Request) (*Session, error) {
	cookies := ts.CookieNames
	if cookies == nil {
		cookies = auth.DefaultSessionCookies
	}
	c, err := auth.VerifyRequest(r.Context(), ts.Verifier, r, cookies, ts.Timeout)
	if err != nil {
		return nil, errors.Join(ErrNoSession, err)
	}
	return &Session{
		UserID:    c.Subject,
		Role:      c.Role,
		AccountID: c.AccountID,
		ExpiresAt: c.ExpiresAt,
	}, nil
}

type sessionKey struct{}

func withSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext devolve a sessão do chamador, ou nil em rotas sem
// autenticação (ou opcional sem credencial).
func SessionFromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionKey{}).(*Session)
	return s
}
