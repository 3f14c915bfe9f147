package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoSecret indica que não há segredo de assinatura configurado: toda
	// verificação falha e os chamadores ficam anônimos.
	ErrNoSecret     = errors.New("auth: signing secret not configured")
	ErrInvalidToken = errors.New("auth: invalid token")
)

// DefaultSessionCookies são os cookies de sessão reconhecidos, em ordem.
var DefaultSessionCookies = []string{"session_token", "__Secure-session_token"}

// Claims é o que sobra de um token verificado.
type Claims struct {
	Subject   string
	Role      string
	AccountID string
	ExpiresAt time.Time
}

// Verifier verifica um token e devolve suas claims.
type Verifier interface {
	Verify(ctx context.Context, token string) (Claims, error)
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Role      string `json:"role,omitempty"`
	AccountID string `json:"account_id,omitempty"`
}

// HMACVerifier verifica JWTs HS256/HS384/HS512 com "exp" obrigatório.
type HMACVerifier struct {
	secret     []byte
	parser     *jwt.Parser
	parserOpts []jwt.ParserOption
	now        func() time.Time
}

type VerifierOption func(*HMACVerifier)

// WithLeeway tolera diferença de relógio na checagem de exp/nbf.
func WithLeeway(d time.Duration) VerifierOption {
	return func(v *HMACVerifier) {
		v.parserOpts = append(v.parserOpts, jwt.WithLeeway(d))
	}
}

func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *HMACVerifier) {
		v.now = now
		v.parserOpts = append(v.parserOpts, jwt.WithTimeFunc(now))
	}
}

func newParser(extra ...jwt.ParserOption) *jwt.Parser {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
	}
	return jwt.NewParser(append(opts, extra...)...)
}

// NewHMACVerifier aceita segredo vazio: nesse caso Verify devolve sempre ErrNoSecret.
func NewHMACVerifier(secret string, opts ...VerifierOption) *HMACVerifier {
	v := &HMACVerifier{
		secret: []byte(secret),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	v.parser = newParser(v.parserOpts...)
	return v
}

func (v *HMACVerifier) Verify(ctx context.Context, token string) (Claims, error) {
	if v == nil || len(v.secret) == 0 {
		return Claims{}, ErrNoSecret
	}
	if err := ctx.Err(); err != nil {
		return Claims{}, err
	}

	var tc tokenClaims
	_, err := v.parser.ParseWithClaims(token, &tc, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if tc.Subject == "" {
		return Claims{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	c := Claims{Subject: tc.Subject, Role: tc.Role, AccountID: tc.AccountID}
	if tc.ExpiresAt != nil {
		c.ExpiresAt = tc.ExpiresAt.Time
	}
	return c, nil
}

// Issue assina um token HS256 com as claims dadas. ttl define o exp.
func (v *HMACVerifier) Issue(c Claims, ttl time.Duration) (string, error) {
	if v == nil || len(v.secret) == 0 {
		return "", ErrNoSecret
	}
	now := v.now()
	exp := c.ExpiresAt
	if exp.IsZero() {
		exp = now.Add(ttl)
	}
	tc := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Role:      c.Role,
		AccountID: c.AccountID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, tc).SignedString(v.secret)
}

// BearerToken lê "Authorization: Bearer <token>". Vazio se ausente.
func BearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// Credentials devolve os tokens candidatos na ordem de tentativa: primeiro o
// bearer, depois cada cookie de sessão reconhecido.
func Credentials(r *http.Request, cookieNames []string) []string {
	var out []string
	if tok := BearerToken(r); tok != "" {
		out = append(out, tok)
	}
	for _, name := range cookieNames {
		if c, err := r.Cookie(name); err == nil && c.Value != "" {
			out = append(out, c.Value)
		}
	}
	return out
}

// VerifyRequest tenta cada credencial da requisição e devolve as claims da
// primeira que verificar. timeout <= 0 não aplica prazo extra.
func VerifyRequest(ctx context.Context, v Verifier, r *http.Request, cookieNames []string, timeout time.Duration) (Claims, error) {
	if v == nil {
		return Claims{}, ErrNoSecret
	}
	creds := Credentials(r, cookieNames)
	if len(creds) == 0 {
		return Claims{}, fmt.Errorf("%w: no credential", ErrInvalidToken)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var lastErr error
	for _, tok := range creds {
		c, err := v.Verify(ctx, tok)
		if err == nil {
			return c, nil
		}
		lastErr = err
		if errors.Is(err, ErrNoSecret) {
			break
		}
	}
	return Claims{}, lastErr
}
