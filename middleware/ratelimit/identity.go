package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"admission-gateway/middleware/auth"
	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"
)

// DefaultIPHeaders é a ordem de leitura do IP do cliente: header do CDN, header
// da plataforma, primeiro salto do X-Forwarded-For e X-Real-IP.
//
// Esses headers só são confiáveis quando definidos pelo proxy reverso da própria
// implantação. Em outras topologias, restrinja IPHeaders ao header do seu proxy.
var DefaultIPHeaders = []string{"CF-Connecting-IP", "X-Vercel-Forwarded-For", "X-Forwarded-For", "X-Real-IP"}

const unknownIP = "unknown"

// IdentityResolver extrai a identidade do chamador de uma requisição.
//
// Nunca confia em header de identidade enviado pelo cliente: identidade
// autenticada só vem de credencial verificada. Qualquer falha de verificação
// (sem segredo, assinatura inválida, expirado, malformado) cai para o IP.
type IdentityResolver struct {
	Verifier      auth.Verifier
	CookieNames   []string // nil = auth.DefaultSessionCookies
	IPHeaders     []string // nil = DefaultIPHeaders
	UseRemoteAddr bool     // usa o peer da conexão antes de "unknown"
	VerifyTimeout time.Duration
}

// Resolve implementa o contrato resolve(request, dimension) -> Identity.
func (ir IdentityResolver) Resolve(r *http.Request, dim domain.Dimension) domain.Identity {
	return ir.resolve(r.Context(), r, dim)
}

// For adapta o resolver para a Engine.
func (ir IdentityResolver) For(r *http.Request) application.IdentityFunc {
	return func(ctx context.Context, dim domain.Dimension) domain.Identity {
		return ir.resolve(ctx, r, dim)
	}
}

func (ir IdentityResolver) resolve(ctx context.Context, r *http.Request, dim domain.Dimension) domain.Identity {
	switch dim {
	case domain.DimensionGlobal:
		return domain.GlobalIdentity
	case domain.DimensionUser:
		if ir.Verifier != nil {
			cookies := ir.CookieNames
			if cookies == nil {
				cookies = auth.DefaultSessionCookies
			}
			if c, err := auth.VerifyRequest(ctx, ir.Verifier, r, cookies, ir.VerifyTimeout); err == nil {
				return domain.UserIdentity(c.Subject)
			}
		}
	}
	return domain.IPIdentity(ir.ClientIP(r))
}

// ClientIP lê o endereço do cliente na ordem de IPHeaders. Para listas
// separadas por vírgula (X-Forwarded-For) usa o primeiro salto.
func (ir IdentityResolver) ClientIP(r *http.Request) string {
	headers := ir.IPHeaders
	if headers == nil {
		headers = DefaultIPHeaders
	}
	for _, h := range headers {
		v := r.Header.Get(h)
		if v == "" {
			continue
		}
		if i := strings.IndexByte(v, ','); i >= 0 {
			v = v[:i]
		}
		if ip := strings.TrimSpace(v); ip != "" {
			return ip
		}
	}

	if ir.UseRemoteAddr {
		if host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr)); err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
	}
	return unknownIP
}
