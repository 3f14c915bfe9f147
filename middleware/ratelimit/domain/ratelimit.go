package domain

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Dimension é o eixo usado para chavear a cota de um endpoint.
type Dimension string

const (
	DimensionIP     Dimension = "ip"
	DimensionUser   Dimension = "user"
	DimensionGlobal Dimension = "global"
)

// ParseDimension aceita "ip", "user" ou "global" (sem diferenciar maiúsculas).
func ParseDimension(s string) (Dimension, error) {
	switch d := Dimension(strings.ToLower(strings.TrimSpace(s))); d {
	case DimensionIP, DimensionUser, DimensionGlobal:
		return d, nil
	default:
		return "", fmt.Errorf("unknown identity dimension %q", s)
	}
}

// Policy descreve a cota de um endpoint. É imutável depois de carregada.
//
// AuthenticatedLimit == 0 significa "sem limite próprio para autenticados":
// nesse caso vale AnonymousLimit para todos.
type Policy struct {
	AnonymousLimit     int
	AuthenticatedLimit int
	Window             time.Duration
	Dimension          Dimension
}

// Validate checa as invariantes: Window > 0, AnonymousLimit > 0, AuthenticatedLimit >= 0.
func (p Policy) Validate() error {
	if p.Window <= 0 {
		return fmt.Errorf("window must be > 0, got %s", p.Window)
	}
	if p.AnonymousLimit <= 0 {
		return fmt.Errorf("anonymous limit must be > 0, got %d", p.AnonymousLimit)
	}
	if p.AuthenticatedLimit < 0 {
		return fmt.Errorf("authenticated limit must be >= 0, got %d", p.AuthenticatedLimit)
	}
	switch p.Dimension {
	case DimensionIP, DimensionUser, DimensionGlobal:
	default:
		return fmt.Errorf("unknown identity dimension %q", p.Dimension)
	}
	return nil
}

// LimitFor devolve o limite aplicável ao chamador.
func (p Policy) LimitFor(authenticated bool) int {
	if authenticated && p.AuthenticatedLimit > 0 {
		return p.AuthenticatedLimit
	}
	return p.AnonymousLimit
}

// Identity é a identidade derivada de uma requisição.
//
// Key já vem com namespace da dimensão: "user:<id>", "ip:<endereço>" ou "global".
type Identity struct {
	Key           string
	Authenticated bool
}

// GlobalIdentity é a identidade constante da dimensão global.
var GlobalIdentity = Identity{Key: "global"}

func UserIdentity(id string) Identity { return Identity{Key: "user:" + id, Authenticated: true} }
func IPIdentity(addr string) Identity { return Identity{Key: "ip:" + addr} }

// Backend identifica qual loja (ou degrau da escada de degradação) respondeu.
type Backend string

const (
	BackendMemory     Backend = "memory"
	BackendRedis      Backend = "redis"
	BackendRedisFixed Backend = "redis-fixed"
	BackendFailOpen   Backend = "fail-open"
)

// Count é o que uma CounterStore devolve após checar e incrementar.
//
// Effective é a contagem efetiva observada: após o incremento quando permitido,
// e sem incremento quando negado pela janela deslizante.
type Count struct {
	Allowed   bool
	Effective int
	ResetAt   time.Time
	Backend   Backend
}

// CounterStore é o único ponto de acesso aos contadores. Ninguém lê ou escreve
// registros de contador fora de CheckAndIncrement.
//
// Implementações absorvem as próprias falhas de infraestrutura: o método nunca
// devolve erro ao chamador.
type CounterStore interface {
	CheckAndIncrement(ctx context.Context, key string, limit int, window time.Duration) Count
}

// Result é a decisão de admissão entregue à camada HTTP.
type Result struct {
	Endpoint      string
	Allowed       bool
	Remaining     int
	Limit         int
	ResetAt       time.Time
	Authenticated bool
	Backend       Backend
}

// Remaining calcula max(0, limit - effective).
func Remaining(limit, effective int) int {
	if r := limit - effective; r > 0 {
		return r
	}
	return 0
}
