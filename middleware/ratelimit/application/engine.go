package application

import (
	"context"

	"admission-gateway/middleware/ratelimit/domain"
)

// IdentityFunc resolve a identidade do chamador para uma dimensão. A camada HTTP
// fornece a implementação (headers, cookies, token verificado).
type IdentityFunc func(ctx context.Context, dim domain.Dimension) domain.Identity

// Engine concentra a decisão de admissão.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas devolve um domain.Result.
// A loja de contadores é injetada; a escolha entre memória e Redis fica a cargo
// dela (ver infra.SelectorStore).
type Engine struct {
	Policies *PolicyTable
	Store    domain.CounterStore
}

// Check executa: política -> identidade -> limite -> checkAndIncrement -> resultado.
func (e Engine) Check(ctx context.Context, endpoint string, resolve IdentityFunc) domain.Result {
	policy := DefaultPolicies()[DefaultEndpoint]
	if e.Policies != nil {
		policy = e.Policies.Policy(endpoint)
	}

	id := domain.IPIdentity("unknown")
	if resolve != nil {
		id = resolve(ctx, policy.Dimension)
	}
	limit := policy.LimitFor(id.Authenticated)

	res := domain.Result{
		Endpoint:      endpoint,
		Allowed:       true,
		Remaining:     limit,
		Limit:         limit,
		Authenticated: id.Authenticated,
	}
	if e.Store == nil {
		return res
	}

	c := e.Store.CheckAndIncrement(ctx, endpoint+":"+id.Key, limit, policy.Window)
	res.Allowed = c.Allowed
	res.Remaining = domain.Remaining(limit, c.Effective)
	res.ResetAt = c.ResetAt
	res.Backend = c.Backend
	return res
}
