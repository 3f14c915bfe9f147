package application

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// DefaultEndpoint é a política usada para endpoints desconhecidos.
const DefaultEndpoint = "default"

// DefaultPolicies devolve a tabela padrão do dashboard. Cada chamada devolve um
// mapa novo, então o chamador pode alterá-lo antes de montar a PolicyTable.
func DefaultPolicies() map[string]domain.Policy {
	return map[string]domain.Policy{
		DefaultEndpoint: {AnonymousLimit: 100, AuthenticatedLimit: 500, Window: time.Minute, Dimension: domain.DimensionIP},
		"chat":          {AnonymousLimit: 20, AuthenticatedLimit: 100, Window: time.Minute, Dimension: domain.DimensionUser},
		"auth":          {AnonymousLimit: 10, Window: 15 * time.Minute, Dimension: domain.DimensionIP},
		"documents":     {AnonymousLimit: 5, AuthenticatedLimit: 50, Window: time.Hour, Dimension: domain.DimensionUser},
		"tenders":       {AnonymousLimit: 30, AuthenticatedLimit: 300, Window: time.Minute, Dimension: domain.DimensionUser},
		"monitoring":    {AnonymousLimit: 60, AuthenticatedLimit: 600, Window: time.Minute, Dimension: domain.DimensionUser},
		"webhook":       {AnonymousLimit: 1000, Window: time.Minute, Dimension: domain.DimensionGlobal},
	}
}

// PolicyTable é o mapeamento endpoint -> política. Somente leitura depois de
// construída, então pode ser compartilhada entre goroutines sem lock.
type PolicyTable struct {
	policies map[string]domain.Policy
	fallback domain.Policy
}

// NewPolicyTable valida todas as políticas. Se o mapa não tiver a entrada
// "default", a padrão do pacote é usada como fallback.
func NewPolicyTable(policies map[string]domain.Policy) (*PolicyTable, error) {
	t := &PolicyTable{policies: make(map[string]domain.Policy, len(policies))}
	for name, p := range policies {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("policy %q: %w", name, err)
		}
		t.policies[name] = p
	}
	fallback, ok := t.policies[DefaultEndpoint]
	if !ok {
		fallback = DefaultPolicies()[DefaultEndpoint]
		t.policies[DefaultEndpoint] = fallback
	}
	t.fallback = fallback
	return t, nil
}

// Lookup devolve a política do endpoint. found=false indica que a política
// padrão foi usada.
func (t *PolicyTable) Lookup(endpoint string) (p domain.Policy, found bool) {
	if p, ok := t.policies[endpoint]; ok {
		return p, true
	}
	return t.fallback, false
}

// Policy é Lookup sem o indicador.
func (t *PolicyTable) Policy(endpoint string) domain.Policy {
	p, _ := t.Lookup(endpoint)
	return p
}

// Endpoints lista os nomes configurados (ordem não definida).
func (t *PolicyTable) Endpoints() []string {
	out := make([]string, 0, len(t.policies))
	for name := range t.policies {
		out = append(out, name)
	}
	return out
}

type policyJSON struct {
	AnonymousLimit     int    `json:"anonymous_limit"`
	AuthenticatedLimit int    `json:"authenticated_limit"`
	WindowMillis       int64  `json:"window_ms"`
	Dimension          string `json:"dimension"`
}

// LoadPolicies lê uma tabela em JSON e a aplica por cima de DefaultPolicies.
//
//	{"chat": {"anonymous_limit": 20, "authenticated_limit": 100, "window_ms": 60000, "dimension": "user"}}
//
// Qualquer entrada inválida é erro de inicialização.
func LoadPolicies(r io.Reader) (map[string]domain.Policy, error) {
	var raw map[string]policyJSON
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode policies: %w", err)
	}

	out := DefaultPolicies()
	for name, pj := range raw {
		dim, err := domain.ParseDimension(pj.Dimension)
		if err != nil {
			return nil, fmt.Errorf("policy %q: %w", name, err)
		}
		p := domain.Policy{
			AnonymousLimit:     pj.AnonymousLimit,
			AuthenticatedLimit: pj.AuthenticatedLimit,
			Window:             time.Duration(pj.WindowMillis) * time.Millisecond,
			Dimension:          dim,
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("policy %q: %w", name, err)
		}
		out[name] = p
	}
	return out, nil
}
