package application

import (
	"strings"
	"testing"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

func TestPolicyTable_UnknownEndpointFallsBackToDefault(t *testing.T) {
	table, err := NewPolicyTable(DefaultPolicies())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	def := DefaultPolicies()[DefaultEndpoint]
	for _, name := range []string{"nope", "", "CHAT", "chat/extra"} {
		p, found := table.Lookup(name)
		if found {
			t.Fatalf("expected %q not to be found", name)
		}
		if p != def {
			t.Fatalf("expected default policy for %q, got %+v", name, p)
		}
		// estável entre chamadas
		if again := table.Policy(name); again != p {
			t.Fatalf("lookup for %q is not stable: %+v vs %+v", name, p, again)
		}
	}
}

func TestPolicyTable_KnownEndpoints(t *testing.T) {
	table, err := NewPolicyTable(DefaultPolicies())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	chat, found := table.Lookup("chat")
	if !found {
		t.Fatalf("expected chat policy")
	}
	if chat.AnonymousLimit != 20 || chat.AuthenticatedLimit != 100 || chat.Dimension != domain.DimensionUser {
		t.Fatalf("unexpected chat policy: %+v", chat)
	}

	def := table.Policy(DefaultEndpoint)
	if def.AnonymousLimit != 100 || def.AuthenticatedLimit != 500 || def.Window != time.Minute || def.Dimension != domain.DimensionIP {
		t.Fatalf("unexpected default policy: %+v", def)
	}
}

func TestNewPolicyTable_AddsDefaultWhenMissing(t *testing.T) {
	table, err := NewPolicyTable(map[string]domain.Policy{
		"only": {AnonymousLimit: 1, Window: time.Second, Dimension: domain.DimensionGlobal},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := table.Policy("other"); got != DefaultPolicies()[DefaultEndpoint] {
		t.Fatalf("expected package default policy, got %+v", got)
	}
}

func TestNewPolicyTable_RejectsInvalidPolicies(t *testing.T) {
	cases := map[string]domain.Policy{
		"zero window":   {AnonymousLimit: 1, Dimension: domain.DimensionIP},
		"zero limit":    {Window: time.Second, Dimension: domain.DimensionIP},
		"negative auth": {AnonymousLimit: 1, AuthenticatedLimit: -1, Window: time.Second, Dimension: domain.DimensionIP},
		"bad dimension": {AnonymousLimit: 1, Window: time.Second, Dimension: "tenant"},
	}
	for name, p := range cases {
		if _, err := NewPolicyTable(map[string]domain.Policy{"x": p}); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadPolicies_MergesOverDefaults(t *testing.T) {
	in := `{"chat": {"anonymous_limit": 5, "authenticated_limit": 50, "window_ms": 30000, "dimension": "USER"},
	        "reports": {"anonymous_limit": 2, "window_ms": 1000, "dimension": "global"}}`

	policies, err := LoadPolicies(strings.NewReader(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := policies["chat"]; got.AnonymousLimit != 5 || got.Window != 30*time.Second || got.Dimension != domain.DimensionUser {
		t.Fatalf("unexpected chat policy: %+v", got)
	}
	if got := policies["reports"]; got.Dimension != domain.DimensionGlobal || got.AuthenticatedLimit != 0 {
		t.Fatalf("unexpected reports policy: %+v", got)
	}
	if _, ok := policies[DefaultEndpoint]; !ok {
		t.Fatalf("expected defaults to be kept")
	}
}

func TestLoadPolicies_RejectsInvalidInput(t *testing.T) {
	for _, in := range []string{
		`not json`,
		`{"x": {"anonymous_limit": 0, "window_ms": 1000, "dimension": "ip"}}`,
		`{"x": {"anonymous_limit": 1, "window_ms": 0, "dimension": "ip"}}`,
		`{"x": {"anonymous_limit": 1, "window_ms": 1000, "dimension": "tenant"}}`,
		`{"x": {"anonymous_limit": 1, "window_ms": 1000, "dimension": "ip", "burst": 3}}`,
	} {
		if _, err := LoadPolicies(strings.NewReader(in)); err == nil {
			t.Fatalf("expected error for %s", in)
		}
	}
}
