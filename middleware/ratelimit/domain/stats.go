package domain

import (
	"context"
	"time"
)

// StatsEvent registra uma decisão de admissão.
//
// Cuidado com cardinalidade: Identity pode ter um valor por IP/usuário, então
// implementações só devem guardá-la quando explicitamente configuradas.
type StatsEvent struct {
	Endpoint      string
	Identity      string
	Allowed       bool
	Authenticated bool
	Backend       Backend

	At time.Time
}

// StatsStore persiste estatísticas de admissão (memória, Redis, Prometheus...).
// O middleware trata erro como best-effort e nunca derruba a requisição.
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
