package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type SubscriptionStatus string

const (
	StatusActive   SubscriptionStatus = "active"
	StatusTrialing SubscriptionStatus = "trialing"
	StatusCanceled SubscriptionStatus = "canceled"
	StatusUnpaid   SubscriptionStatus = "unpaid"
	StatusPastDue  SubscriptionStatus = "past_due"
	StatusNone     SubscriptionStatus = "none"
)

// Allows indica se o status dá acesso às rotas que exigem assinatura.
func (s SubscriptionStatus) Allows() bool {
	return s == StatusActive || s == StatusTrialing
}

// RemediationMessage é a mensagem exibida ao chamador quando o status não dá acesso.
func (s SubscriptionStatus) RemediationMessage() string {
	switch s {
	case StatusCanceled:
		return "Your subscription was canceled. Reactivate it to continue using this feature."
	case StatusUnpaid:
		return "Your subscription has unpaid invoices. Update your payment method to restore access."
	case StatusPastDue:
		return "Your subscription payment is past due. Update your payment method to avoid losing access."
	default:
		return "An active subscription is required to use this feature."
	}
}

// SubscriptionStore consulta o status de assinatura de uma conta. Conta
// desconhecida não é erro: devolve StatusNone.
type SubscriptionStore interface {
	Status(ctx context.Context, accountID string) (SubscriptionStatus, error)
}

// MemorySubscriptions é um SubscriptionStore estático, para testes e desenvolvimento.
type MemorySubscriptions struct {
	mu       sync.RWMutex
	statuses map[string]SubscriptionStatus
}

func NewMemorySubscriptions(statuses map[string]SubscriptionStatus) *MemorySubscriptions {
	m := &MemorySubscriptions{statuses: make(map[string]SubscriptionStatus, len(statuses))}
	for k, v := range statuses {
		m.statuses[k] = v
	}
	return m
}

func (m *MemorySubscriptions) Set(accountID string, status SubscriptionStatus) {
	m.mu.Lock()
	m.statuses[accountID] = status
	m.mu.Unlock()
}

func (m *MemorySubscriptions) Status(_ context.Context, accountID string) (SubscriptionStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.statuses[accountID]; ok {
		return s, nil
	}
	return StatusNone, nil
}

// RedisSubscriptions lê HGET <prefix>:subscription:<account> status.
type RedisSubscriptions struct {
	rdb     redis.UniversalClient
	prefix  string
	timeout time.Duration
}

type RedisSubscriptionsOption func(*RedisSubscriptions)

func WithSubscriptionPrefix(prefix string) RedisSubscriptionsOption {
	return func(s *RedisSubscriptions) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

func WithSubscriptionTimeout(d time.Duration) RedisSubscriptionsOption {
	return func(s *RedisSubscriptions) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func NewRedisSubscriptions(rdb redis.UniversalClient, opts ...RedisSubscriptionsOption) *RedisSubscriptions {
	s := &RedisSubscriptions{
		rdb:     rdb,
		prefix:  "billing",
		timeout: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisSubscriptions) key(accountID string) string {
	return s.prefix + ":subscription:" + accountID
}

func (s *RedisSubscriptions) Status(ctx context.Context, accountID string) (SubscriptionStatus, error) {
	if accountID == "" {
		return StatusNone, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	v, err := s.rdb.HGet(ctx, s.key(accountID), "status").Result()
	if errors.Is(err, redis.Nil) {
		return StatusNone, nil
	}
	if err != nil {
		return "", fmt.Errorf("subscription status for %q: %w", accountID, err)
	}
	return SubscriptionStatus(v), nil
}
