package settlement

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
)

// Result of a successful payout execution.
type Result struct {
	// SettlementRef is the external transaction reference, when the
	// automation channel reported one
	SettlementRef string
}

// Executor performs the actual money movement for one withdrawal.
// It models a single stateful external automation session: calls must be
// serialized by the caller, and a call is never retried for the same task
// because the contract gives no idempotency guarantee.
type Executor interface {
	Execute(ctx context.Context, amount decimal.Decimal, account string) (Result, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, amount decimal.Decimal, account string) (Result, error)

func (f ExecutorFunc) Execute(ctx context.Context, amount decimal.Decimal, account string) (Result, error) {
	return f(ctx, amount, account)
}

// SessionProvider hands out a healthy executor session. Implementations
// own reconnect logic; Acquire may block while a session is re-established.
type SessionProvider interface {
	Acquire(ctx context.Context) (Executor, error)
}

// StaticProvider wraps an already connected executor.
type StaticProvider struct {
	Exec Executor
}

func (p StaticProvider) Acquire(_ context.Context) (Executor, error) {
	return p.Exec, nil
}

// RetryingProvider wraps a provider with exponential backoff, so a worker
// facing a briefly unavailable automation session reconnects instead of
// failing the task outright.
type RetryingProvider struct {
	Base        SessionProvider
	BaseDelay   time.Duration
	MaxAttempts uint64
}

func (p RetryingProvider) Acquire(ctx context.Context) (Executor, error) {
	baseDelay := p.BaseDelay
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}

	backoff := retry.WithMaxRetries(maxAttempts, retry.NewExponential(baseDelay))

	var exec Executor
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		exec, err = p.Base.Acquire(ctx)
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return exec, nil
}
