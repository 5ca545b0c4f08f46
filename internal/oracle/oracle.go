// Package oracle defines the reasoning-oracle contract and its transports:
// OpenAI chat completions, a gRPC text service, and replay from files.
package oracle

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// SystemMessage is the system instruction sent with every scaling request.
const SystemMessage = "You are a reasoning agent for SHAP value estimation."

// #region interface
// Oracle turns a system instruction and a user prompt into free-form text.
type Oracle interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Func adapts a plain function to Oracle.
type Func func(ctx context.Context, system, user string) (string, error)

// Complete calls f.
func (f Func) Complete(ctx context.Context, system, user string) (string, error) {
	return f(ctx, system, user)
}

// #endregion interface

// #region rate-limit
type limited struct {
	next    Oracle
	limiter *rate.Limiter
}

// WithRateLimit waits on limiter before every call to next.
func WithRateLimit(next Oracle, limiter *rate.Limiter) Oracle {
	return &limited{next: next, limiter: limiter}
}

func (l *limited) Complete(ctx context.Context, system, user string) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit: %w", err)
	}
	return l.next.Complete(ctx, system, user)
}

// #endregion rate-limit
