// Package fallback implements the ordered-attempt executor that fronts every
// upstream-facing call: try providers in configured order, first non-empty
// result wins, failures are logged and swallowed.
package fallback

import (
	"context"
	"log/slog"
)

// Attempt is one named provider call.
type Attempt[T any] struct {
	Name string
	Fn   func(ctx context.Context) (T, error)
}

// Executor runs attempts in order until one succeeds. Empty results (as
// judged by the empty predicate) count as failures so the chain keeps
// moving.
type Executor[T any] struct {
	attempts []Attempt[T]
	empty    func(T) bool
	log      *slog.Logger
	context  string
}

// New creates an Executor. empty may be nil, in which case only errors count
// as failure. contextLabel tags log lines (typically the symbol).
func New[T any](attempts []Attempt[T], empty func(T) bool, log *slog.Logger, contextLabel string) *Executor[T] {
	if log == nil {
		log = slog.Default()
	}
	return &Executor[T]{attempts: attempts, empty: empty, log: log, context: contextLabel}
}

// Execute tries each attempt in order and returns the first non-empty,
// non-failing result. The second return is false when every attempt failed.
// Execute never panics on provider errors; it logs and moves on.
func (e *Executor[T]) Execute(ctx context.Context) (T, bool) {
	var zero T
	for i, a := range e.attempts {
		if ctx.Err() != nil {
			return zero, false
		}

		result, err := a.Fn(ctx)
		if err != nil {
			e.log.Warn("provider attempt failed",
				"provider", a.Name, "context", e.context, "error", err)
			continue
		}
		if e.empty != nil && e.empty(result) {
			e.log.Debug("provider returned empty result",
				"provider", a.Name, "context", e.context)
			continue
		}
		if i > 0 {
			e.log.Info("provider fallback succeeded",
				"provider", a.Name, "context", e.context, "attempt", i+1)
		}
		return result, true
	}

	e.log.Error("all providers failed", "context", e.context, "attempts", len(e.attempts))
	return zero, false
}
