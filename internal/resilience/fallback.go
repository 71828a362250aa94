package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when no vendor in a [FallbackGroup] served the
// call. It wraps every vendor's error.
var ErrAllFailed = errors.New("resilience: all providers failed")

// FallbackConfig is applied to every vendor added to a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is copied per vendor with Name set to the vendor name.
	CircuitBreaker CircuitBreakerConfig
}

type member[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup is an ordered list of interchangeable vendors, each behind
// its own [CircuitBreaker]. Vendors are added during setup; calls may then
// run concurrently.
type FallbackGroup[T any] struct {
	cfg     FallbackConfig
	members []member[T]
}

// NewFallbackGroup creates a group whose first vendor is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a vendor to the end of the try order.
func (fg *FallbackGroup[T]) AddFallback(name string, v T) {
	cb := fg.cfg.CircuitBreaker
	cb.Name = name
	fg.members = append(fg.members, member[T]{name: name, value: v, breaker: NewCircuitBreaker(cb)})
}

// Names returns the vendor names in try order.
func (fg *FallbackGroup[T]) Names() []string {
	out := make([]string, 0, len(fg.members))
	for _, m := range fg.members {
		out = append(out, m.name)
	}
	return out
}

// Execute runs fn against each vendor in order until one succeeds.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(T) error) error {
	return fg.attempt(ctx, func(v T) (bool, error) { return false, fn(v) })
}

// ExecuteWithResult is [FallbackGroup.Execute] for calls that produce a
// value. Vendors whose breaker is open are skipped. Cancellation stops the
// loop and is returned as is.
func ExecuteWithResult[T, R any](ctx context.Context, fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var out R
	err := fg.attempt(ctx, func(v T) (bool, error) {
		r, err := fn(v)
		if err == nil {
			out = r
		}
		return false, err
	})
	if err != nil {
		var zero R
		return zero, err
	}
	return out, nil
}

// attempt is the failover loop. call returns final=true when its error must
// reach the caller without trying the next vendor.
func (fg *FallbackGroup[T]) attempt(ctx context.Context, call func(T) (final bool, err error)) error {
	var errs []error
	for i, m := range fg.members {
		if err := ctx.Err(); err != nil {
			return err
		}
		var final bool
		err := m.breaker.Execute(func() error {
			var err error
			final, err = call(m.value)
			return err
		})
		switch {
		case err == nil:
			if i > 0 {
				slog.Info("resilience: served by fallback", "provider", m.name)
			}
			return nil
		case final, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("resilience: skipping provider, circuit open", "provider", m.name)
		default:
			slog.Warn("resilience: provider failed, trying next", "provider", m.name, "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", m.name, err))
	}
	return fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
