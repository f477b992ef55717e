// Package retry provides a generic bounded retry helper.
package retry

import (
	"context"
	"reflect"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// DefaultMaxAttempts is the default total number of attempts.
const DefaultMaxAttempts = 2

// Options configures Execute.
type Options[T any] struct {
	// RetryOperation is used for attempts after the first. Defaults to the primary operation.
	RetryOperation func(ctx context.Context) (T, error)
	// ShouldRetry decides whether a successful result warrants another attempt.
	// Defaults to retrying on the zero value (nil pointer, empty string, ...).
	ShouldRetry func(result T) bool
	// RetryIf decides whether a failed attempt is retried. Defaults to retrying every error.
	RetryIf func(err error) bool
	// OnRetry is invoked before each retry with the retry number (1-based) and the previous outcome.
	OnRetry func(attempt int, result T, err error)
	// MaxAttempts is the total number of attempts. Values below 1 mean DefaultMaxAttempts.
	MaxAttempts int
}

// Option configures Options.
type Option[T any] func(*Options[T])

// WithRetryOperation sets the operation used for retries.
func WithRetryOperation[T any](op func(ctx context.Context) (T, error)) Option[T] {
	return func(o *Options[T]) { o.RetryOperation = op }
}

// WithShouldRetry sets the result predicate.
func WithShouldRetry[T any](fn func(result T) bool) Option[T] {
	return func(o *Options[T]) { o.ShouldRetry = fn }
}

// WithRetryIf sets the error predicate. Errors it rejects are returned at once.
func WithRetryIf[T any](fn func(err error) bool) Option[T] {
	return func(o *Options[T]) { o.RetryIf = fn }
}

// WithOnRetry sets the retry callback.
func WithOnRetry[T any](fn func(attempt int, result T, err error)) Option[T] {
	return func(o *Options[T]) { o.OnRetry = fn }
}

// WithMaxAttempts sets the total number of attempts.
func WithMaxAttempts[T any](n int) Option[T] {
	return func(o *Options[T]) { o.MaxAttempts = n }
}

// Execute runs operation and retries it while it fails with an error RetryIf
// accepts or ShouldRetry reports true, up to MaxAttempts in total.
//
// The context is checked before every attempt; a cancelled context returns
// immediately without consuming an attempt or calling OnRetry.
// When attempts run out, the last result is returned if the last attempt succeeded,
// otherwise the last error.
func Execute[T any](ctx context.Context, operation func(ctx context.Context) (T, error), opts ...Option[T]) (T, error) {
	o := Options[T]{MaxAttempts: DefaultMaxAttempts}
	for _, opt := range opts {
		opt(&o)
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.ShouldRetry == nil {
		o.ShouldRetry = isZero[T]
	}
	if o.RetryOperation == nil {
		o.RetryOperation = operation
	}

	var (
		result T
		err    error
	)
	for attempt := 0; attempt < o.MaxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			var zero T
			return zero, errors.Wrap(ctxErr, "retry cancelled")
		}

		if attempt > 0 && o.OnRetry != nil {
			o.OnRetry(attempt, result, err)
		}

		op := operation
		if attempt > 0 {
			op = o.RetryOperation
		}

		result, err = op(ctx)
		if err == nil && !o.ShouldRetry(result) {
			return result, nil
		}
		if err != nil && o.RetryIf != nil && !o.RetryIf(err) {
			var zero T
			return zero, err
		}

		zlog.Debug().Msgf("retry: attempt=%d/%d failed_or_rejected err=%v", attempt+1, o.MaxAttempts, err)
	}

	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

func isZero[T any](v T) bool {
	rv := reflect.ValueOf(&v).Elem()
	return rv.IsZero()
}
