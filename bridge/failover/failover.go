package failover

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "failover").Logger()
}

// SetLogger allows setting a custom logger
func SetLogger(l zerolog.Logger) {
	log = l.With().Str("component", "failover").Logger()
}

// ErrNoProviders is returned by Do when the list is empty.
var ErrNoProviders = errors.New("no providers configured")

// Provider is one named handle for a logical upstream, e.g. one RPC endpoint.
type Provider[T any] struct {
	Name   string
	Client T
}

// List is an ordered set of equivalent providers. The provider that answered last
// is tried first on the next call, the same way a failover client sticks to its
// current URL until it breaks.
type List[T any] struct {
	providers []Provider[T]
	timeout   time.Duration

	// ordered lists always start at the first provider and never move the cursor.
	ordered bool

	mu      sync.RWMutex
	current int
}

// NewList creates a provider list. A zero timeout leaves each attempt bounded only
// by the caller's context.
func NewList[T any](timeout time.Duration, providers ...Provider[T]) *List[T] {
	return &List[T]{
		providers: providers,
		timeout:   timeout,
	}
}

// NewOrderedList creates a provider list that is always tried from the first
// provider. Use it when the order is a preference, e.g. a node before an explorer,
// rather than a set of equivalent endpoints.
func NewOrderedList[T any](timeout time.Duration, providers ...Provider[T]) *List[T] {
	l := NewList(timeout, providers...)
	l.ordered = true
	return l
}

// Len returns the number of providers.
func (l *List[T]) Len() int {
	return len(l.providers)
}

// Current returns the name of the provider that will be tried first.
func (l *List[T]) Current() string {
	if len(l.providers) == 0 {
		return ""
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.providers[l.current].Name
}

func (l *List[T]) start() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

func (l *List[T]) promote(idx int) {
	if l.ordered {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current != idx {
		log.Info().
			Str("from", l.providers[l.current].Name).
			Str("to", l.providers[idx].Name).
			Msg("Switched provider")
		l.current = idx
	}
}

type finalError struct {
	err error
}

func (f *finalError) Error() string { return f.err.Error() }
func (f *finalError) Unwrap() error { return f.err }

// Final marks an error as an answer rather than a provider fault. Do returns it
// without trying the remaining providers. A "transaction not found" reply is the
// usual example: another endpoint would say the same thing.
func Final(err error) error {
	if err == nil {
		return nil
	}
	return &finalError{err: err}
}

// IsFinal reports whether err was marked with Final.
func IsFinal(err error) bool {
	var f *finalError
	return errors.As(err, &f)
}

/*
Do calls fn against each provider in turn, starting with the current one, until one
succeeds.

Parameters:
  - ctx: bounds the whole rotation; cancellation stops it immediately
  - list: the providers to rotate through
  - fn: the call to make, it receives a context carrying the per-attempt timeout

Returns:
  - the first successful result
  - an error joining every attempt's failure if all providers failed, or the
    unwrapped error of a Final answer
*/
func Do[T, R any](ctx context.Context, list *List[T], fn func(ctx context.Context, client T) (R, error)) (R, error) {
	var zero R
	n := len(list.providers)
	if n == 0 {
		return zero, ErrNoProviders
	}

	start := list.start()
	var errs []error
	for i := range n {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		idx := (start + i) % n
		provider := list.providers[idx]

		result, err := attempt(ctx, list.timeout, provider.Client, fn)
		if err == nil {
			list.promote(idx)
			return result, nil
		}
		var final *finalError
		if errors.As(err, &final) {
			list.promote(idx)
			return zero, final.err
		}

		log.Debug().
			Err(err).
			Str("provider", provider.Name).
			Int("attempt", i+1).
			Msg("Provider failed, trying next")
		errs = append(errs, fmt.Errorf("%s: %w", provider.Name, err))
	}

	return zero, fmt.Errorf("all %d providers failed: %w", n, errors.Join(errs...))
}

func attempt[T, R any](
	ctx context.Context,
	timeout time.Duration,
	client T,
	fn func(ctx context.Context, client T) (R, error),
) (R, error) {
	if timeout <= 0 {
		return fn(ctx, client)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx, client)
}
