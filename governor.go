package graphmatch

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"
)

// ---------------------------------------------------------------------------
// Query Governor: resource limits for one plan execution.
//
// Pattern matching is output-sensitive: a star pattern over a dense graph
// can materialise millions of expanding subgraphs before Report ever runs.
// The governor bounds both ends:
//
//  1. MaxIntermediate caps the expanding subgraphs a single instruction may
//     create (GetAdj fan-out, T-bucket merges).
//  2. MaxMatches caps the final matches produced by Execute.
//
// DefaultTimeout applies only when the caller's context has no deadline.
// ---------------------------------------------------------------------------

var (
	// ErrResultTooLarge is returned when Execute produces more matches than
	// Options.MaxMatches.
	ErrResultTooLarge = errors.New("graphmatch: result exceeds MaxMatches limit")

	// ErrIntermediateTooLarge is returned when one instruction materialises
	// more expanding subgraphs than Options.MaxIntermediate.
	ErrIntermediateTooLarge = errors.New("graphmatch: intermediate result exceeds MaxIntermediate limit")

	// ErrQueryPanic is returned when plan execution panics. The panic value
	// and a stack trace are part of the message.
	ErrQueryPanic = errors.New("graphmatch: execution panicked")
)

type queryGovernor struct {
	maxMatches      int // 0 = unlimited
	maxIntermediate int // 0 = unlimited
	defaultTimeout  time.Duration
}

func newQueryGovernor(opts Options) *queryGovernor {
	return &queryGovernor{
		maxMatches:      opts.MaxMatches,
		maxIntermediate: opts.MaxIntermediate,
		defaultTimeout:  opts.DefaultTimeout,
	}
}

// wrapContext applies defaultTimeout when ctx carries no deadline. The
// returned cancel func must always be called.
func (g *queryGovernor) wrapContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.defaultTimeout <= 0 {
		return ctx, func() {}
	}
	if _, ok := ctx.Deadline(); !ok {
		return context.WithTimeout(ctx, g.defaultTimeout)
	}
	return ctx, func() {}
}

func (g *queryGovernor) checkMatchCount(n int) error {
	if g.maxMatches > 0 && n > g.maxMatches {
		return ErrResultTooLarge
	}
	return nil
}

func (g *queryGovernor) checkIntermediate(n int) error {
	if g.maxIntermediate > 0 && n > g.maxIntermediate {
		return ErrIntermediateTooLarge
	}
	return nil
}

// safeExecuteResult runs fn and converts a panic into an error wrapping
// ErrQueryPanic, so one bad plan or adapter cannot take the process down.
func safeExecuteResult[T any](fn func() (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			var zero T
			result = zero
			err = fmt.Errorf("%w: %v\n\nstack trace:\n%s", ErrQueryPanic, r, buf[:n])
		}
	}()
	return fn()
}
