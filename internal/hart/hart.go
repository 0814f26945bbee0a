// Package hart stands in for the per-hart scheduler loop driver
// spec.md §1 excludes from redesign ("early machine-mode boot and
// timer setup"): one goroutine per hardware thread, fanned out and
// joined with golang.org/x/sync/errgroup so a fatal kernel panic
// raised on any hart (internal/diag.Panic) tears down every other
// hart's loop instead of leaving them spinning. Grounded on
// hanwen-go-fuse's go.mod, which lists golang.org/x/sync as a direct
// dependency, and on biscuit's own indirect golang.org/x/sync
// requirement — this is the one piece of the boot/hart boundary
// spec.md asks to keep as an interface (EXPANSION, see SPEC_FULL.md
// §1 and §5).
package hart

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Runner is the body of one hart's scheduling loop. Implementations
// must return promptly when ctx is cancelled (another hart panicked,
// or the fleet is shutting down in a test).
type Runner interface {
	Run(ctx context.Context, hartID int32) error
}

// RunnerFunc adapts a plain function to Runner.
type RunnerFunc func(ctx context.Context, hartID int32) error

func (f RunnerFunc) Run(ctx context.Context, hartID int32) error { return f(ctx, hartID) }

// Fleet brings up n harts running r and blocks until they all exit —
// either because ctx was cancelled or because one Runner returned a
// non-nil error, in which case every other hart is cancelled too and
// that first error is returned. This mirrors the boot sequence of
// spec.md §4.L: hart 0 does one-time global init, then every hart
// (0..n-1) enters its scheduler loop and only a fatal condition ever
// makes it return.
func Fleet(ctx context.Context, n int, r Runner) error {
	g, gctx := errgroup.WithContext(ctx)
	for id := 0; id < n; id++ {
		hartID := int32(id)
		g.Go(func() error {
			return r.Run(gctx, hartID)
		})
	}
	return g.Wait()
}
