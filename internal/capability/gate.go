package capability

import (
	"context"
	"errors"
)

// ErrUnavailable marks a capability that failed to initialize or was never
// configured. Callers treat it as fatal for the whole request.
var ErrUnavailable = errors.New("capability unavailable")

// Gate bounds concurrent use of one shared capability instance. A gate of
// size 1 serializes access for runtimes that are not safe for concurrent use.
type Gate struct {
	sema chan struct{}
}

func NewGate(size int) *Gate {
	if size <= 0 {
		size = 1
	}
	return &Gate{sema: make(chan struct{}, size)}
}

// Acquire blocks until a slot is free or ctx is done.
func (g *Gate) Acquire(ctx context.Context) error {
	select {
	case g.sema <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gate) Release() {
	select {
	case <-g.sema:
	default:
	}
}

// Do runs fn while holding a slot.
func (g *Gate) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := g.Acquire(ctx); err != nil {
		return err
	}
	defer g.Release()
	return fn(ctx)
}

func (g *Gate) Size() int { return cap(g.sema) }

// InUse reports how many slots are currently held.
func (g *Gate) InUse() int { return len(g.sema) }
