package savefs

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/remarkablegames/renpy-sdk/internal/shellerr"
)

// exclusiveWeight is the full capacity of the guard semaphore. Engine calls
// take weight 1, so no realistic number of them can starve a transfer.
const exclusiveWeight = 1 << 20

// Guard arbitrates the namespace between the engine and save transfers.
type Guard struct {
	sem          *semaphore.Weighted
	transferring atomic.Bool
}

// NewGuard returns an idle guard.
func NewGuard() *Guard {
	return &Guard{sem: semaphore.NewWeighted(exclusiveWeight)}
}

// Exclusive acquires the namespace for a transfer. It fails with
// shellerr.ErrBusy if another transfer holds or is waiting for the
// namespace, and otherwise waits for in-flight engine calls to drain. The
// returned release is safe to call more than once.
func (g *Guard) Exclusive(ctx context.Context) (release func(), err error) {
	if !g.transferring.CompareAndSwap(false, true) {
		return nil, shellerr.Wrap(shellerr.CodeBusy, "another save transfer is in progress", nil)
	}
	if err := g.sem.Acquire(ctx, exclusiveWeight); err != nil {
		g.transferring.Store(false)
		return nil, shellerr.Wrap(shellerr.CodeCanceled, shellerr.ErrCanceled.Message, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.sem.Release(exclusiveWeight)
			g.transferring.Store(false)
		})
	}, nil
}

// Shared acquires the namespace for one engine call. It never blocks: while
// a transfer holds or waits for exclusive access it fails with
// shellerr.ErrBusy.
func (g *Guard) Shared() (release func(), err error) {
	if !g.sem.TryAcquire(1) {
		return nil, shellerr.ErrBusy
	}
	var once sync.Once
	return func() {
		once.Do(func() { g.sem.Release(1) })
	}, nil
}

// Busy reports whether a transfer holds or is waiting for the namespace.
func (g *Guard) Busy() bool {
	return g.transferring.Load()
}
