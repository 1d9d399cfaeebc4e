package lease

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Guard runs fn for a key only when no other pass for that key is in flight.
// ran reports whether this caller executed fn.
type Guard interface {
	Do(ctx context.Context, key string, fn func(ctx context.Context) error) (ran bool, err error)
}

// Local collapses concurrent passes inside one process. A caller arriving while a pass
// is running waits for it and receives its error with ran=false.
type Local struct {
	group singleflight.Group
}

func NewLocal() *Local { return &Local{} }

func (l *Local) Do(ctx context.Context, key string, fn func(ctx context.Context) error) (bool, error) {
	var mu sync.Mutex
	executed := false
	ch := l.group.DoChan(key, func() (any, error) {
		mu.Lock()
		executed = true
		mu.Unlock()
		return nil, fn(ctx)
	})
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case res := <-ch:
		mu.Lock()
		defer mu.Unlock()
		return executed, res.Err
	}
}
