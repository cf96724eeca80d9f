package dispatch

import (
	"context"
	"sync"

	"github.com/ryandielhenn/feedwire/pkg/protocol"
)

// Future is the caller's handle on one outstanding command.
type Future struct {
	id   string
	once sync.Once
	done chan struct{}
	res  protocol.Result
}

func newFuture(id string) *Future {
	return &Future{id: id, done: make(chan struct{})}
}

func (f *Future) CorrelationID() string { return f.id }

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the result arrives or ctx ends. A non-nil error means
// the caller stopped waiting; the command itself may still complete.
func (f *Future) Wait(ctx context.Context) (protocol.Result, error) {
	select {
	case <-f.done:
		return f.res, nil
	case <-ctx.Done():
		return protocol.Result{}, ctx.Err()
	}
}

// Result returns the result without blocking.
func (f *Future) Result() (protocol.Result, bool) {
	select {
	case <-f.done:
		return f.res, true
	default:
		return protocol.Result{}, false
	}
}

func (f *Future) complete(res protocol.Result) bool {
	completed := false
	f.once.Do(func() {
		f.res = res
		close(f.done)
		completed = true
	})
	return completed
}
