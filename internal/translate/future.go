package translate

import (
	"context"
	"sync"
)

// Future is a resolve-once promise for a translation result. An empty value
// means "no translation". Resolving an already-resolved Future is a no-op,
// so defensive double-completion never produces a second observable result.
type Future struct {
	once  sync.Once
	done  chan struct{}
	value string
}

func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// ResolvedFuture returns a Future that is already resolved to value.
func ResolvedFuture(value string) *Future {
	f := NewFuture()
	f.Resolve(value)
	return f
}

func (f *Future) Resolve(value string) {
	f.once.Do(func() {
		f.value = value
		close(f.done)
	})
}

// Done is closed once the Future is resolved.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Value is only meaningful after Done is closed.
func (f *Future) Value() string {
	return f.value
}

// Wait blocks until the Future resolves or ctx is cancelled.
func (f *Future) Wait(ctx context.Context) (string, error) {
	select {
	case <-f.done:
		return f.value, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
