package offload

import (
	"context"
	"sync"
)

// Promise is the eventual result of an asynchronous operation. The first
// resolution wins; later calls to Complete or Fail are ignored.
type Promise[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

func NewPromise[T any]() *Promise[T] {
	return &Promise[T]{done: make(chan struct{})}
}

// Failed returns a promise already failed with err.
func Failed[T any](err error) *Promise[T] {
	p := NewPromise[T]()
	p.Fail(err)
	return p
}

func (p *Promise[T]) Done() <-chan struct{} {
	return p.done
}

func (p *Promise[T]) Complete(value T) bool {
	resolved := false
	p.once.Do(func() {
		p.value = value
		resolved = true
		close(p.done)
	})
	return resolved
}

func (p *Promise[T]) Fail(err error) bool {
	resolved := false
	p.once.Do(func() {
		p.err = err
		resolved = true
		close(p.done)
	})
	return resolved
}

// Get waits for the promise to resolve, or for ctx to be done.
func (p *Promise[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
