package core

import (
	"context"
	"errors"
	"time"
)

// ErrFutureTimeout is returned by AwaitWithTimeout when the result is not
// ready in time.
var ErrFutureTimeout = errors.New("core: timed out waiting for future completion")

// Future is the eventual result of an asynchronous computation.
type Future[U any] struct {
	result U
	done   chan struct{}
}

func goFuture[U any](fn func() U) *Future[U] {
	f := &Future[U]{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.result = fn()
	}()
	return f
}

// Await blocks until the result is available.
func (f *Future[U]) Await() U {
	<-f.done
	return f.result
}

// AwaitContext waits for the result or for ctx to end, whichever is first.
func (f *Future[U]) AwaitContext(ctx context.Context) (U, error) {
	select {
	case <-f.done:
		return f.result, nil
	case <-ctx.Done():
		var zero U
		return zero, ctx.Err()
	}
}

// AwaitWithTimeout waits at most timeout for the result.
func (f *Future[U]) AwaitWithTimeout(timeout time.Duration) (U, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-f.done:
		return f.result, nil
	case <-t.C:
		var zero U
		return zero, ErrFutureTimeout
	}
}

// IsComplete reports whether the result is available without blocking.
func (f *Future[U]) IsComplete() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
