package comet

import (
	"context"
	"encoding/json"
	"time"
)

// Future is a request awaiting its reply.
//
// A future is completed exactly once, by whoever removes it from the
// session's pending table.
type Future struct {
	id      uint64
	method  string
	started time.Time
	done    chan struct{}
	result  json.RawMessage
	err     error
	release func(f *Future, cause error) bool
	// direct futures were issued while a handler ran and are completed by
	// the read goroutine.
	direct bool
}

func newFuture(id uint64, method string, release func(*Future, error) bool) *Future {
	return &Future{
		id:      id,
		method:  method,
		started: time.Now(),
		done:    make(chan struct{}),
		release: release,
	}
}

// ID returns the sequence id allocated to the request.
func (f *Future) ID() uint64 { return f.id }

// Method returns the requested method.
func (f *Future) Method() string { return f.method }

// Done is closed once the future has a result or an error.
func (f *Future) Done() <-chan struct{} { return f.done }

// Result returns the outcome of a completed future without blocking.
func (f *Future) Result() (json.RawMessage, error) {
	select {
	case <-f.done:
		return f.result, f.err
	default:
		return nil, ErrPending
	}
}

// Wait blocks until the reply arrives or ctx is done. When ctx ends first the
// request is dropped from the pending table and a late reply is discarded.
func (f *Future) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
	}
	if f.release != nil && f.release(f, ctx.Err()) {
		return nil, ctx.Err()
	}
	<-f.done
	return f.result, f.err
}

func (f *Future) complete(result json.RawMessage, err error) {
	f.result = result
	f.err = err
	close(f.done)
}
