package idapi

import "context"

// Future is the result handle of an asynchronous call started with DoAsync.
// The underlying call runs to its terminal outcome regardless of whether
// anyone waits.
type Future struct {
	done chan struct{}
	resp *Response
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) complete(resp *Response, err error) {
	f.resp = resp
	f.err = err
	close(f.done)
}

// Done returns a channel closed when the call reaches its terminal outcome.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the call completes or ctx expires. A ctx expiry only
// abandons the wait; cancel the call's own context to abort the call.
func (f *Future) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-f.done:
		return f.resp, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
