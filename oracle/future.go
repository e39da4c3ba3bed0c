package oracle

import (
	"context"
)

// Future is the pending answer of an oracle request that runs in its own
// goroutine.
type Future struct {
	done chan struct{}
	res  *Result
	err  error
}

// Go sends the request to the oracle in the background. Cancelling ctx
// cancels the request.
func Go(ctx context.Context, o Oracle, req *Request) *Future {
	f := &Future{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.res, f.err = o.RequestDecryption(ctx, req)
	}()
	return f
}

// Done is closed once the oracle answered.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait returns the answer of the oracle, or the error of ctx if it is done
// before.
func (f *Future) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-f.done:
		return f.res, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
