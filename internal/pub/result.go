package pub

import (
	"context"
	"sync"
)

// Result is the pending outcome of a single Publish call. It settles exactly
// once, with either the ack id assigned by the transport or an error.
type Result struct {
	once  sync.Once
	done  chan struct{}
	ackID string
	err   error
}

// NewResult creates an unsettled Result.
func NewResult() *Result {
	return &Result{done: make(chan struct{})}
}

// Set settles the result. Only the first call has any effect; it reports
// whether this call settled the result.
func (r *Result) Set(ackID string, err error) bool {
	settled := false
	r.once.Do(func() {
		r.ackID = ackID
		r.err = err
		settled = true
		close(r.done)
	})
	return settled
}

// Ready returns a channel that is closed once the result has settled.
func (r *Result) Ready() <-chan struct{} {
	return r.done
}

// Get blocks until the result settles or ctx is done.
func (r *Result) Get(ctx context.Context) (string, error) {
	select {
	case <-r.done:
		return r.ackID, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
