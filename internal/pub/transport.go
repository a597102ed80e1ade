package pub

import (
	"context"
	"time"
)

// BatchRequest is a batch of messages for one topic. All messages of a batch
// share the same ordering key.
type BatchRequest struct {
	Topic       string
	OrderingKey string
	Messages    []Message
}

// Bytes returns the accumulated size of the batch messages.
func (r BatchRequest) Bytes() int {
	n := 0
	for _, m := range r.Messages {
		n += m.Size()
	}
	return n
}

// BatchResponse carries one ack id per request message, in request order.
type BatchResponse struct {
	MessageIDs []string
}

// Transport sends a batch to the broker. A call is a single attempt; retries,
// if any, are the implementation's concern.
type Transport interface {
	Send(ctx context.Context, req BatchRequest) (BatchResponse, error)
}

// Timer is a pending one-shot callback created by a Scheduler.
type Timer interface {
	// Stop prevents the callback from running. It reports false if the
	// callback already ran or the timer was already stopped.
	Stop() bool
}

// Scheduler is the execution context for everything that happens after
// Publish returns: transport sends, result settlement and hold timers.
type Scheduler interface {
	// Schedule runs fn asynchronously, never on the calling goroutine.
	Schedule(fn func())
	// AfterFunc runs fn on the scheduler once d has elapsed.
	AfterFunc(d time.Duration, fn func()) Timer
	// Now returns the scheduler's notion of the current time.
	Now() time.Time
}
