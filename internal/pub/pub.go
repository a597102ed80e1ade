// Package pub defines the domain types and capability interfaces of the
// batching publisher: messages, per-message results, publisher options and
// the transport and scheduler collaborators the publishers depend on.
package pub

import "context"

// Publisher accepts messages for a single topic and settles one Result per
// message once the batch carrying it has been acknowledged.
type Publisher interface {
	// Publish enqueues a message and returns immediately. The returned Result
	// settles asynchronously with the ack id or the failure of its batch.
	Publish(msg Message) *Result

	// Flush dispatches all currently open batches without waiting for any
	// threshold. Completion is observed through the individual results.
	Flush()

	// Close stops accepting messages, flushes what is open and waits until
	// every dispatched batch has settled or ctx is done.
	Close(ctx context.Context) error
}
