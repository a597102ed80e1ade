package producer

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"batchpub/internal/pub"
	"batchpub/internal/validator"
)

// Factory creates the publisher that owns the messages of one ordering key.
// The empty key identifies the publisher shared by all unordered messages.
type Factory func(orderingKey string) pub.Publisher

// OrderingPublisher routes messages to one publisher per ordering key. Since
// a key's messages always reach the same publisher, in the order Publish was
// called, they are batched and acknowledged in that order.
type OrderingPublisher struct {
	factory Factory
	logger  *zap.Logger

	// All further fields are protected by mu
	mu         sync.Mutex
	publishers map[string]pub.Publisher
	closed     bool
}

var _ pub.Publisher = (*OrderingPublisher)(nil)

// NewOrderingPublisher creates a router that builds per-key publishers with
// factory. The publisher for unordered messages is created right away.
func NewOrderingPublisher(factory Factory, logger *zap.Logger) (*OrderingPublisher, error) {
	if err := validator.Validate("ordering publisher", factory, logger); err != nil {
		return nil, fmt.Errorf("failed to validate ordering publisher deps: %w", err)
	}

	o := OrderingPublisher{
		factory:    factory,
		logger:     logger.Named("ordering"),
		publishers: map[string]pub.Publisher{"": factory("")},
	}

	return &o, nil
}

// Publish implements pub.Publisher.
func (o *OrderingPublisher) Publish(msg pub.Message) *pub.Result {
	return o.publisherFor(msg.OrderingKey).Publish(msg)
}

// Flush implements pub.Publisher by flushing every known publisher.
func (o *OrderingPublisher) Flush() {
	for _, p := range o.snapshot() {
		p.Flush()
	}
}

// Close implements pub.Publisher. All per-key publishers are closed
// concurrently.
func (o *OrderingPublisher) Close(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range o.snapshot() {
		g.Go(func() error {
			return p.Close(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to close ordering publisher: %w", err)
	}

	return nil
}

// Len returns the number of ordering keys seen so far, not counting the
// unordered publisher.
func (o *OrderingPublisher) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.publishers) - 1
}

// publisherFor returns the publisher owning key, creating it on first use.
// Once closed, every message goes to the closed unordered publisher, which
// rejects it.
func (o *OrderingPublisher) publisherFor(key string) pub.Publisher {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return o.publishers[""]
	}

	p, ok := o.publishers[key]
	if !ok {
		p = o.factory(key)
		o.publishers[key] = p
		o.logger.Debug("created publisher for ordering key",
			zap.String("orderingKey", key),
			zap.Int("keys", len(o.publishers)-1),
		)
	}

	return p
}

func (o *OrderingPublisher) snapshot() []pub.Publisher {
	o.mu.Lock()
	defer o.mu.Unlock()

	publishers := make([]pub.Publisher, 0, len(o.publishers))
	for _, p := range o.publishers {
		publishers = append(publishers, p)
	}
	return publishers
}
