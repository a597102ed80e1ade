// Package producer implements the batching publishers: BatchingPublisher
// accumulates messages for one stream into batches, OrderingPublisher fans
// messages out to one BatchingPublisher per ordering key.
package producer

import (
	"fmt"

	"go.uber.org/zap"

	"batchpub/internal/pub"
	"batchpub/internal/validator"
)

// New creates the publisher for topic. Without message ordering every
// message goes through a single BatchingPublisher; with message ordering each
// ordering key gets its own BatchingPublisher, all sharing transport,
// scheduler and options.
func New(
	topic string,
	opts pub.Options,
	ordering bool,
	transport pub.Transport,
	scheduler pub.Scheduler,
	logger *zap.Logger,
) (pub.Publisher, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	if err := validator.Validate("publisher", topic, transport, scheduler, logger); err != nil {
		return nil, fmt.Errorf("failed to validate publisher deps: %w", err)
	}

	if !ordering {
		return newBatchingPublisher(topic, opts, transport, scheduler, logger), nil
	}

	factory := func(orderingKey string) pub.Publisher {
		return newBatchingPublisher(topic, opts, transport, scheduler, logger.With(zap.String("orderingKey", orderingKey)))
	}

	return NewOrderingPublisher(factory, logger)
}
