// Package wmpub implements a pub.Transport over any watermill publisher.
// The default backend is Redis Streams.
package wmpub

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"batchpub/internal/pub"
	"batchpub/internal/validator"
)

// OrderingKeyMetadata is the metadata key holding a message's ordering key.
const OrderingKeyMetadata = "ordering_key"

// Transport sends each batch with a single watermill Publish call. The
// generated message UUIDs are returned as ack ids.
type Transport struct {
	publisher message.Publisher
	logger    *zap.Logger
}

// New wraps a watermill publisher.
func New(publisher message.Publisher, logger *zap.Logger) (*Transport, error) {
	if err := validator.Validate("watermill transport", publisher, logger); err != nil {
		return nil, err
	}

	return &Transport{
		publisher: publisher,
		logger:    logger.Named("watermill"),
	}, nil
}

// NewRedisStream creates a transport publishing to Redis Streams, one stream
// per topic.
func NewRedisStream(client redis.UniversalClient, logger *zap.Logger) (*Transport, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}

	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: client,
		},
		NewLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create publisher: %w", err)
	}

	return New(publisher, logger)
}

// Send implements pub.Transport.
func (t *Transport) Send(ctx context.Context, req pub.BatchRequest) (pub.BatchResponse, error) {
	if len(req.Messages) == 0 {
		return pub.BatchResponse{}, nil
	}

	msgs := make([]*message.Message, len(req.Messages))
	ids := make([]string, len(req.Messages))
	for i, m := range req.Messages {
		ids[i] = watermill.NewUUID()

		msg := message.NewMessage(ids[i], m.Data)
		msg.SetContext(ctx)
		for k, v := range m.Attributes {
			msg.Metadata.Set(k, v)
		}
		if m.OrderingKey != "" {
			msg.Metadata.Set(OrderingKeyMetadata, m.OrderingKey)
		}
		msgs[i] = msg
	}

	if err := t.publisher.Publish(req.Topic, msgs...); err != nil {
		t.logger.Warn("publish failed", zap.String("topic", req.Topic), zap.Int("count", len(msgs)), zap.Error(err))
		return pub.BatchResponse{}, fmt.Errorf("failed to publish to %s: %w", req.Topic, err)
	}

	return pub.BatchResponse{MessageIDs: ids}, nil
}

// Close closes the underlying publisher.
func (t *Transport) Close() error {
	return t.publisher.Close()
}
