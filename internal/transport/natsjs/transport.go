// Package natsjs implements a pub.Transport on top of NATS JetStream. Every
// topic maps to the subject <stream>.<topic>; the stream sequence number of a
// stored message becomes its ack id.
package natsjs

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"batchpub/internal/pub"
)

// OrderingKeyHeader carries the ordering key of a message.
const OrderingKeyHeader = "Pub-Ordering-Key"

// JetStream is the part of jetstream.JetStream the transport uses.
type JetStream interface {
	CreateOrUpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// jetStreamNew is a variable to allow mocking jetstream.New in tests.
var jetStreamNew = func(nc *nats.Conn) (JetStream, error) {
	return jetstream.New(nc)
}

// Transport publishes batches to a JetStream stream.
type Transport struct {
	js     JetStream
	stream string
	logger *zap.Logger
}

// New creates a transport for the given connection and makes sure the stream
// exists.
func New(nc *nats.Conn, stream string, logger *zap.Logger) (*Transport, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection cannot be nil")
	}
	js, err := jetStreamNew(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	if err := EnsureStream(js, stream); err != nil {
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	return NewFromJetStream(js, stream, logger), nil
}

// NewFromJetStream wraps an existing JetStream context without touching the
// stream configuration.
func NewFromJetStream(js JetStream, stream string, logger *zap.Logger) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{
		js:     js,
		stream: stream,
		logger: logger.Named("jetstream").With(zap.String("stream", stream)),
	}
}

// EnsureStream creates the stream, or updates it, so that it captures every
// topic subject.
func EnsureStream(js JetStream, stream string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     stream,
		Subjects: []string{stream + ".>"},
		Storage:  jetstream.FileStorage,
	})
	return err
}

// Subject returns the subject messages of topic are published to.
func (t *Transport) Subject(topic string) string {
	return t.stream + "." + topic
}

// Send publishes the messages one after another and waits for each ack, so
// their stream sequence follows batch order. A failure aborts the batch; any
// messages already stored stay in the stream.
func (t *Transport) Send(ctx context.Context, req pub.BatchRequest) (pub.BatchResponse, error) {
	subject := t.Subject(req.Topic)
	ids := make([]string, 0, len(req.Messages))

	for i, msg := range req.Messages {
		m := nats.NewMsg(subject)
		m.Data = msg.Data
		for k, v := range msg.Attributes {
			m.Header.Set(k, v)
		}
		if msg.OrderingKey != "" {
			m.Header.Set(OrderingKeyHeader, msg.OrderingKey)
		}

		ack, err := t.js.PublishMsg(ctx, m, jetstream.WithExpectStream(t.stream))
		if err != nil {
			t.logger.Warn("publish failed",
				zap.String("subject", subject),
				zap.Int("index", i),
				zap.Error(err),
			)
			return pub.BatchResponse{}, fmt.Errorf("failed to publish to %s: %w", subject, err)
		}

		ids = append(ids, ack.Stream+":"+strconv.FormatUint(ack.Sequence, 10))
	}

	return pub.BatchResponse{MessageIDs: ids}, nil
}
