package producer

import (
	"context"

	"batchpub/internal/pub"
	"batchpub/internal/pub/metrics"
)

// MetricsPublisher wraps a pub.Publisher with metrics collection
type MetricsPublisher struct {
	publisher pub.Publisher
	topic     string
	registry  *metrics.Registry
}

// NewMetricsPublisher creates a new instrumented publisher
func NewMetricsPublisher(publisher pub.Publisher, topic string, registry *metrics.Registry) pub.Publisher {
	return &MetricsPublisher{
		publisher: publisher,
		topic:     topic,
		registry:  registry,
	}
}

// Publish implements pub.Publisher.Publish with metrics collection
func (p *MetricsPublisher) Publish(msg pub.Message) *pub.Result {
	p.registry.RecordPublish(p.topic, msg.OrderingKey != "", msg.Size())
	return p.publisher.Publish(msg)
}

// Flush implements pub.Publisher.Flush with metrics collection
func (p *MetricsPublisher) Flush() {
	p.registry.RecordFlush(p.topic)
	p.publisher.Flush()
}

// Close implements pub.Publisher.Close
func (p *MetricsPublisher) Close(ctx context.Context) error {
	return p.publisher.Close(ctx)
}
