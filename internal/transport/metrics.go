// Package transport holds decorators that add observability to any
// pub.Transport. Concrete transports live in the subpackages.
package transport

import (
	"context"
	"time"

	"batchpub/internal/pub"
	"batchpub/internal/pub/metrics"
)

// MetricsTransport wraps a pub.Transport with metrics collection
type MetricsTransport struct {
	transport pub.Transport
	registry  *metrics.Registry
}

// NewMetricsTransport creates a new instrumented transport
func NewMetricsTransport(transport pub.Transport, registry *metrics.Registry) pub.Transport {
	return &MetricsTransport{
		transport: transport,
		registry:  registry,
	}
}

// Send implements pub.Transport.Send with metrics collection
func (t *MetricsTransport) Send(ctx context.Context, req pub.BatchRequest) (pub.BatchResponse, error) {
	start := time.Now()

	resp, err := t.transport.Send(ctx, req)
	duration := time.Since(start)

	t.registry.RecordBatchSend(req.Topic, len(req.Messages), req.Bytes(), duration, err)

	return resp, err
}
