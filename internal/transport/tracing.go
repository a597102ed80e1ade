package transport

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"batchpub/internal/pub"
	"batchpub/internal/pub/tracing"
)

// TracedTransport wraps a pub.Transport with distributed tracing
// Layer order: TracedTransport -> MetricsTransport -> Transport (real thing)
type TracedTransport struct {
	transport pub.Transport
	tracer    *tracing.Tracer
}

// NewTracedTransport creates a new traced transport that wraps a metrics transport
func NewTracedTransport(transport pub.Transport, tracer *tracing.Tracer) pub.Transport {
	return &TracedTransport{
		transport: transport,
		tracer:    tracer,
	}
}

// Send implements pub.Transport.Send with distributed tracing. Every batch
// gets its own id so that its span can be correlated with broker-side logs.
func (t *TracedTransport) Send(ctx context.Context, req pub.BatchRequest) (pub.BatchResponse, error) {
	ctx, span := t.tracer.StartSpan(ctx, "transport.send_batch")
	defer span.End()

	span.SetAttributes(t.tracer.BatchAttributes(
		req.Topic,
		req.OrderingKey,
		uuid.NewString(),
		len(req.Messages),
		req.Bytes(),
	)...)

	resp, err := t.transport.Send(ctx, req)

	if err != nil {
		t.tracer.RecordError(ctx, err)
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.Int("pub.ack_count", len(resp.MessageIDs)))
	}

	span.SetAttributes(t.tracer.ErrorAttributes(err)...)

	return resp, err
}
