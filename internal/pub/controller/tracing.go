package controller

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"batchpub/internal/pub"
	"batchpub/internal/pub/tracing"
)

// TracedController wraps a pub.Controller with distributed tracing
// Layer order: TracedController -> MetricsController -> Controller (real thing)
type TracedController struct {
	controller pub.Controller
	tracer     *tracing.Tracer
}

// NewTracedController creates a new traced controller that wraps a metrics controller
func NewTracedController(controller pub.Controller, tracer *tracing.Tracer) pub.Controller {
	return &TracedController{
		controller: controller,
		tracer:     tracer,
	}
}

// ReserveOffsets implements pub.Controller.ReserveOffsets with distributed tracing
func (c *TracedController) ReserveOffsets(ctx context.Context, topic string, n int) (uint64, error) {
	ctx, span := c.tracer.StartSpan(ctx, "controller.reserve_offsets")
	defer span.End()

	span.SetAttributes(c.tracer.DatabaseAttributes("reserve_offsets")...)
	span.SetAttributes(
		attribute.String("pub.topic", topic),
		attribute.Int("pub.reserve_count", n),
	)

	first, err := c.controller.ReserveOffsets(ctx, topic, n)

	if err != nil {
		c.tracer.RecordError(ctx, err)
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.Int64("pub.first_offset", int64(first)))
	}

	span.SetAttributes(c.tracer.ErrorAttributes(err)...)
	return first, err
}

// InsertMessage implements pub.Controller.InsertMessage with distributed tracing
func (c *TracedController) InsertMessage(ctx context.Context, msg pub.StoredMessage) error {
	ctx, span := c.tracer.StartSpan(ctx, "controller.insert_message")
	defer span.End()

	span.SetAttributes(c.tracer.DatabaseAttributes("insert_message")...)
	span.SetAttributes(c.tracer.PubAttributes(msg.Topic, msg.OrderingKey)...)
	span.SetAttributes(
		attribute.String("pub.message_id", msg.ID),
		attribute.Int64("pub.message_offset", int64(msg.Offset)),
	)

	err := c.controller.InsertMessage(ctx, msg)

	if err != nil {
		c.tracer.RecordError(ctx, err)
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.SetAttributes(c.tracer.ErrorAttributes(err)...)
	return err
}
