package controller

import (
	"context"
	"time"

	"batchpub/internal/pub"
	"batchpub/internal/pub/metrics"
)

// MetricsController wraps a pub.Controller with metrics collection
type MetricsController struct {
	controller pub.Controller
	registry   *metrics.Registry
}

// NewMetricsController creates a new instrumented controller
func NewMetricsController(controller pub.Controller, registry *metrics.Registry) pub.Controller {
	return &MetricsController{
		controller: controller,
		registry:   registry,
	}
}

// ReserveOffsets implements pub.Controller.ReserveOffsets with metrics collection
func (c *MetricsController) ReserveOffsets(ctx context.Context, topic string, n int) (uint64, error) {
	start := time.Now()

	first, err := c.controller.ReserveOffsets(ctx, topic, n)
	duration := time.Since(start)

	c.registry.RecordDatabaseOperation("reserve_offsets", duration, err)

	return first, err
}

// InsertMessage implements pub.Controller.InsertMessage with metrics collection
func (c *MetricsController) InsertMessage(ctx context.Context, msg pub.StoredMessage) error {
	start := time.Now()

	err := c.controller.InsertMessage(ctx, msg)
	duration := time.Since(start)

	c.registry.RecordDatabaseOperation("insert_message", duration, err)

	return err
}
