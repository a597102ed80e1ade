// Package ledger implements a pub.Transport that appends every batch to a
// Couchbase-backed log. Each message gets the next offset of its topic and is
// stored under a key derived from that offset, which also serves as its ack id.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"batchpub/internal/pub"
	"batchpub/internal/validator"
)

const defaultInsertConcurrency = 8

// Transport writes batches through a pub.Controller.
type Transport struct {
	controller  pub.Controller
	logger      *zap.Logger
	concurrency int
	now         func() time.Time
}

// New creates a ledger transport. concurrency bounds the parallel document
// inserts of one batch; values below one use a default.
func New(controller pub.Controller, concurrency int, logger *zap.Logger) (*Transport, error) {
	if err := validator.Validate("ledger transport", controller, logger); err != nil {
		return nil, err
	}
	if concurrency < 1 {
		concurrency = defaultInsertConcurrency
	}

	return &Transport{
		controller:  controller,
		logger:      logger.Named("ledger"),
		concurrency: concurrency,
		now:         time.Now,
	}, nil
}

// Send reserves one offset per message and stores the messages. The returned
// ids are in the order of req.Messages.
func (t *Transport) Send(ctx context.Context, req pub.BatchRequest) (pub.BatchResponse, error) {
	if len(req.Messages) == 0 {
		return pub.BatchResponse{}, nil
	}

	first, err := t.controller.ReserveOffsets(ctx, req.Topic, len(req.Messages))
	if err != nil {
		return pub.BatchResponse{}, fmt.Errorf("failed to reserve offsets: %w", err)
	}

	publishTime := t.now().UTC()
	ids := make([]string, len(req.Messages))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.concurrency)
	for i, msg := range req.Messages {
		offset := first + uint64(i)
		ids[i] = pub.MessageKey(req.Topic, offset)

		stored := pub.StoredMessage{
			ID:          ids[i],
			Topic:       req.Topic,
			OrderingKey: msg.OrderingKey,
			Offset:      offset,
			Data:        msg.Data,
			Attributes:  msg.Attributes,
			PublishTime: &publishTime,
		}
		g.Go(func() error {
			err := t.controller.InsertMessage(gctx, stored)
			switch {
			case err == nil:
				return nil
			case errors.Is(err, gocb.ErrDocumentExists):
				t.logger.Warn("message already stored",
					zap.String("id", stored.ID),
					zap.Uint64("offset", stored.Offset),
				)
				return nil
			default:
				return fmt.Errorf("failed to store message at offset %d: %w", stored.Offset, err)
			}
		})
	}

	if err := g.Wait(); err != nil {
		return pub.BatchResponse{}, err
	}

	t.logger.Debug("batch stored",
		zap.String("topic", req.Topic),
		zap.Uint64("firstOffset", first),
		zap.Int("count", len(ids)),
	)

	return pub.BatchResponse{MessageIDs: ids}, nil
}
