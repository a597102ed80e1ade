package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"

	"batchpub/internal/couchbase"
	"batchpub/internal/pub"
	"batchpub/internal/validator"
)

// DefaultRetention is how long message documents live before Couchbase
// expires them.
const DefaultRetention = 7 * 24 * time.Hour

// Controller is the Couchbase implementation of pub.Controller. Offsets are
// advanced inside distributed transactions so concurrent publishers on the
// same topic never hand out overlapping ranges.
type Controller struct {
	messages     *couchbase.Couchbase[pub.StoredMessage]
	offsets      *couchbase.Couchbase[pub.Offset]
	transactions *couchbase.Transactions
	retention    time.Duration
}

// NewController creates a new Controller. A zero retention falls back to
// DefaultRetention.
func NewController(
	messages *couchbase.Couchbase[pub.StoredMessage],
	offsets *couchbase.Couchbase[pub.Offset],
	transactions *couchbase.Transactions,
	retention time.Duration,
) (*Controller, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}

	c := Controller{
		messages:     messages,
		offsets:      offsets,
		transactions: transactions,
		retention:    retention,
	}

	if err := validator.Validate(
		"controller",
		c.messages,
		c.offsets,
		c.transactions,
	); err != nil {
		return nil, fmt.Errorf("failed to validate controller dependencies: %w", err)
	}

	return &c, nil
}

// ReserveOffsets implements pub.Controller.ReserveOffsets. The offset document
// of a topic holds the next free offset; reserving n offsets returns its
// current value and moves it forward by n.
func (c *Controller) ReserveOffsets(ctx context.Context, topic string, n int) (uint64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("cannot reserve %d offsets", n)
	}
	key := pub.OffsetKey(topic)
	var first uint64

	err := c.transactions.Run(ctx, func(tx couchbase.Tx) error {
		retry := true
		for retry {
			retry = false

			res, err := tx.Get(c.offsets, key)
			switch {
			case err == nil:
			case errors.Is(err, gocb.ErrDocumentNotFound):
				_, err := tx.Insert(c.offsets, key, pub.Offset{ID: key, N: uint64(n)})
				switch {
				case err == nil:
					first = 0
					return nil
				case errors.Is(err, gocb.ErrDocumentExists):
					// another publisher created it first
					retry = true
					continue
				default:
					return fmt.Errorf("failed to insert new offset: %w", err)
				}
			default:
				return fmt.Errorf("failed to get offset for topic %s: %w", topic, err)
			}

			var existing pub.Offset
			if err := res.Content(&existing); err != nil {
				return fmt.Errorf("failed to decode offset: %w", err)
			}

			first = existing.N
			existing.N += uint64(n)
			if _, err := tx.Replace(res, existing); err != nil {
				return fmt.Errorf("failed to replace offset: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to reserve %d offsets for topic %s: %w", n, topic, err)
	}

	return first, nil
}

// InsertMessage implements pub.Controller.InsertMessage by persisting to the
// messages collection. Returns ErrDocumentExists if the offset was already
// written, which lets a retried batch be detected.
func (c *Controller) InsertMessage(ctx context.Context, msg pub.StoredMessage) error {
	if err := c.messages.Insert(
		ctx,
		msg.ID,
		msg,
		&gocb.InsertOptions{
			Expiry: c.retention,
		},
	); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	return nil
}
