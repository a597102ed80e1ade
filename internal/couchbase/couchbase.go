// Package couchbase provides a small generic layer over the Couchbase Go SDK
// used by the ledger transport to persist offsets and message documents.
package couchbase

import (
	"context"
	"errors"
	"fmt"

	"github.com/couchbase/gocb/v2"
)

// Couchbase is a typed view of a single collection.
type Couchbase[T any] struct {
	cluster    *gocb.Cluster
	collection *gocb.Collection
}

// NewCouchbase creates a typed collection wrapper. Both parameters are required.
func NewCouchbase[T any](cluster *gocb.Cluster, collection *gocb.Collection) (*Couchbase[T], error) {
	if cluster == nil || collection == nil {
		return nil, errors.New("invalid Couchbase parameters: cluster and collection must not be nil")
	}

	return &Couchbase[T]{
		cluster:    cluster,
		collection: collection,
	}, nil
}

// Insert creates a new document with the given key and value.
// The returned error wraps gocb.ErrDocumentExists when the key is taken.
func (c *Couchbase[T]) Insert(ctx context.Context, key string, value T, insertOptions *gocb.InsertOptions) error {
	if insertOptions == nil {
		insertOptions = new(gocb.InsertOptions)
	}
	insertOptions.Context = ctx

	if _, err := c.collection.Insert(key, value, insertOptions); err != nil {
		return fmt.Errorf("failed to insert document with key %s: %w", key, err)
	}

	return nil
}

// Collection returns the underlying collection, mainly for transactions.
func (c *Couchbase[T]) Collection() *gocb.Collection {
	return c.collection
}

// Close closes the cluster connection shared by every store built on it.
func (c *Couchbase[T]) Close() error {
	return c.cluster.Close(nil)
}
