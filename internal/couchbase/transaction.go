package couchbase

import (
	"context"
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"
)

const defaultTransactionTimeout = 10 * time.Second

// Attempt is one try of a transaction body. Couchbase may call it several
// times when attempts conflict, so it must not have side effects outside the
// transaction.
type Attempt func(tx Tx) error

// Tx is the document API available inside a transaction.
type Tx interface {
	Get(c Collection, key string) (*gocb.TransactionGetResult, error)
	Insert(c Collection, key string, value any) (*gocb.TransactionGetResult, error)
	Replace(doc *gocb.TransactionGetResult, value any) (*gocb.TransactionGetResult, error)
}

// Collection is anything that can name the collection a document lives in.
type Collection interface {
	Collection() *gocb.Collection
}

// Transactions runs distributed transactions on one cluster.
type Transactions struct {
	cluster *gocb.Cluster
	timeout time.Duration
}

// NewTransactions creates a transaction runner. A zero timeout uses ten
// seconds.
func NewTransactions(cluster *gocb.Cluster, timeout time.Duration) (*Transactions, error) {
	if cluster == nil {
		return nil, fmt.Errorf("couchbase cluster cannot be nil")
	}
	if timeout <= 0 {
		timeout = defaultTransactionTimeout
	}

	return &Transactions{cluster: cluster, timeout: timeout}, nil
}

// Run executes fn in a transaction. The transaction timeout is shortened to
// the context deadline when that comes first.
func (t *Transactions) Run(ctx context.Context, fn Attempt) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	timeout := t.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}

	_, err := t.cluster.Transactions().Run(func(actx *gocb.TransactionAttemptContext) error {
		return fn(attemptTx{actx: actx})
	}, &gocb.TransactionOptions{
		DurabilityLevel: gocb.DurabilityLevelNone,
		Timeout:         timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to run transaction: %w", err)
	}

	return nil
}

type attemptTx struct {
	actx *gocb.TransactionAttemptContext
}

func (a attemptTx) Get(c Collection, key string) (*gocb.TransactionGetResult, error) {
	return a.actx.Get(c.Collection(), key)
}

func (a attemptTx) Insert(c Collection, key string, value any) (*gocb.TransactionGetResult, error) {
	return a.actx.Insert(c.Collection(), key, value)
}

func (a attemptTx) Replace(doc *gocb.TransactionGetResult, value any) (*gocb.TransactionGetResult, error) {
	return a.actx.Replace(doc, value)
}
