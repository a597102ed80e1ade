package producer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"batchpub/internal/pub"
	"batchpub/internal/validator"
)

// BatchingPublisher accumulates messages for one destination stream (a topic,
// or one ordering key of a topic) into batches and sends them through a
// pub.Transport. At most one batch is in flight at a time; batches closed
// while a send is in flight wait in a FIFO queue, so batches reach the
// transport in the order they were closed.
type BatchingPublisher struct {
	topic     string
	opts      pub.Options
	transport pub.Transport
	scheduler pub.Scheduler
	logger    *zap.Logger

	// All further fields are protected by mu
	mu       sync.Mutex
	current  *openBatch
	timer    pub.Timer
	nextID   uint64
	queue    []*openBatch
	inFlight bool
	closed   bool
	drained  chan struct{}
}

var _ pub.Publisher = (*BatchingPublisher)(nil)

type pendingPublish struct {
	msg    pub.Message
	result *pub.Result
}

type openBatch struct {
	id      uint64
	items   []pendingPublish
	bytes   int
	started time.Time
}

// NewBatchingPublisher creates a publisher for topic that batches according to
// opts. Invalid options yield an error wrapping pub.ErrInvalidOptions.
func NewBatchingPublisher(
	topic string,
	opts pub.Options,
	transport pub.Transport,
	scheduler pub.Scheduler,
	logger *zap.Logger,
) (*BatchingPublisher, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	if err := validator.Validate("batching publisher", topic, transport, scheduler, logger); err != nil {
		return nil, fmt.Errorf("failed to validate batching publisher deps: %w", err)
	}

	return newBatchingPublisher(topic, opts, transport, scheduler, logger), nil
}

func newBatchingPublisher(
	topic string,
	opts pub.Options,
	transport pub.Transport,
	scheduler pub.Scheduler,
	logger *zap.Logger,
) *BatchingPublisher {
	p := BatchingPublisher{
		topic:     topic,
		opts:      opts,
		transport: transport,
		scheduler: scheduler,
		logger:    logger.Named("batcher").With(zap.String("topic", topic)),
	}
	p.current = p.newBatchLocked()

	return &p
}

// Publish implements pub.Publisher. The message is copied before it is
// enqueued.
func (p *BatchingPublisher) Publish(msg pub.Message) *pub.Result {
	result := pub.NewResult()
	msg = msg.Clone()
	size := msg.Size()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		p.scheduler.Schedule(func() { result.Set("", pub.ErrPublisherClosed) })
		return result
	}

	if len(p.current.items) > 0 && p.current.bytes+size > p.opts.MaxBatchBytes {
		p.closeBatchLocked()
	}

	b := p.current
	if len(b.items) == 0 {
		b.started = p.scheduler.Now()
	}
	b.items = append(b.items, pendingPublish{msg: msg, result: result})
	b.bytes += size

	switch {
	case len(b.items) >= p.opts.MaxBatchMessages, b.bytes >= p.opts.MaxBatchBytes:
		p.closeBatchLocked()
	case len(b.items) == 1:
		id := b.id
		p.timer = p.scheduler.AfterFunc(p.opts.MaxHoldTime, func() { p.holdExpired(id) })
	}

	return result
}

// Flush implements pub.Publisher.
func (p *BatchingPublisher) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.current.items) > 0 {
		p.closeBatchLocked()
	}
}

// Close implements pub.Publisher. Messages published after Close settle with
// pub.ErrPublisherClosed.
func (p *BatchingPublisher) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	if len(p.current.items) > 0 {
		p.closeBatchLocked()
	}
	if !p.inFlight && len(p.queue) == 0 {
		p.mu.Unlock()
		return nil
	}
	if p.drained == nil {
		p.drained = make(chan struct{})
	}
	drained := p.drained
	p.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to drain publisher for topic %s: %w", p.topic, ctx.Err())
	}
}

func (p *BatchingPublisher) holdExpired(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// the batch may have been closed by a threshold or a flush in the meantime
	if p.current.id != id || len(p.current.items) == 0 {
		return
	}

	p.closeBatchLocked()
}

func (p *BatchingPublisher) newBatchLocked() *openBatch {
	p.nextID++
	return &openBatch{id: p.nextID}
}

// closeBatchLocked detaches the open batch, installs an empty one and makes
// sure the send queue is being worked on.
func (p *BatchingPublisher) closeBatchLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}

	p.queue = append(p.queue, p.current)
	p.current = p.newBatchLocked()

	if !p.inFlight {
		p.sendNextLocked()
	}
}

func (p *BatchingPublisher) sendNextLocked() {
	b := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	p.inFlight = true

	p.scheduler.Schedule(func() { p.send(b) })
}

// send runs on the scheduler. If anything in it panics, the deferred
// finishSend still settles the batch and hands the queue on before the panic
// reaches the scheduler.
func (p *BatchingPublisher) send(b *openBatch) {
	defer p.finishSend(b)

	req := pub.BatchRequest{
		Topic:       p.topic,
		OrderingKey: b.items[0].msg.OrderingKey,
		Messages:    make([]pub.Message, len(b.items)),
	}
	for i, item := range b.items {
		req.Messages[i] = item.msg
	}

	logger := p.logger.With(
		zap.Uint64("batch", b.id),
		zap.Int("count", len(req.Messages)),
		zap.Int("bytes", b.bytes),
	)
	logger.Debug("sending batch", zap.Duration("held", p.scheduler.Now().Sub(b.started)))

	resp, err := p.transport.Send(context.Background(), req)
	if err == nil && len(resp.MessageIDs) != len(b.items) {
		err = pub.MismatchedMessageIDsError(len(resp.MessageIDs), len(b.items))
	}

	if err != nil {
		logger.Warn("failed to send batch", zap.Error(err))
		for _, item := range b.items {
			item.result.Set("", err)
		}
		return
	}

	for i, item := range b.items {
		item.result.Set(resp.MessageIDs[i], nil)
	}
}

// finishSend settles whatever send left unsettled and starts the next queued
// batch, or signals Close once nothing is left.
func (p *BatchingPublisher) finishSend(b *openBatch) {
	for _, item := range b.items {
		// no-op for results send already settled
		item.result.Set("", pub.ErrSendAborted)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.inFlight = false
	if len(p.queue) > 0 {
		p.sendNextLocked()
		return
	}

	if p.drained != nil {
		close(p.drained)
		p.drained = nil
	}
}
