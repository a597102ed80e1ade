// Package scheduler provides the production pub.Scheduler: every task runs on
// its own goroutine and hold timers are backed by the runtime timer heap.
package scheduler

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"batchpub/internal/pub"
)

// Executor runs scheduled tasks on goroutines tracked by an errgroup.
type Executor struct {
	group  errgroup.Group
	logger *zap.Logger
}

var _ pub.Scheduler = (*Executor)(nil)

// NewExecutor creates an Executor. A nil logger disables panic logging.
func NewExecutor(logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Executor{logger: logger.Named("scheduler")}
}

// Schedule runs fn on a new goroutine. A panicking task is logged and does
// not take the process down.
func (e *Executor) Schedule(fn func()) {
	e.group.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("scheduled task panicked", zap.Any("panic", r))
				err = fmt.Errorf("scheduled task panicked: %v", r)
			}
		}()

		fn()
		return nil
	})
}

// AfterFunc schedules fn once d has elapsed.
func (e *Executor) AfterFunc(d time.Duration, fn func()) pub.Timer {
	return time.AfterFunc(d, func() { e.Schedule(fn) })
}

// Now returns the wall clock time.
func (e *Executor) Now() time.Time {
	return time.Now()
}

// Wait blocks until every task scheduled so far has returned. It returns an
// error if any of them panicked.
func (e *Executor) Wait() error {
	return e.group.Wait()
}
