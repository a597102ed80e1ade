package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestExecutor_ScheduleAndWait(t *testing.T) {
	e := NewExecutor(zap.NewNop())

	var n atomic.Int32
	for i := 0; i < 50; i++ {
		e.Schedule(func() { n.Add(1) })
	}

	require.NoError(t, e.Wait())
	assert.Equal(t, int32(50), n.Load())
}

func TestExecutor_AfterFunc(t *testing.T) {
	e := NewExecutor(nil)

	done := make(chan struct{})
	e.AfterFunc(5*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}

	stopped := e.AfterFunc(time.Hour, func() { t.Error("stopped timer fired") })
	assert.True(t, stopped.Stop())
}

func TestExecutor_RecoversPanics(t *testing.T) {
	e := NewExecutor(zap.NewNop())

	e.Schedule(func() { panic("boom") })

	err := e.Wait()
	assert.ErrorContains(t, err, "boom")
}
