package pub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestMessage_Size(t *testing.T) {
	m := Message{Data: []byte("test-data-0")}
	assert.Equal(t, 11+messageOverhead, m.Size())

	m = Message{
		Data:        []byte("abc"),
		Attributes:  map[string]string{"k1": "v1", "key": "value"},
		OrderingKey: "order",
	}
	assert.Equal(t, 3+5+4+8+messageOverhead, m.Size())
}

func TestMessage_Clone(t *testing.T) {
	m := Message{Data: []byte("abc"), Attributes: map[string]string{"k": "v"}, OrderingKey: "key"}
	c := m.Clone()

	m.Data[0] = 'x'
	m.Attributes["k"] = "changed"

	assert.Equal(t, "abc", string(c.Data))
	assert.Equal(t, "v", c.Attributes["k"])
	assert.Equal(t, "key", c.OrderingKey)

	assert.Nil(t, Message{}.Clone().Attributes)
}

func TestResult_SettlesOnce(t *testing.T) {
	r := NewResult()

	select {
	case <-r.Ready():
		t.Fatal("new result is settled")
	default:
	}

	assert.True(t, r.Set("ack-0", nil))
	assert.False(t, r.Set("ack-1", errors.New("late")))

	ackID, err := r.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ack-0", ackID)
}

func TestResult_ConcurrentSet(t *testing.T) {
	r := NewResult()

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Set("ack", nil) {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
}

func TestResult_GetHonorsContext(t *testing.T) {
	r := NewResult()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := r.Get(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOptions_Validate(t *testing.T) {
	assert.NoError(t, DefaultOptions().Validate())
	assert.NoError(t, Options{MaxBatchMessages: 1, MaxBatchBytes: 1}.Validate())

	for _, opts := range []Options{
		{MaxBatchMessages: 0, MaxBatchBytes: 1},
		{MaxBatchMessages: 1, MaxBatchBytes: 0},
		{MaxBatchMessages: 1, MaxBatchBytes: 1, MaxHoldTime: -time.Millisecond},
	} {
		assert.ErrorIs(t, opts.Validate(), ErrInvalidOptions)
	}
}

func TestOptionsFromEnv(t *testing.T) {
	t.Setenv("PUBLISHER_MAX_BATCH_MESSAGES", "25")
	t.Setenv("PUBLISHER_MAX_HOLD_TIME", "250ms")

	opts, err := OptionsFromEnv()
	require.NoError(t, err)
	assert.Equal(t, Options{
		MaxBatchMessages: 25,
		MaxBatchBytes:    1 << 20,
		MaxHoldTime:      250 * time.Millisecond,
	}, opts)

	t.Setenv("PUBLISHER_MAX_BATCH_BYTES", "0")
	_, err = OptionsFromEnv()
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestMismatchedMessageIDsError(t *testing.T) {
	err := MismatchedMessageIDsError(0, 2)
	assert.Equal(t, codes.Unknown, status.Code(err))
	assert.ErrorContains(t, err, "mismatched message id count")
}

func TestBatchRequest_Bytes(t *testing.T) {
	req := BatchRequest{Messages: []Message{{Data: []byte("a")}, {Data: []byte("bc")}}}
	assert.Equal(t, 3+2*messageOverhead, req.Bytes())
}
