package producer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"batchpub/internal/pub"
	"batchpub/internal/scheduler"
	"batchpub/internal/scheduler/schedulertest"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(msg pub.Message) *pub.Result {
	args := m.Called(msg)
	if fn, ok := args.Get(0).(func(pub.Message) *pub.Result); ok {
		return fn(msg)
	}
	return args.Get(0).(*pub.Result)
}

func (m *mockPublisher) Flush() {
	m.Called()
}

func (m *mockPublisher) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func TestOrderingPublisher_Publish(t *testing.T) {
	steps := []struct {
		orderingKey string
		data        string
	}{
		{"k0", "data0"}, {"k1", "data1"}, {"k0", "data2"},
		{"k0", "data3"}, {"k0", "data4"},
	}

	var (
		mu       sync.Mutex
		mocks    = map[string]*mockPublisher{}
		received = map[string][]string{}
	)
	factory := func(orderingKey string) pub.Publisher {
		m := new(mockPublisher)
		m.On("Publish", mock.Anything).Return(func(msg pub.Message) *pub.Result {
			assert.Equal(t, orderingKey, msg.OrderingKey)

			mu.Lock()
			received[orderingKey] = append(received[orderingKey], string(msg.Data))
			mu.Unlock()

			r := pub.NewResult()
			r.Set(msg.OrderingKey+"#"+string(msg.Data), nil)
			return r
		}).Maybe()
		m.On("Flush").Return().Times(2)

		mu.Lock()
		mocks[orderingKey] = m
		mu.Unlock()
		return m
	}

	publisher, err := NewOrderingPublisher(factory, zap.NewNop())
	require.NoError(t, err)

	for _, step := range steps {
		r := publisher.Publish(pub.Message{Data: []byte(step.data), OrderingKey: step.orderingKey})
		ackID, err := r.Get(context.Background())
		require.NoError(t, err)
		assert.Equal(t, step.orderingKey+"#"+step.data, ackID)
	}

	assert.Equal(t, []string{"data0", "data2", "data3", "data4"}, received["k0"])
	assert.Equal(t, []string{"data1"}, received["k1"])
	assert.Equal(t, 2, publisher.Len())

	publisher.Flush()
	publisher.Flush()

	// the unordered publisher exists from the start and is flushed as well
	require.Len(t, mocks, 3)
	for _, m := range mocks {
		m.AssertExpectations(t)
	}
}

func TestOrderingPublisher_UnorderedUsesDefault(t *testing.T) {
	var created []string
	defaultPublisher := new(mockPublisher)
	factory := func(orderingKey string) pub.Publisher {
		created = append(created, orderingKey)
		return defaultPublisher
	}

	publisher, err := NewOrderingPublisher(factory, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{""}, created)

	r := pub.NewResult()
	r.Set("ack", nil)
	defaultPublisher.On("Publish", mock.Anything).Return(r).Twice()

	publisher.Publish(pub.Message{Data: []byte("a")})
	publisher.Publish(pub.Message{Data: []byte("b")})

	assert.Equal(t, []string{""}, created)
	assert.Zero(t, publisher.Len())
	defaultPublisher.AssertExpectations(t)
}

func TestOrderingPublisher_MissingFactory(t *testing.T) {
	publisher, err := NewOrderingPublisher(nil, zap.NewNop())
	assert.Error(t, err)
	assert.Nil(t, publisher)
}

func TestOrderingPublisher_CreatesOncePerKey(t *testing.T) {
	var calls atomic.Int32
	s := schedulertest.NewManual()
	transport := &recordingTransport{}
	factory := func(orderingKey string) pub.Publisher {
		if orderingKey == "hot" {
			calls.Add(1)
		}
		return newBatchingPublisher("test-topic", pub.DefaultOptions(), transport, s, zap.NewNop())
	}

	publisher, err := NewOrderingPublisher(factory, zap.NewNop())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			publisher.Publish(pub.Message{Data: []byte(fmt.Sprint(i)), OrderingKey: "hot"})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, publisher.Len())

	publisher.Flush()
	s.RunPending()

	requests := transport.Requests()
	require.Len(t, requests, 1)
	assert.Len(t, requests[0].Messages, 32)
	assert.Equal(t, "hot", requests[0].OrderingKey)
}

func TestOrderingPublisher_FlushWithBatchingPublishers(t *testing.T) {
	s := schedulertest.NewManual()
	transport := &recordingTransport{}

	publisher, err := New("test-topic", pub.Options{
		MaxBatchMessages: 10,
		MaxBatchBytes:    1 << 20,
		MaxHoldTime:      time.Hour,
	}, true, transport, s, zap.NewNop())
	require.NoError(t, err)

	steps := []struct {
		orderingKey string
		data        string
	}{
		{"k0", "d0"}, {"k1", "d1"}, {"k0", "d2"}, {"k0", "d3"}, {"k0", "d4"},
	}

	var results []*pub.Result
	for _, step := range steps {
		results = append(results, publisher.Publish(pub.Message{Data: []byte(step.data), OrderingKey: step.orderingKey}))
	}

	publisher.Flush()
	s.RunPending()

	// k1 has nothing pending on the second flush, neither does the
	// unordered publisher
	publisher.Publish(pub.Message{Data: []byte("d5"), OrderingKey: "k0"})
	publisher.Flush()
	s.RunPending()

	byKey := map[string][][]string{}
	for _, req := range transport.Requests() {
		byKey[req.OrderingKey] = append(byKey[req.OrderingKey], dataElements(req))
	}
	assert.Equal(t, [][]string{{"d0", "d2", "d3", "d4"}, {"d5"}}, byKey["k0"])
	assert.Equal(t, [][]string{{"d1"}}, byKey["k1"])
	assert.NotContains(t, byKey, "")

	for i, r := range results {
		ackID, err := requireSettled(t, r)
		require.NoError(t, err)
		assert.Equal(t, "ack-for-"+steps[i].data, ackID)
	}
}

func TestOrderingPublisher_PerKeyOrderUnderConcurrency(t *testing.T) {
	const (
		keys   = 6
		perKey = 200
	)

	transport := &recordingTransport{}
	s := scheduler.NewExecutor(zap.NewNop())
	publisher, err := New("test-topic", pub.Options{
		MaxBatchMessages: 7,
		MaxBatchBytes:    1 << 20,
		MaxHoldTime:      time.Millisecond,
	}, true, transport, s, zap.NewNop())
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([][]*pub.Result, keys)
	for k := 0; k < keys; k++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := fmt.Sprintf("key-%d", k)
			for i := 0; i < perKey; i++ {
				results[k] = append(results[k], publisher.Publish(pub.Message{
					Data:        []byte(fmt.Sprintf("%d", i)),
					OrderingKey: key,
				}))
			}
		}()
	}
	wg.Wait()
	publisher.Flush()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for k := range results {
		for i, r := range results[k] {
			ackID, err := r.Get(ctx)
			require.NoError(t, err)
			assert.Equal(t, fmt.Sprintf("ack-for-%d", i), ackID)
		}
	}

	next := map[string]int{}
	for _, req := range transport.Requests() {
		for _, data := range dataElements(req) {
			assert.Equal(t, fmt.Sprint(next[req.OrderingKey]), data, "key %s out of order", req.OrderingKey)
			next[req.OrderingKey]++
		}
	}
	assert.Len(t, next, keys)

	require.NoError(t, publisher.Close(ctx))
	require.NoError(t, s.Wait())
}

func TestOrderingPublisher_Close(t *testing.T) {
	s := schedulertest.NewManual()
	transport := &recordingTransport{}

	publisher, err := New("test-topic", pub.DefaultOptions(), true, transport, s, zap.NewNop())
	require.NoError(t, err)

	r := publisher.Publish(pub.Message{Data: []byte("d0"), OrderingKey: "k0"})

	done := make(chan error, 1)
	go func() { done <- publisher.Close(context.Background()) }()

	// Close flushed k0 and waits for the send scheduled on the manual
	// scheduler
	require.Eventually(t, func() bool { return s.PendingTasks() == 1 }, time.Second, time.Millisecond)
	s.RunPending()
	require.NoError(t, <-done)

	_, err = requireSettled(t, r)
	assert.NoError(t, err)

	late := publisher.Publish(pub.Message{Data: []byte("d1"), OrderingKey: "new-key"})
	s.RunPending()
	_, err = requireSettled(t, late)
	assert.ErrorIs(t, err, pub.ErrPublisherClosed)
	assert.Equal(t, 1, publisher.(*OrderingPublisher).Len())
}

func TestOrderingPublisher_CloseError(t *testing.T) {
	failing := new(mockPublisher)
	failing.On("Close", mock.Anything).Return(assert.AnError)

	publisher, err := NewOrderingPublisher(func(string) pub.Publisher { return failing }, zap.NewNop())
	require.NoError(t, err)

	assert.ErrorIs(t, publisher.Close(context.Background()), assert.AnError)
	failing.AssertExpectations(t)
}
