package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

		"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"batchpub/internal/pub"
	"batchpub/internal/pub/metrics"
	"batchpub/internal/pub/tracing"
)

type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) Send(ctx context.Context, req pub.BatchRequest) (pub.BatchResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(pub.BatchResponse), args.Error(1)
}

func batch() pub.BatchRequest {
	return pub.BatchRequest{
		Topic:       "orders",
		OrderingKey: "customer-a",
		Messages: []pub.Message{
			{Data: []byte("m0"), OrderingKey: "customer-a"},
			{Data: []byte("m1"), OrderingKey: "customer-a"},
		},
	}
}

func TestMetricsTransport_Send(t *testing.T) {
	inner := new(mockTransport)
	req := batch()
	inner.On("Send", mock.Anything, req).Return(pub.BatchResponse{MessageIDs: []string{"a", "b"}}, nil).Once()
	inner.On("Send", mock.Anything, req).Return(pub.BatchResponse{}, assert.AnError).Once()

	registry := metrics.NewRegistry()
	tr := NewMetricsTransport(inner, registry)

	resp, err := tr.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, resp.MessageIDs)

	_, err = tr.Send(context.Background(), req)
	assert.ErrorIs(t, err, assert.AnError)

	body := scrape(t, registry)
	assert.Contains(t, body, `pub_transport_batch_total{status="success",topic="orders"} 1`)
	assert.Contains(t, body, `pub_transport_batch_total{status="error",topic="orders"} 1`)
	inner.AssertExpectations(t)
}

func scrape(t *testing.T, registry *metrics.Registry) string {
	t.Helper()

	rec := httptest.NewRecorder()
	registry.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestTracedTransport_Send(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := tracing.NewTracerFromProvider(tp, "test")

	inner := new(mockTransport)
	req := batch()
	inner.On("Send", mock.Anything, req).Return(pub.BatchResponse{MessageIDs: []string{"a", "b"}}, nil).Once()
	inner.On("Send", mock.Anything, req).Return(pub.BatchResponse{}, assert.AnError).Once()

	tr := NewTracedTransport(inner, tracer)

	_, err := tr.Send(context.Background(), req)
	require.NoError(t, err)
	_, err = tr.Send(context.Background(), req)
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	ok, failed := spans[0], spans[1]
	assert.Equal(t, "transport.send_batch", ok.Name())
	assert.Equal(t, codes.Ok, ok.Status().Code)
	assert.Contains(t, ok.Attributes(), attribute.String("pub.topic", "orders"))
	assert.Contains(t, ok.Attributes(), attribute.String("pub.ordering_key", "customer-a"))
	assert.Contains(t, ok.Attributes(), attribute.Int("pub.batch_size", 2))
	assert.Contains(t, ok.Attributes(), attribute.Int("pub.ack_count", 2))

	assert.Equal(t, codes.Error, failed.Status().Code)
	assert.Contains(t, failed.Attributes(), attribute.Bool("error", true))
	inner.AssertExpectations(t)
}
