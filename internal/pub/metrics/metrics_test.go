package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegistry_RecordBatchSend(t *testing.T) {
	r := NewRegistry()

	r.RecordBatchSend("orders", 3, 120, 10*time.Millisecond, nil)
	r.RecordBatchSend("orders", 2, 80, 5*time.Millisecond, errors.New("unavailable"))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.batchTotal.WithLabelValues("orders", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.batchTotal.WithLabelValues("orders", "error")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.batchSize))
}

func TestRegistry_RecordPublishAndFlush(t *testing.T) {
	r := NewRegistry()

	r.RecordPublish("orders", true, 30)
	r.RecordPublish("orders", false, 25)
	r.RecordPublish("orders", true, 45)
	r.RecordFlush("orders")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.publishTotal.WithLabelValues("orders", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.publishTotal.WithLabelValues("orders", "false")))
	assert.Equal(t, 100.0, testutil.ToFloat64(r.publishBytes.WithLabelValues("orders")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.flushTotal.WithLabelValues("orders")))
}

func TestRegistry_RecordDatabaseOperation(t *testing.T) {
	r := NewRegistry()

	r.RecordDatabaseOperation("insert_message", time.Millisecond, nil)
	r.RecordDatabaseOperation("insert_message", time.Millisecond, errors.New("timeout"))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.databaseOperationTotal.WithLabelValues("insert_message", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.databaseOperationTotal.WithLabelValues("insert_message", "error")))
}

func TestServer_Endpoints(t *testing.T) {
	r := NewRegistry()
	r.RecordFlush("orders")

	ready := false
	s := NewServer(ServerConfig{Port: 0, Timeout: time.Second}, r, func() bool { return ready }, zap.NewNop())

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	assert.Equal(t, http.StatusOK, get("/health").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get("/ready").Code)

	ready = true
	rec := get("/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ready"`)

	rec = get("/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "pub_publisher_flush_total"))
}
