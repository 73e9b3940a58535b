package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Enqueued(1)
		m.Delivered()
		m.AttemptFailed()
		m.Dropped()
		m.Drained("complete", 0)
		m.SetQueueSize(3)
		m.Reconnect()
		m.Message("in")
		m.SetSocketState(2)
	})
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Enqueued(1)
	m.Enqueued(2)
	m.Delivered()
	m.AttemptFailed()
	m.AttemptFailed()
	m.Dropped()
	m.Drained("partial", 1)
	m.Reconnect()
	m.Message("in")
	m.Message("out")
	m.Message("out")
	m.SetSocketState(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.QueueEnqueuedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueueDeliveredTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.QueueAttemptFailuresTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueueDroppedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueueDrainsTotal.WithLabelValues("partial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueueSize))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SocketReconnectsTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SocketMessagesTotal.WithLabelValues("out")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SocketState))
}

func TestHandler(t *testing.T) {
	m := New(nil)
	m.Enqueued(4)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "resync_queue_enqueued_total 1"), body)
	assert.Contains(t, body, "resync_queue_size 4")
}
