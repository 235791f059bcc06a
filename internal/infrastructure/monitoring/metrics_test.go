package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func newTestMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.NewRegistry())
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionStarted("claude")
		m.SessionEnded("completed")
		m.RecordCommand("ok", time.Second)
		m.RecordDenial("exec")
		m.RecordTruncation("stdout")
		m.IncWSConnections()
		m.DecWSConnections()
		m.IncSinksDropped()
		m.RecordStoreError("save")
		m.RecordHTTPRequest("GET", "/health", "200", time.Millisecond, 0, 10)
	})
	assert.Equal(t, Snapshot{}, m.Snapshot())
}

func TestSessionMetrics(t *testing.T) {
	m := newTestMetrics()

	m.SessionStarted("claude")
	m.SessionStarted("gemini")
	m.SessionEnded("completed")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.SessionsActive))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SessionsTotal.WithLabelValues("claude")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SessionExits.WithLabelValues("completed")))
	assert.Equal(t, int64(1), m.Snapshot().ActiveSessions)
}

func TestCommandMetrics(t *testing.T) {
	m := newTestMetrics()

	m.RecordCommand("ok", 10*time.Millisecond)
	m.RecordCommand("timeout", time.Second)
	m.RecordCommand("denied", 0)
	m.RecordDenial("exec")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.CommandsTotal.WithLabelValues("timeout")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PermissionDenials.WithLabelValues("exec")))

	snap := m.Snapshot()
	assert.Equal(t, int64(3), snap.CommandsRun)
	assert.Equal(t, int64(1), snap.Denials)
}

func TestMiddlewareUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := newTestMetrics()

	router := gin.New()
	router.Use(Middleware(m))
	router.GET("/sessions/:id", func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})

	for _, id := range []string{"sess_a", "sess_b"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sessions/"+id, nil))
	}

	assert.Equal(t, float64(2), testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/sessions/:id", "404")))

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.TotalRequests)
	assert.Equal(t, int64(2), snap.TotalErrors)
}
