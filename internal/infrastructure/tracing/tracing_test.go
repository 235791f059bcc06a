package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestStartSpanInheritsTrace(t *testing.T) {
	tracer := New("test", zap.NewNop())
	defer tracer.Close()

	root, ctx := tracer.StartSpan(context.Background(), "root")
	assert.True(t, strings.HasPrefix(string(root.TraceID), "req_"))
	assert.Empty(t, root.ParentID)

	child, _ := tracer.StartSpan(ctx, "child")
	assert.Equal(t, root.TraceID, child.TraceID)
	assert.Equal(t, root.SpanID, child.ParentID)
	assert.NotEqual(t, root.SpanID, child.SpanID)
}

func newRouter(tracer *Tracer) *gin.Engine {
	r := gin.New()
	r.Use(HTTPMiddleware(tracer))
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, string(GetTraceID(c.Request.Context())))
	})
	return r
}

func TestMiddlewareMintsTraceID(t *testing.T) {
	tracer := New("test", zap.NewNop())
	defer tracer.Close()

	w := httptest.NewRecorder()
	newRouter(tracer).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	require.Equal(t, http.StatusOK, w.Code)
	traceID := w.Header().Get(TraceHeader)
	assert.True(t, strings.HasPrefix(traceID, "req_"))
	assert.Equal(t, traceID, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(SpanHeader))
}

func TestMiddlewareKeepsIncomingTraceID(t *testing.T) {
	tracer := New("test", zap.NewNop())
	defer tracer.Close()

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(TraceHeader, "client-trace-1")
	w := httptest.NewRecorder()
	newRouter(tracer).ServeHTTP(w, req)

	assert.Equal(t, "client-trace-1", w.Header().Get(TraceHeader))
	assert.Equal(t, "client-trace-1", w.Body.String())
}

func TestSpansAreLogged(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	tracer := New("test", zap.New(core))

	w := httptest.NewRecorder()
	newRouter(tracer).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	tracer.Close()

	entries := logs.FilterMessage("span completed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "GET /ping", fields["operation"])
	assert.EqualValues(t, http.StatusOK, fields["status"])
}
