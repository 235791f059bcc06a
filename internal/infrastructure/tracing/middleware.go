package tracing

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
)

// Header names used for propagation.
const (
	TraceHeader = "X-Trace-ID"
	SpanHeader  = "X-Span-ID"
)

const maxTraceIDLen = 128

// HTTPMiddleware opens a span per request. An incoming X-Trace-ID is kept
// so callers can correlate their logs; otherwise a fresh one is minted.
// Both ids are echoed in the response headers.
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if incoming := strings.TrimSpace(c.GetHeader(TraceHeader)); incoming != "" && len(incoming) <= maxTraceIDLen {
			ctx = WithTraceID(ctx, TraceID(incoming))
		}
		if parent := strings.TrimSpace(c.GetHeader(SpanHeader)); parent != "" && len(parent) <= maxTraceIDLen {
			ctx = context.WithValue(ctx, spanIDKey, SpanID(parent))
		}

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		span, ctx := tracer.StartSpan(ctx, c.Request.Method+" "+route)
		span.SetTag("http.method", c.Request.Method)
		span.SetTag("http.path", c.Request.URL.Path)

		c.Request = c.Request.WithContext(ctx)
		c.Header(TraceHeader, string(span.TraceID))
		c.Header(SpanHeader, string(span.SpanID))

		c.Next()

		span.SetStatus(c.Writer.Status())
		if len(c.Errors) > 0 {
			span.SetError(c.Errors.Last())
		}
		span.Finish()
		tracer.Submit(span)
	}
}
