/*
Package tracing gives every HTTP request a trace id and a timed span.

Spans are logged through zap by a background collector; nothing is
exported. The trace id travels in the X-Trace-ID header in both
directions, so a client can tie its own logs to the server's.

# Usage

	tracer := tracing.New("nocodo", logger)
	defer tracer.Close()
	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "operation")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()

Trace ids are request ULIDs (req_...), span ids are span ULIDs (span_...).
*/
package tracing
