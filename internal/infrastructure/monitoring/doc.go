/*
Package monitoring provides Prometheus metrics for the backend.

# Overview

Metrics cover HTTP traffic, terminal sessions, one-shot bash commands,
permission denials, output truncation, WebSocket viewers and persistence
failures. A small snapshot of the same counters backs the JSON health
endpoint.

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))

	metrics.SessionStarted("claude")
	metrics.RecordCommand("ok", time.Since(start))

A nil *Metrics is valid and records nothing.

# Metrics Endpoint

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
*/
package monitoring
