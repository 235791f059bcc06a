package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. Every method is safe on a nil
// receiver so components can run without instrumentation.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Terminal session metrics
	SessionsActive prometheus.Gauge
	SessionsTotal  *prometheus.CounterVec
	SessionExits   *prometheus.CounterVec

	// One-shot command metrics
	CommandsTotal   *prometheus.CounterVec
	CommandDuration prometheus.Histogram

	// Policy metrics
	PermissionDenials *prometheus.CounterVec

	// Output metrics
	Truncations *prometheus.CounterVec

	// WebSocket metrics
	WSConnections  prometheus.Gauge
	WSMessages     *prometheus.CounterVec
	WSSinksDropped prometheus.Counter

	// Persistence metrics
	StoreErrors *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.GaugeFunc
	startTime time.Time

	// Snapshot for the health endpoint
	snapshot Snapshot

	mu sync.RWMutex
}

// Snapshot holds current metric values for the JSON health endpoint.
type Snapshot struct {
	TotalRequests     int64   `json:"total_requests"`
	TotalErrors       int64   `json:"total_errors"`
	ActiveSessions    int64   `json:"active_sessions"`
	ActiveConnections int64   `json:"active_connections"`
	CommandsRun       int64   `json:"commands_run"`
	Denials           int64   `json:"permission_denials"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
}

// NewMetrics registers the collectors with the default Prometheus registry.
// Call it once per process.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry registers the collectors with reg.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{startTime: time.Now()}

	// HTTP metrics
	m.RequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nocodo_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	m.RequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nocodo_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)
	m.RequestSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nocodo_http_request_size_bytes",
			Help:    "HTTP request size in bytes",
			Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
		},
		[]string{"method", "path"},
	)
	m.ResponseSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nocodo_http_response_size_bytes",
			Help:    "HTTP response size in bytes",
			Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
		},
		[]string{"method", "path"},
	)

	// Terminal session metrics
	m.SessionsActive = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "nocodo_sessions_active",
			Help: "Number of running terminal sessions",
		},
	)
	m.SessionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nocodo_sessions_total",
			Help: "Total number of terminal sessions started",
		},
		[]string{"tool"},
	)
	m.SessionExits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nocodo_session_exits_total",
			Help: "Terminal sessions that reached a final status",
		},
		[]string{"status"},
	)

	// One-shot command metrics
	m.CommandsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nocodo_commands_total",
			Help: "Total number of bash commands by outcome",
		},
		[]string{"result"},
	)
	m.CommandDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nocodo_command_duration_seconds",
			Help:    "Bash command wall time in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	// Policy metrics
	m.PermissionDenials = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nocodo_permission_denials_total",
			Help: "Commands refused by the permission policy",
		},
		[]string{"surface"},
	)

	// Output metrics
	m.Truncations = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nocodo_transcript_truncations_total",
			Help: "Output buffers that hit their cap",
		},
		[]string{"source"},
	)

	// WebSocket metrics
	m.WSConnections = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "nocodo_ws_connections",
			Help: "Number of active WebSocket connections",
		},
	)
	m.WSMessages = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nocodo_ws_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction", "type"},
	)
	m.WSSinksDropped = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "nocodo_ws_sinks_dropped_total",
			Help: "Viewers disconnected for falling behind",
		},
	)

	// Persistence metrics
	m.StoreErrors = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nocodo_store_errors_total",
			Help: "Failed persistence calls",
		},
		[]string{"op"},
	)

	// System metrics
	m.Uptime = factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "nocodo_uptime_seconds",
			Help: "Backend uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if len(status) > 0 && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// SessionStarted counts a new terminal session for tool.
func (m *Metrics) SessionStarted(tool string) {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues(tool).Inc()
	m.SessionsActive.Inc()

	m.mu.Lock()
	m.snapshot.ActiveSessions++
	m.mu.Unlock()
}

// SessionEnded records the final status of a terminal session.
func (m *Metrics) SessionEnded(status string) {
	if m == nil {
		return
	}
	m.SessionExits.WithLabelValues(status).Inc()
	m.SessionsActive.Dec()

	m.mu.Lock()
	m.snapshot.ActiveSessions--
	m.mu.Unlock()
}

// RecordCommand records a bash command outcome: ok, failed, timeout, denied
// or error.
func (m *Metrics) RecordCommand(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(result).Inc()
	if result != "denied" {
		m.CommandDuration.Observe(duration.Seconds())
	}

	m.mu.Lock()
	m.snapshot.CommandsRun++
	m.mu.Unlock()
}

// RecordDenial records a policy refusal on the given surface (exec, session).
func (m *Metrics) RecordDenial(surface string) {
	if m == nil {
		return
	}
	m.PermissionDenials.WithLabelValues(surface).Inc()

	m.mu.Lock()
	m.snapshot.Denials++
	m.mu.Unlock()
}

// RecordTruncation records a buffer reaching its cap.
func (m *Metrics) RecordTruncation(source string) {
	if m == nil {
		return
	}
	m.Truncations.WithLabelValues(source).Inc()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.ActiveConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.ActiveConnections--
	m.mu.Unlock()
}

// IncSinksDropped counts a viewer dropped for a full queue.
func (m *Metrics) IncSinksDropped() {
	if m == nil {
		return
	}
	m.WSSinksDropped.Inc()
}

// RecordStoreError counts a failed persistence call.
func (m *Metrics) RecordStoreError(op string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(op).Inc()
}

// Snapshot returns a copy of the current values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	s := m.snapshot
	m.mu.RUnlock()
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
