package metrics

import (
	"strconv"
	"time"
)

// ServerMetrics holds the metrics recorded by the HTTP API.
type ServerMetrics struct {
	registry *Registry

	InFlight          *Gauge
	PlaybacksTotal    *Counter
	RejectedTotal     *Counter
	AnalysisDuration  *Histogram
	PlaybackDuration  *Histogram
	SessionEventCount *Histogram
}

// NewServerMetrics registers the API metrics in r.
func NewServerMetrics(r *Registry) *ServerMetrics {
	return &ServerMetrics{
		registry: r,
		InFlight: r.Gauge("http_requests_in_flight",
			"Requests currently being served", nil),
		PlaybacksTotal: r.Counter("playbacks_total",
			"Playback reconstructions served", nil),
		RejectedTotal: r.Counter("payloads_rejected_total",
			"Session payloads rejected as invalid or too large", nil),
		AnalysisDuration: r.Histogram("analysis_duration_seconds",
			"Time spent analyzing a session", nil, DurationBuckets),
		PlaybackDuration: r.Histogram("playback_duration_seconds",
			"Time spent reconstructing playback", nil, DurationBuckets),
		SessionEventCount: r.Histogram("session_events",
			"Events per submitted session", nil, EventCountBuckets),
	}
}

// Registry returns the registry the metrics live in.
func (m *ServerMetrics) Registry() *Registry {
	return m.registry
}

// ObserveRequest counts a finished request by method, route, and status.
func (m *ServerMetrics) ObserveRequest(method, route string, status int) {
	m.registry.Counter("http_requests_total", "HTTP requests served", Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}).Inc()
}

// ObserveAnalysis records one analysis run and its verdict.
func (m *ServerMetrics) ObserveAnalysis(verdict string, events int, d time.Duration) {
	m.registry.Counter("analyses_total", "Session analyses by verdict", Labels{"verdict": verdict}).Inc()
	m.AnalysisDuration.ObserveDuration(d)
	m.SessionEventCount.Observe(float64(events))
}

// ObservePlayback records one playback reconstruction.
func (m *ServerMetrics) ObservePlayback(events int, d time.Duration) {
	m.PlaybacksTotal.Inc()
	m.PlaybackDuration.ObserveDuration(d)
	m.SessionEventCount.Observe(float64(events))
}
