package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lookout/recorder"
)

// Metrics holds the daemon's Prometheus collectors. It doubles as the
// recorder's observer.
type Metrics struct {
	registry *prometheus.Registry

	CapturedTotal   prometheus.Counter
	FailuresTotal   prometheus.Counter
	EvictedTotal    prometheus.Counter
	Extractions     *prometheus.CounterVec
	EventsSaved     prometheus.Counter
	EventsPublished prometheus.Counter
	TriggersDropped prometheus.Counter

	BufferedSegments prometheus.Gauge
	RecordingActive  prometheus.Gauge
	StorageUsedBytes prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		CapturedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "lookout_segments_captured_total",
			Help: "Segments appended to the chain",
		}),
		FailuresTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "lookout_capture_failures_total",
			Help: "Capture calls that failed",
		}),
		EvictedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "lookout_segments_evicted_total",
			Help: "Segments evicted from the sliding window",
		}),
		Extractions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lookout_extractions_total",
			Help: "Window extractions by result",
		}, []string{"result"}),
		EventsSaved: f.NewCounter(prometheus.CounterOpts{
			Name: "lookout_events_saved_total",
			Help: "Event rows written",
		}),
		EventsPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "lookout_events_published_total",
			Help: "Events uploaded to the object store",
		}),
		TriggersDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "lookout_triggers_dropped_total",
			Help: "Triggers ignored because recording was off or a save was running",
		}),
		BufferedSegments: f.NewGauge(prometheus.GaugeOpts{
			Name: "lookout_buffered_segments",
			Help: "Segments currently retained",
		}),
		RecordingActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "lookout_recording_active",
			Help: "1 while the recorder is capturing",
		}),
		StorageUsedBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "lookout_clip_storage_used_bytes",
			Help: "Bytes used by saved clips",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) StateChanged(state recorder.State) {
	if state == recorder.StateCapturing {
		m.RecordingActive.Set(1)
		return
	}
	m.RecordingActive.Set(0)
	if state == recorder.StateIdle {
		m.BufferedSegments.Set(0)
	}
}

func (m *Metrics) SegmentCaptured(_ recorder.Segment, buffered int) {
	m.CapturedTotal.Inc()
	m.BufferedSegments.Set(float64(buffered))
}

func (m *Metrics) CaptureFailed(error) {
	m.FailuresTotal.Inc()
}

func (m *Metrics) SegmentsEvicted(n int) {
	m.EvictedTotal.Add(float64(n))
}

func (m *Metrics) WindowExtracted(result recorder.ExtractResult) {
	m.Extractions.WithLabelValues(string(result)).Inc()
}
