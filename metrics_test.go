package main

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"lookout/recorder"
)

func TestMetricsObserveRecorder(t *testing.T) {
	m := NewMetrics()

	m.StateChanged(recorder.StateCapturing)
	if v := testutil.ToFloat64(m.RecordingActive); v != 1 {
		t.Errorf("recording active = %v", v)
	}

	m.SegmentCaptured(recorder.Segment{}, 1)
	m.SegmentCaptured(recorder.Segment{}, 2)
	m.CaptureFailed(errors.New("device gone"))
	m.SegmentsEvicted(3)
	m.WindowExtracted(recorder.ResultExact)
	m.WindowExtracted(recorder.ResultDegraded)
	m.WindowExtracted(recorder.ResultExact)

	if v := testutil.ToFloat64(m.CapturedTotal); v != 2 {
		t.Errorf("captured = %v", v)
	}
	if v := testutil.ToFloat64(m.BufferedSegments); v != 2 {
		t.Errorf("buffered = %v", v)
	}
	if v := testutil.ToFloat64(m.FailuresTotal); v != 1 {
		t.Errorf("failures = %v", v)
	}
	if v := testutil.ToFloat64(m.EvictedTotal); v != 3 {
		t.Errorf("evicted = %v", v)
	}
	if v := testutil.ToFloat64(m.Extractions.WithLabelValues("exact")); v != 2 {
		t.Errorf("exact = %v", v)
	}
	if v := testutil.ToFloat64(m.Extractions.WithLabelValues("degraded")); v != 1 {
		t.Errorf("degraded = %v", v)
	}

	m.StateChanged(recorder.StateStopping)
	if v := testutil.ToFloat64(m.RecordingActive); v != 0 {
		t.Errorf("recording active while stopping = %v", v)
	}
	m.StateChanged(recorder.StateIdle)
	if v := testutil.ToFloat64(m.BufferedSegments); v != 0 {
		t.Errorf("buffered after stop = %v", v)
	}
}
