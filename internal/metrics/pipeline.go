// Package metrics provides Prometheus metrics for pipeline runs.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/smazurov/segmentcast/internal/media"
)

// Run results for RecordRunResult.
const (
	ResultDone   = "done"
	ResultFailed = "failed"
)

var (
	framesDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "segmentcast",
		Subsystem: "pipeline",
		Name:      "frames_decoded_total",
		Help:      "Frames decoded from input files",
	}, []string{"run_id"})

	chunksEncoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "segmentcast",
		Subsystem: "pipeline",
		Name:      "chunks_encoded_total",
		Help:      "Chunks produced by the VP9 encoder",
	}, []string{"run_id"})

	framesRendered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "segmentcast",
		Subsystem: "pipeline",
		Name:      "frames_rendered_total",
		Help:      "Preview frames delivered to the render sink",
	}, []string{"run_id"})

	blocksMuxed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "segmentcast",
		Subsystem: "pipeline",
		Name:      "blocks_muxed_total",
		Help:      "WebM SimpleBlocks written",
	}, []string{"run_id"})

	segmentsUploaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "segmentcast",
		Subsystem: "upload",
		Name:      "segments_total",
		Help:      "Segments uploaded",
	}, []string{"run_id"})

	bytesUploaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "segmentcast",
		Subsystem: "upload",
		Name:      "bytes_total",
		Help:      "Segment bytes uploaded",
	}, []string{"run_id"})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "segmentcast",
		Name:      "runs_total",
		Help:      "Finished pipeline runs by result",
	}, []string{"result"})

	_ = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "segmentcast",
		Name:      "live_frames",
		Help:      "Decoded frames not yet released",
	}, func() float64 { return float64(media.LiveFrames()) })

	// Local cache for SSE exporter access.
	runCache   = make(map[string]*RunMetrics)
	runCacheMu sync.RWMutex
)

// RunMetrics holds current counter values for a run.
type RunMetrics struct {
	Decoded  int64
	Encoded  int64
	Rendered int64
	Muxed    int64
	Segments int64
	Bytes    int64
}

// AddDecoded counts a decoded frame.
func AddDecoded(runID string) {
	framesDecoded.WithLabelValues(runID).Inc()
	updateCache(runID, func(m *RunMetrics) { m.Decoded++ })
}

// AddEncoded counts an encoded chunk.
func AddEncoded(runID string) {
	chunksEncoded.WithLabelValues(runID).Inc()
	updateCache(runID, func(m *RunMetrics) { m.Encoded++ })
}

// AddRendered counts a preview frame.
func AddRendered(runID string) {
	framesRendered.WithLabelValues(runID).Inc()
	updateCache(runID, func(m *RunMetrics) { m.Rendered++ })
}

// AddMuxed counts a muxed block.
func AddMuxed(runID string) {
	blocksMuxed.WithLabelValues(runID).Inc()
	updateCache(runID, func(m *RunMetrics) { m.Muxed++ })
}

// AddSegment counts an uploaded segment of size bytes.
func AddSegment(runID string, size int) {
	segmentsUploaded.WithLabelValues(runID).Inc()
	bytesUploaded.WithLabelValues(runID).Add(float64(size))
	updateCache(runID, func(m *RunMetrics) {
		m.Segments++
		m.Bytes += int64(size)
	})
}

// RecordRunResult counts a finished run.
func RecordRunResult(result string) {
	runsTotal.WithLabelValues(result).Inc()
}

// DeleteRunMetrics removes all metrics for a run.
func DeleteRunMetrics(runID string) {
	framesDecoded.DeleteLabelValues(runID)
	chunksEncoded.DeleteLabelValues(runID)
	framesRendered.DeleteLabelValues(runID)
	blocksMuxed.DeleteLabelValues(runID)
	segmentsUploaded.DeleteLabelValues(runID)
	bytesUploaded.DeleteLabelValues(runID)

	runCacheMu.Lock()
	delete(runCache, runID)
	runCacheMu.Unlock()
}

// GetRunMetrics returns current values for a run.
func GetRunMetrics(runID string) *RunMetrics {
	runCacheMu.RLock()
	defer runCacheMu.RUnlock()
	if m, ok := runCache[runID]; ok {
		dup := *m
		return &dup
	}
	return nil
}

// GetAllRunMetrics returns metrics for all runs still tracked.
func GetAllRunMetrics() map[string]*RunMetrics {
	runCacheMu.RLock()
	defer runCacheMu.RUnlock()
	result := make(map[string]*RunMetrics, len(runCache))
	for id, m := range runCache {
		dup := *m
		result[id] = &dup
	}
	return result
}

func updateCache(runID string, update func(*RunMetrics)) {
	runCacheMu.Lock()
	defer runCacheMu.Unlock()
	m, ok := runCache[runID]
	if !ok {
		m = &RunMetrics{}
		runCache[runID] = m
	}
	update(m)
}
