package exporters

import (
	"context"
	"sync"
	"time"

	"github.com/smazurov/segmentcast/internal/events"
	"github.com/smazurov/segmentcast/internal/metrics"
)

// EventPublisher interface for publishing events.
type EventPublisher interface {
	Publish(ev events.Event)
}

// SSEExporter periodically publishes a RunProgressEvent for every active
// run whose counters moved since the previous tick.
type SSEExporter struct {
	eventBus EventPublisher
	interval time.Duration
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	// owned by the export goroutine
	last     map[string]metrics.RunMetrics
	lastTick time.Time
}

// NewSSEExporter creates an exporter publishing once per second.
func NewSSEExporter(eventBus EventPublisher) *SSEExporter {
	return &SSEExporter{
		eventBus: eventBus,
		interval: time.Second,
	}
}

// Start begins exporting until ctx is cancelled or Stop is called.
func (s *SSEExporter) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.last = make(map[string]metrics.RunMetrics)
	s.lastTick = time.Now()
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop halts exporting and waits for the loop to exit.
func (s *SSEExporter) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *SSEExporter) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.export(now)
		}
	}
}

func (s *SSEExporter) export(now time.Time) {
	elapsed := now.Sub(s.lastTick).Seconds()
	s.lastTick = now

	current := metrics.GetAllRunMetrics()
	for runID := range s.last {
		if _, ok := current[runID]; !ok {
			delete(s.last, runID)
		}
	}

	stamp := now.Format(time.RFC3339)
	for runID, m := range current {
		prev, seen := s.last[runID]
		if seen && prev == *m {
			continue
		}
		s.last[runID] = *m

		var fps float64
		if seen && elapsed > 0 {
			fps = float64(m.Rendered-prev.Rendered) / elapsed
		}
		s.eventBus.Publish(events.RunProgressEvent{
			RunID:     runID,
			Decoded:   m.Decoded,
			Encoded:   m.Encoded,
			Rendered:  m.Rendered,
			Muxed:     m.Muxed,
			Segments:  m.Segments,
			Bytes:     m.Bytes,
			FPS:       fps,
			Timestamp: stamp,
		})
	}
}

// GetEventTypes returns the SSE event names of every bus event.
func GetEventTypes() map[string]any {
	return map[string]any{
		"run-started":      events.RunStartedEvent{},
		"segment-uploaded": events.SegmentUploadedEvent{},
		"run-progress":     events.RunProgressEvent{},
		"run-completed":    events.RunCompletedEvent{},
		"run-failed":       events.RunFailedEvent{},
		"presets-reloaded": events.PresetsReloadedEvent{},
	}
}
