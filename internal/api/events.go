package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/segmentcast/internal/events"
	"github.com/smazurov/segmentcast/internal/metrics/exporters"
)

type eventStream struct {
	id, path, summary, description, tag string
	buffer                              int
	types                               map[string]any
	subscribe                           func(*events.Bus, chan<- any) func()
}

// registerSSERoutes registers the run event stream and the progress stream.
// The Prometheus exposition is served separately at /metrics.
func (s *Server) registerSSERoutes() {
	streams := []eventStream{
		{
			id:          "events-stream",
			path:        "/api/events",
			summary:     "Server-Sent Events Stream",
			description: "Real-time stream of run lifecycle, segment upload and preset reload events",
			tag:         "events",
			buffer:      32,
			types:       exporters.GetEventTypes(),
			subscribe:   events.SubscribeAll,
		},
		{
			id:          "metrics-stream",
			path:        "/api/metrics",
			summary:     "Run Progress Stream",
			description: "Frame counters of every active run, sent when they change",
			tag:         "metrics",
			buffer:      10,
			types:       map[string]any{"run-progress": events.RunProgressEvent{}},
			subscribe:   events.SubscribeToChannel[events.RunProgressEvent],
		},
	}
	for _, st := range streams {
		s.registerEventStream(st)
	}
}

func (s *Server) registerEventStream(st eventStream) {
	sse.Register(s.api, huma.Operation{
		OperationID: st.id,
		Method:      http.MethodGet,
		Path:        st.path,
		Summary:     st.summary,
		Description: st.description,
		Tags:        []string{st.tag},
		Security:    withAuth(),
		Errors:      []int{401},
	}, st.types, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		if s.options.EventBus == nil {
			return
		}
		eventCh := make(chan any, st.buffer)
		defer st.subscribe(s.options.EventBus, eventCh)()

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-eventCh:
				if err := send.Data(ev); err != nil {
					return
				}
			}
		}
	})
}
