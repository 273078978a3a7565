package events

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

const quiet = 20 * time.Millisecond

func expectNone[T any](t *testing.T, ch <-chan T, what string) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("%s: unexpected %+v", what, v)
	case <-time.After(quiet):
	}
}

func TestBusDeliversToTypedHandler(t *testing.T) {
	bus := New()
	got := make(chan SegmentUploadedEvent, 1)
	defer bus.Subscribe(func(e SegmentUploadedEvent) { got <- e })()

	want := SegmentUploadedEvent{RunID: "r1", Filename: "clip-1-144p.webm", Index: 1, Bytes: 10_000_001}
	bus.Publish(want)

	if e := <-got; e != want {
		t.Errorf("received %+v, want %+v", e, want)
	}
}

func TestBusFansOutAndUnsubscribes(t *testing.T) {
	bus := New()
	a := make(chan RunCompletedEvent, 2)
	b := make(chan RunCompletedEvent, 2)
	unsubA := bus.Subscribe(func(e RunCompletedEvent) { a <- e })
	defer bus.Subscribe(func(e RunCompletedEvent) { b <- e })()

	bus.Publish(RunCompletedEvent{RunID: "r1", Status: "done"})
	<-a
	<-b

	unsubA()
	bus.Publish(RunCompletedEvent{RunID: "r2", Status: "done"})
	if e := <-b; e.RunID != "r2" {
		t.Errorf("remaining subscriber got %q", e.RunID)
	}
	expectNone(t, a, "after unsubscribe")
}

func TestBusRoutesByType(t *testing.T) {
	bus := New()
	started := make(chan RunStartedEvent, 1)
	failed := make(chan RunFailedEvent, 1)
	defer bus.Subscribe(func(e RunStartedEvent) { started <- e })()
	defer bus.Subscribe(func(e RunFailedEvent) { failed <- e })()

	bus.Publish(RunStartedEvent{RunID: "r1"})
	<-started
	expectNone(t, failed, "failed handler on start")

	bus.Publish(RunFailedEvent{RunID: "r1", Kind: "UPLOAD"})
	if e := <-failed; e.Kind != "UPLOAD" {
		t.Errorf("kind = %q", e.Kind)
	}
	expectNone(t, started, "start handler on failure")
}

func TestBusIgnoresUnknownHandler(t *testing.T) {
	bus := New()
	unsub := bus.Subscribe(func(string) { t.Error("called") })
	unsub()
	unsub = bus.Subscribe(func(*RunStartedEvent) { t.Error("pointer handler called") })
	defer unsub()

	bus.Publish(RunStartedEvent{RunID: "r1"})
	time.Sleep(quiet)
}

func TestBusConcurrentPublish(t *testing.T) {
	const publishers, each = 8, 50
	bus := New()
	got := make(chan RunProgressEvent, publishers*each)
	defer bus.Subscribe(func(e RunProgressEvent) { got <- e })()

	var wg sync.WaitGroup
	for p := range publishers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range each {
				bus.Publish(RunProgressEvent{RunID: "r1", Decoded: int64(p*each + i)})
			}
		}()
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for range publishers * each {
		seen[(<-got).Decoded] = true
	}
	if len(seen) != publishers*each {
		t.Errorf("distinct events = %d, want %d", len(seen), publishers*each)
	}
}

func TestSubscribeAllCoversEveryEvent(t *testing.T) {
	all := []Event{
		RunStartedEvent{RunID: "r1"},
		SegmentUploadedEvent{RunID: "r1", Index: 1},
		RunProgressEvent{RunID: "r1"},
		RunCompletedEvent{RunID: "r1", Status: "done"},
		RunFailedEvent{RunID: "r1", Kind: "UPLOAD"},
		PresetsReloadedEvent{Count: 3},
	}
	if len(all) != len(routes) {
		t.Fatalf("%d routes for %d event types", len(routes), len(all))
	}

	seen := make(map[uint32]bool)
	for _, ev := range all {
		if ev.Type() == 0 || seen[ev.Type()] {
			t.Errorf("%T has type %d", ev, ev.Type())
		}
		seen[ev.Type()] = true
	}

	bus := New()
	ch := make(chan any, len(all))
	unsub := SubscribeAll(bus, ch)
	defer unsub()
	for _, ev := range all {
		bus.Publish(ev)
		if got := <-ch; got.(Event).Type() != ev.Type() {
			t.Errorf("published %T, received %T", ev, got)
		}
	}
}

func TestSubscribeToChannel(t *testing.T) {
	bus := New()
	ch := make(chan any, 1)
	unsub := SubscribeToChannel[RunCompletedEvent](bus, ch)
	defer unsub()

	bus.Publish(RunCompletedEvent{RunID: "r1", Status: "done", Segments: 3})
	completed, ok := (<-ch).(RunCompletedEvent)
	if !ok || completed.Segments != 3 {
		t.Errorf("received %+v", completed)
	}
}

func TestSubscribeToChannelDropsWhenFull(t *testing.T) {
	bus := New()
	ch := make(chan any)
	unsub := SubscribeToChannel[RunStartedEvent](bus, ch)
	defer unsub()

	done := make(chan struct{})
	go func() {
		bus.Publish(RunStartedEvent{RunID: "r1"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full channel")
	}
}

func TestSegmentUploadedJSON(t *testing.T) {
	data, err := json.Marshal(SegmentUploadedEvent{RunID: "r1", Filename: "clip-2-144p.webm", Index: 2, Bytes: 42})
	if err != nil {
		t.Fatal(err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatal(err)
	}
	if fields["filename"] != "clip-2-144p.webm" || fields["index"] != float64(2) || fields["run_id"] != "r1" {
		t.Errorf("unexpected JSON %s", data)
	}
}
