package events

import (
	"github.com/kelindar/event"
)

// route binds one concrete event type to the dispatcher. kelindar/event
// dispatches on the static type, so each type needs its own instantiation.
type route struct {
	publish   func(d *event.Dispatcher, ev Event) bool
	subscribe func(d *event.Dispatcher, handler any) (func(), bool)
	forward   func(d *event.Dispatcher, ch chan<- any) func()
}

func routeFor[T Event]() route {
	return route{
		publish: func(d *event.Dispatcher, ev Event) bool {
			e, ok := ev.(T)
			if ok {
				event.Publish(d, e)
			}
			return ok
		},
		subscribe: func(d *event.Dispatcher, handler any) (func(), bool) {
			fn, ok := handler.(func(T))
			if !ok {
				return nil, false
			}
			return event.Subscribe(d, fn), true
		},
		forward: func(d *event.Dispatcher, ch chan<- any) func() {
			return event.Subscribe(d, func(e T) {
				select {
				case ch <- e:
				default:
				}
			})
		},
	}
}

var routes = []route{
	routeFor[RunStartedEvent](),
	routeFor[SegmentUploadedEvent](),
	routeFor[RunProgressEvent](),
	routeFor[RunCompletedEvent](),
	routeFor[RunFailedEvent](),
	routeFor[PresetsReloadedEvent](),
}

// Bus broadcasts run and preset events to in-process subscribers.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{dispatcher: event.NewDispatcher()}
}

// Publish delivers ev to the subscribers of its concrete type. Unknown
// event types are dropped.
func (b *Bus) Publish(ev Event) {
	for _, r := range routes {
		if r.publish(b.dispatcher, ev) {
			return
		}
	}
}

// Subscribe registers a func(XxxEvent) handler; its parameter type picks
// the events it receives. The returned function unsubscribes. A handler of
// any other shape is ignored and gets a no-op.
func (b *Bus) Subscribe(handler any) func() {
	for _, r := range routes {
		if unsub, ok := r.subscribe(b.dispatcher, handler); ok {
			return unsub
		}
	}
	return func() {}
}
