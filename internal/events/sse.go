package events

// SubscribeToChannel bridges a typed subscription to a channel for the SSE
// handler's select loop. Events are dropped while ch is full.
func SubscribeToChannel[T Event](bus *Bus, ch chan<- any) func() {
	return routeFor[T]().forward(bus.dispatcher, ch)
}

// SubscribeAll forwards every known event type to ch and returns one
// unsubscribe function for all of them.
func SubscribeAll(bus *Bus, ch chan<- any) func() {
	unsubs := make([]func(), 0, len(routes))
	for _, r := range routes {
		unsubs = append(unsubs, r.forward(bus.dispatcher, ch))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
