package testsupport

import (
	"sync"

	"docflow/internal/events"
)

// EventRecorder is an events.Publisher that keeps every published event.
type EventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

// Publish records evt.
func (r *EventRecorder) Publish(evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

// Events returns a copy of the recorded events.
func (r *EventRecorder) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

// Transitions returns the stage of every transition event in order.
func (r *EventRecorder) Transitions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, evt := range r.events {
		if evt.Kind == events.KindTransition {
			out = append(out, evt.Stage)
		}
	}
	return out
}
