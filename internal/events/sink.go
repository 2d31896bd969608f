// Package events delivers session engine events to interested consumers.
package events

import (
	"context"
	"sync"

	"github.com/mcoot/coinfall/internal/model"
)

// Sink receives engine events. Publish must not block for long; engines call it
// on their own goroutine after releasing their lock.
type Sink interface {
	Publish(ctx context.Context, event model.Event)
}

// Nop discards every event
type Nop struct{}

// Publish implements Sink
func (Nop) Publish(context.Context, model.Event) {}

// Fanout delivers each event to every sink in order
type Fanout []Sink

// Publish implements Sink
func (f Fanout) Publish(ctx context.Context, event model.Event) {
	for _, s := range f {
		s.Publish(ctx, event)
	}
}

// Filter forwards only the listed event types to Next
type Filter struct {
	Types []model.EventType
	Next  Sink
}

// Publish implements Sink
func (f Filter) Publish(ctx context.Context, event model.Event) {
	for _, t := range f.Types {
		if t == event.Type {
			f.Next.Publish(ctx, event)
			return
		}
	}
}

// Recorder keeps every published event in memory
type Recorder struct {
	mu     sync.Mutex
	events []model.Event
}

// Publish implements Sink
func (r *Recorder) Publish(_ context.Context, event model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events of one type
func (r *Recorder) OfType(t model.EventType) []model.Event {
	var out []model.Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Reset clears recorded events
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
