package events

import "collend/core/types"

// WireCarrier is implemented by module events that wrap a wire-level payload.
// The recorder uses it to surface attributes without knowing module types.
type WireCarrier interface {
	Event() *types.Event
}

// Recorder is an Emitter that retains every emitted event in order. It backs
// assertions in tests and the simulator's transcript output.
type Recorder struct {
	events []Event
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder { return &Recorder{} }

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	if r == nil || evt == nil {
		return
	}
	r.events = append(r.events, evt)
}

// Events returns the recorded events in emission order.
func (r *Recorder) Events() []Event {
	if r == nil {
		return nil
	}
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Wire returns the wire payloads of every recorded event that carries one.
func (r *Recorder) Wire() []*types.Event {
	if r == nil {
		return nil
	}
	out := make([]*types.Event, 0, len(r.events))
	for _, evt := range r.events {
		if carrier, ok := evt.(WireCarrier); ok {
			if wire := carrier.Event(); wire != nil {
				out = append(out, wire)
			}
		}
	}
	return out
}

// ByType filters the recorded wire payloads by event type.
func (r *Recorder) ByType(eventType string) []*types.Event {
	var out []*types.Event
	for _, wire := range r.Wire() {
		if wire.Type == eventType {
			out = append(out, wire)
		}
	}
	return out
}

// Reset discards every recorded event.
func (r *Recorder) Reset() {
	if r == nil {
		return
	}
	r.events = nil
}
