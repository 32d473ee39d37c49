package events

import (
	"sync"

	"tribeone/core/types"
)

// Event represents a structured state change emitted by the protocol.
type Event interface {
	EventType() string
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events,
// for components that want events to be optional.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Recorder buffers emitted events in a bounded ring so RPC consumers can
// page through recent activity.
type Recorder struct {
	mu     sync.RWMutex
	depth  int
	buffer []*types.Event
}

// NewRecorder builds a recorder retaining up to depth events.
func NewRecorder(depth int) *Recorder {
	if depth <= 0 {
		depth = 256
	}
	return &Recorder{depth: depth}
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(event Event) {
	if r == nil || event == nil {
		return
	}
	payload := event.Event()
	if payload == nil {
		return
	}
	r.mu.Lock()
	r.buffer = append(r.buffer, payload)
	if len(r.buffer) > r.depth {
		r.buffer = r.buffer[len(r.buffer)-r.depth:]
	}
	r.mu.Unlock()
}

// Recent returns up to n of the most recent events, oldest first.
func (r *Recorder) Recent(n int) []*types.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n <= 0 || n > len(r.buffer) {
		n = len(r.buffer)
	}
	out := make([]*types.Event, n)
	copy(out, r.buffer[len(r.buffer)-n:])
	return out
}
