package session

import (
	"maps"

	"github.com/vango-dev/uisync/pkg/protocol"
)

// buffer collects the outbound output of one request. It implements
// adapter.Sink.
type buffer struct {
	events      []protocol.Event
	adapterData map[string]protocol.AdapterData
}

func newBuffer() *buffer {
	return &buffer{adapterData: make(map[string]protocol.AdapterData)}
}

// Emit appends ev. Consecutive property events for the same adapter are
// merged. Disposing an adapter that was described in this same buffer drops
// everything queued for it instead, since the client never saw it.
func (b *buffer) Emit(ev protocol.Event) {
	switch ev.Type {
	case protocol.EventDispose:
		if _, ok := b.adapterData[ev.Target]; ok {
			delete(b.adapterData, ev.Target)
			b.dropTarget(ev.Target)
			return
		}
	case protocol.EventProperty:
		if n := len(b.events); n > 0 {
			last := &b.events[n-1]
			if last.Type == protocol.EventProperty && last.Target == ev.Target {
				merged := maps.Clone(last.Properties)
				maps.Copy(merged, ev.Properties)
				last.Properties = merged
				return
			}
		}
	}
	b.events = append(b.events, ev)
}

// Describe records the initial description of a new adapter.
func (b *buffer) Describe(data protocol.AdapterData) {
	b.adapterData[data.ID] = data
}

func (b *buffer) dropTarget(id string) {
	kept := b.events[:0]
	for _, ev := range b.events {
		if ev.Target != id {
			kept = append(kept, ev)
		}
	}
	clear(b.events[len(kept):])
	b.events = kept
}

func (b *buffer) len() int {
	return len(b.events)
}

// drain moves the buffered output into a new success response and empties
// the buffer.
func (b *buffer) drain() *protocol.Response {
	resp := protocol.NewResponse()
	if len(b.events) > 0 {
		resp.Events = b.events
	}
	if len(b.adapterData) > 0 {
		resp.AdapterData = b.adapterData
	}
	b.events = nil
	b.adapterData = make(map[string]protocol.AdapterData)
	return resp
}

// reset discards the buffered output.
func (b *buffer) reset() {
	b.events = nil
	clear(b.adapterData)
}
