// Package plot holds the plot data model and the buffer that stacks plots
// until they are finalized into a page.
package plot

import (
	"context"
	"encoding/json"
)

// Plot is a single trace definition (type, coordinates, styling) handed to the
// charting library as-is.
type Plot map[string]any

// Layout carries page-level rendering attributes. A nil Layout means "absent".
type Layout map[string]any

// Bundle is the wire form of one buffered entry.
type Bundle struct {
	Data   []Plot `json:"data"`
	Layout Layout `json:"layout,omitempty"`
}

// Stream is a live, possibly infinite sequence of plot emissions.
//
// Every call to Subscribe returns a fresh channel that receives emissions in
// order. The channel is closed when the sequence completes or ctx is done.
type Stream interface {
	Subscribe(ctx context.Context) (<-chan []Plot, error)
}

// Snapshotter is implemented by streams that remember their latest emission.
type Snapshotter interface {
	Latest() ([]Plot, bool)
}

// Payload is either Static or Live.
type Payload interface {
	isPayload()
	IsLive() bool
}

// Static is a finite ordered sequence of plots rendered once.
type Static []Plot

func (Static) isPayload()   {}
func (Static) IsLive() bool { return false }

// Live wraps a Stream whose emissions are pushed to the page as they happen.
type Live struct {
	Stream Stream
}

// NewLive tags s as a live payload.
func NewLive(s Stream) Live {
	return Live{Stream: s}
}

func (Live) isPayload()   {}
func (Live) IsLive() bool { return true }

// Entry is one stacked payload together with its optional layout.
type Entry struct {
	Payload Payload
	Layout  Layout
}

// Bundle renders the entry in its wire form. Live entries report their latest
// emission when the stream supports it and an empty data array otherwise.
func (e Entry) Bundle() Bundle {
	b := Bundle{Data: []Plot{}, Layout: e.Layout}
	switch p := e.Payload.(type) {
	case Static:
		b.Data = append(b.Data, p...)
	case Live:
		if s, ok := p.Stream.(Snapshotter); ok {
			if latest, ok := s.Latest(); ok {
				b.Data = append(b.Data, latest...)
			}
		}
	}
	return b
}

// Bundles renders entries in order.
func Bundles(entries []Entry) []Bundle {
	out := make([]Bundle, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Bundle())
	}
	return out
}

// HasLive reports whether any entry carries a live payload.
func HasLive(entries []Entry) bool {
	for _, e := range entries {
		if e.Payload != nil && e.Payload.IsLive() {
			return true
		}
	}
	return false
}

// Marshal serializes bundles for the data endpoint and the relay.
func Marshal(bundles []Bundle) ([]byte, error) {
	return json.Marshal(bundles)
}
