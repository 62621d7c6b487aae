package plot

import (
	"encoding/json"
	"sync"
)

// Buffer accumulates entries until they are flushed into a page.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

// Stack validates payload and layout and appends them to the buffer.
func (b *Buffer) Stack(payload Payload, layout Layout) error {
	if err := Validate(payload, layout); err != nil {
		return err
	}
	b.mu.Lock()
	b.entries = append(b.entries, Entry{Payload: payload, Layout: layout})
	b.mu.Unlock()
	return nil
}

// Flush returns everything stacked so far and empties the buffer.
func (b *Buffer) Flush() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.entries
	b.entries = nil
	if out == nil {
		out = []Entry{}
	}
	return out
}

// Clear drops unflushed entries.
func (b *Buffer) Clear() {
	b.mu.Lock()
	b.entries = nil
	b.mu.Unlock()
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Validate checks a payload before it is buffered. Live payloads are only
// checked for a stream; their emissions are validated when they arrive.
func Validate(payload Payload, layout Layout) error {
	switch p := payload.(type) {
	case nil:
		return &ValidationError{Reason: "payload is missing"}
	case Static:
		if len(p) == 0 {
			return &ValidationError{Reason: "plot data must contain at least 1 element"}
		}
		if err := validatePlots(p); err != nil {
			return err
		}
	case Live:
		if p.Stream == nil {
			return &ValidationError{Reason: "live payload has no stream"}
		}
	default:
		return &ValidationError{Reason: "unknown payload kind"}
	}
	if layout != nil {
		if _, err := json.Marshal(layout); err != nil {
			return &ValidationError{Reason: "layout is not serializable", Err: err}
		}
	}
	return nil
}

// ValidateEmission checks one emission of a live stream.
func ValidateEmission(plots []Plot) error {
	if len(plots) == 0 {
		return &ValidationError{Reason: "live emission is empty"}
	}
	return validatePlots(plots)
}

func validatePlots(plots []Plot) error {
	for _, p := range plots {
		if p == nil {
			return &ValidationError{Reason: "plot data contains a nil plot"}
		}
	}
	if _, err := json.Marshal(plots); err != nil {
		return &ValidationError{Reason: "plot data is not serializable", Err: err}
	}
	return nil
}
