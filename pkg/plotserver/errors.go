package plotserver

import "fmt"

// NotFoundError is returned for unknown page ids and missing static assets.
// Handlers turn it into a 404 response.
type NotFoundError struct {
	Kind string
	Name string
	Err  error
}

func (e *NotFoundError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %q not found: %v", e.Kind, e.Name, e.Err)
	}
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// ParseError reports a relay message that could not be decoded. The message is
// dropped and the channel stays open.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("malformed channel message %q: %v", e.Raw, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ListenError is returned by Spawn when the listener cannot be bound.
type ListenError struct {
	Addr string
	Err  error
}

func (e *ListenError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("listen on %s: %v", e.Addr, e.Err)
}

func (e *ListenError) Unwrap() error { return e.Err }
