package plot

// ValidationError reports a malformed payload or layout handed to the buffer.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return "invalid plot: " + e.Reason + ": " + e.Err.Error()
	}
	return "invalid plot: " + e.Reason
}

func (e *ValidationError) Unwrap() error { return e.Err }
