package types

import "fmt"

// The gateway's pre-stream failures. Each variant carries only what is needed to
// render its HTTP response; see httputil.Classify for the status mapping.

// ModelNotFoundError is returned when the requested model has no configured backend.
type ModelNotFoundError struct {
	Model string
}

func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("Model '%s' not found in gateway configuration.", e.Model)
}

// BackendUnreachableError wraps a transport failure: the request could not be sent
// or no response was received.
type BackendUnreachableError struct {
	URL string
	Err error
}

func (e *BackendUnreachableError) Error() string {
	return fmt.Sprintf("backend %s unreachable: %v", e.URL, e.Err)
}

func (e *BackendUnreachableError) Unwrap() error { return e.Err }

// BackendError is a non-2xx response from the backend.
type BackendError struct {
	Status int
	Body   string
	URL    string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s returned status %d: %s", e.URL, e.Status, e.Body)
}

// InvalidRequestError is a malformed inbound request body.
type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return "invalid request: " + e.Reason
}

// RateLimitedError is returned when a client exceeds its per-minute request budget.
type RateLimitedError struct {
	Limit int64
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit of %d requests per minute exceeded", e.Limit)
}
