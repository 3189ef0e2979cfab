package gateway

import "fmt"

// NetworkError is a transport-level failure: the gateway never produced a
// parseable response. Callers may retry with backoff.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// GatewayError is a business rejection: the gateway answered with a non-zero
// errorCode. It is surfaced to the caller and never retried automatically.
type GatewayError struct {
	Op      string
	Code    string
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s: code %s: %s", e.Op, e.Code, e.Message)
}
