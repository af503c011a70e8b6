package llm

import (
	"fmt"
	"net/http"
)

// ConfigurationError means a required credential or endpoint is not set.
type ConfigurationError struct {
	Setting string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s is not configured", e.Setting)
}

// AuthError is a 401/403 from an upstream service.
type AuthError struct {
	Status  int
	Setting string
}

func (e *AuthError) Error() string {
	if e.Setting != "" {
		return fmt.Sprintf("Invalid API key. Please check your %s.", e.Setting)
	}
	return "upstream rejected credentials"
}

// UpstreamError is any other non-success upstream status.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("upstream error (status %d): %s", e.Status, msg)
}

// NetworkError wraps a transport failure before any status was received.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: unable to reach upstream: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ParseError means the reply could not be read as JSON. Reason never
// includes the raw reply.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	if e.Reason == "" {
		return "failed to parse upstream response"
	}
	return "failed to parse upstream response: " + e.Reason
}
