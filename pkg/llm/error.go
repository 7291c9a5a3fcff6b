// Package llm provides the wire representations exchanged with the host chat
// application and with the upstream model server.
package llm

import (
	"fmt"
	"strings"
)

// ErrorResponse is the JSON body returned to the host on request errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// TransportError is returned when the model server cannot be reached or
// answers with a non-2xx status.
type TransportError struct {
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e TransportError) Error() string {
	if e.Err != nil {
		if e.URL == "" {
			return fmt.Sprintf("stream read failed: %v", e.Err)
		}
		return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err)
	}

	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("%s returned %d", e.URL, e.StatusCode)
	}

	return fmt.Sprintf("%s returned %d: %s", e.URL, e.StatusCode, body)
}

func (e TransportError) Unwrap() error {
	return e.Err
}

// DecodeError is returned when a stream ends with bytes that never formed a
// complete JSON record.
type DecodeError struct {
	Residue string
}

func (e DecodeError) Error() string {
	return fmt.Sprintf("undecodable response residue: %q", e.Residue)
}

// StreamError is returned when the model server reports a failure inside an
// otherwise well-formed stream.
type StreamError struct {
	Message string
}

func (e StreamError) Error() string {
	return "model server reported an error: " + e.Message
}

// ValidationError reports configured models that are missing on the server.
type ValidationError struct {
	Problems []string
}

func (e ValidationError) Error() string {
	if len(e.Problems) == 0 {
		return "model validation failed"
	}

	return "model validation failed: " + strings.Join(e.Problems, "; ")
}
