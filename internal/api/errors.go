package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"guardsched/internal/model"
)

// ErrInvalidURL is returned when the base URL and operation path do not form
// an absolute http(s) URL.
var ErrInvalidURL = errors.New("api: invalid URL")

// NetworkError wraps a transport failure (dial, TLS, timeout, body read).
type NetworkError struct {
	Op  Kind
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("api: %s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError is a non-2xx response. Message is the first message of the
// server's error body, or a generic text when the body carries none.
type ServerError struct {
	Op      Kind
	Status  int
	Name    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("api: %s: %d: %s", e.Op, e.Status, e.Message)
}

// DecodeError reports a 2xx payload that does not have the expected shape.
type DecodeError struct {
	Op  Kind
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("api: %s: decode response: %v", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsStatus reports whether err is a ServerError with the given status.
func IsStatus(err error, status int) bool {
	var se *ServerError
	return errors.As(err, &se) && se.Status == status
}

func newServerError(op Kind, status int, body []byte) *ServerError {
	se := &ServerError{
		Op:      op,
		Status:  status,
		Message: fmt.Sprintf("request failed with status %d %s", status, http.StatusText(status)),
	}

	var resp model.ErrorResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return se
	}
	se.Name = resp.Name
	if len(resp.Errors) > 0 && resp.Errors[0].Message != "" {
		se.Message = resp.Errors[0].Message
	}
	return se
}
