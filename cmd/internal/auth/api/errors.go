package authapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrUnauthorized matches a 401 from any endpoint.
	ErrUnauthorized = errors.New("authapi: unauthorized")
	// ErrRejected matches any other 4xx.
	ErrRejected = errors.New("authapi: request rejected")
	// ErrServer matches 5xx responses.
	ErrServer = errors.New("authapi: server error")
	// ErrMalformedResponse is returned when a 2xx body cannot be used.
	ErrMalformedResponse = errors.New("authapi: malformed response")
)

// Error is a non-2xx response from an auth endpoint.
type Error struct {
	Op      string
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("authapi: %s: %d %s: %s", e.Op, e.Status, e.Code, msg)
	}
	return fmt.Sprintf("authapi: %s: %d: %s", e.Op, e.Status, msg)
}

func (e *Error) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized:
		return ErrUnauthorized
	case e.Status >= 400 && e.Status < 500:
		return ErrRejected
	default:
		return ErrServer
	}
}

// IsUnauthorized reports whether err is a 401 from the auth API.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

type envelopeError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type detailError struct {
	Detail json.RawMessage `json:"detail"`
}

// decodeError builds an *Error from a failed response body. It understands
// the {"error":{"code","message"}} envelope and the {"detail": ...} shape.
func decodeError(op string, status int, body []byte) *Error {
	e := &Error{Op: op, Status: status}

	var env envelopeError
	if json.Unmarshal(body, &env) == nil && (env.Error.Code != "" || env.Error.Message != "") {
		e.Code = env.Error.Code
		e.Message = env.Error.Message
		return e
	}

	var det detailError
	if json.Unmarshal(body, &det) == nil && len(det.Detail) > 0 {
		var s string
		if json.Unmarshal(det.Detail, &s) == nil {
			e.Message = s
		} else {
			e.Message = string(det.Detail)
		}
		return e
	}

	e.Message = strings.TrimSpace(string(body))
	if len(e.Message) > 200 {
		e.Message = e.Message[:200]
	}
	return e
}
