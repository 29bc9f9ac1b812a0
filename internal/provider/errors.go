package provider

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Kind classifies provider failures uniformly across backends.
type Kind string

const (
	// KindInvalidCredentials: the backend rejected the API key.
	KindInvalidCredentials Kind = "invalid_credentials"
	// KindRateLimited: the backend throttled the request.
	KindRateLimited Kind = "rate_limited"
	// KindModelNotFound: the requested model does not exist or is
	// unavailable to these credentials.
	KindModelNotFound Kind = "model_not_found"
	// KindNetwork: connection or transport failure.
	KindNetwork Kind = "network"
	// KindMalformedResponse: the backend returned neither content nor a
	// parseable tool call.
	KindMalformedResponse Kind = "malformed_response"
)

// Error is a classified provider failure carrying backend and model
// context for diagnostics. This layer never retries; callers branch on
// Kind to decide.
type Error struct {
	Backend string
	Model   string
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s/%s: %s: %s", e.Backend, e.Model, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// newError builds a classified error for one backend call.
func newError(backend, model string, kind Kind, msg string, err error) *Error {
	return &Error{Backend: backend, Model: model, Kind: kind, Message: msg, Err: err}
}

// IsKind reports whether err is a provider Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == kind
}

// classifyHTTP maps an HTTP status to an error kind. Used by the HTTP
// backends; the SDK backend classifies from its own error surface.
func classifyHTTP(status int, body string) Kind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindInvalidCredentials
	case http.StatusTooManyRequests:
		return KindRateLimited
	case http.StatusNotFound:
		return KindModelNotFound
	default:
		if status == http.StatusBadRequest && strings.Contains(strings.ToLower(body), "model") {
			return KindModelNotFound
		}
		return KindNetwork
	}
}

// classifyTransport maps a transport-level error to an error kind.
func classifyTransport(err error) Kind {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "api key") || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "401"):
		return KindInvalidCredentials
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "quota") || strings.Contains(lower, "429"):
		return KindRateLimited
	case strings.Contains(lower, "not found") || strings.Contains(lower, "404"):
		return KindModelNotFound
	default:
		return KindNetwork
	}
}
