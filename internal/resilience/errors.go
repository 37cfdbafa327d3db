// Package resilience wraps calls to the search and LLM providers with retry,
// circuit breaking and error classification.
package resilience

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// ProviderError is a non-2xx response from an external provider.
type ProviderError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Service, e.StatusCode, e.Body)
}

// HTTPStatus returns the response status code.
func (e *ProviderError) HTTPStatus() int { return e.StatusCode }

// StatusCoder is implemented by client errors that carry an HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

func statusOf(err error) (int, bool) {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatus(), true
	}
	return 0, false
}

// TransientError wraps an error that is safe to retry (429, 5xx, network timeout).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// HTTPError builds the error for a non-2xx provider response. Transient
// statuses come back wrapped in a TransientError so retry picks them up.
func HTTPError(service string, statusCode int, body []byte) error {
	pe := &ProviderError{Service: service, StatusCode: statusCode, Body: strings.TrimSpace(string(body))}
	if IsTransientHTTPStatus(statusCode) && !IsBilling(pe) {
		return NewTransientError(pe, statusCode)
	}
	return pe
}

var billingPatterns = []string{
	"billing",
	"quota",
	"insufficient",
	"payment required",
	"credit balance",
	"exceeded your current",
}

// IsBilling reports whether err means the provider account cannot pay for
// more calls: HTTP 402, or a message mentioning billing, quota or
// insufficient funds. Plain rate limiting is transient, not billing.
func IsBilling(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := statusOf(err); ok && code == http.StatusPaymentRequired {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range billingPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, or if it matches common transient error patterns (network
// timeouts, connection resets, DNS failures). Billing errors are never
// transient.
func IsTransient(err error) bool {
	if err == nil || IsBilling(err) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if code, ok := statusOf(err); ok && IsTransientHTTPStatus(code) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"rate limit",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
