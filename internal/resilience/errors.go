package resilience

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/castmatch/outreach-cli/internal/model"
)

// TransientError tags an error as retryable, optionally carrying the HTTP
// status that produced it.
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

// NewTransientError tags err as retryable. statusCode may be zero when the
// failure was not an HTTP response.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// PermanentError wraps an error that must never be retried, e.g. a media
// whose feed URL no longer resolves. Takes precedence over any transient
// signal in the chain.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError marks an error as permanently failed.
func NewPermanentError(err error) *PermanentError {
	return &PermanentError{Err: err}
}

// connErrnos are connection-level failures the next attempt may not hit.
var connErrnos = []error{
	syscall.ECONNRESET,
	syscall.ECONNREFUSED,
	syscall.ECONNABORTED,
}

// transientMessages catches transient failures that reach us as plain
// wrapped strings from HTTP client internals.
var transientMessages = []string{
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"no such host",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"transport connection broken",
	"context deadline exceeded",
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, a rejected call from an open circuit, or matches common
// transient error patterns (network timeouts, connection resets, DNS
// failures). An explicit PermanentError anywhere in the chain wins.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	// Explicit permanent marker overrides everything else.
	var pe *PermanentError
	if errors.As(err, &pe) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	// An open breaker means the provider is unhealthy, not the record.
	if errors.Is(err, ErrCircuitOpen) {
		return true
	}

	return networkTransient(err)
}

// networkTransient reports whether err looks like a transport-level
// failure worth another attempt.
func networkTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	for _, errno := range connErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range transientMessages {
		if strings.Contains(msg, pattern) {
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
	}
	return false
}

// ClassifyError maps an error onto the pipeline's failure taxonomy.
func ClassifyError(err error) model.ErrorClass {
	if IsTransient(err) {
		return model.ErrorTransient
	}
	return model.ErrorPermanent
}
