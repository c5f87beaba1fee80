package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ErrBackendUnreachable indicates the backend connectivity check failed.
// The orchestrator fails the whole batch on this error before processing
// any items.
var ErrBackendUnreachable = errors.New("backend unreachable")

// BackendErrorKind classifies a failed backend call.
type BackendErrorKind string

const (
	KindTimeout     BackendErrorKind = "timeout"
	KindConnection  BackendErrorKind = "connection"
	KindBadStatus   BackendErrorKind = "bad_status"
	KindUnparseable BackendErrorKind = "unparseable"
)

// BackendError describes a failed generation call. Timeout, connection and
// bad-status errors are retried per backend policy; unparseable responses
// surface as item- or field-level failures.
type BackendError struct {
	Kind   BackendErrorKind
	Status int
	Err    error
}

func (e *BackendError) Error() string {
	switch e.Kind {
	case KindBadStatus:
		return fmt.Sprintf("backend returned status %d: %v", e.Status, e.Err)
	default:
		return fmt.Sprintf("backend %s: %v", e.Kind, e.Err)
	}
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// NewBackendError wraps err with a classification. Status is only meaningful
// for KindBadStatus.
func NewBackendError(kind BackendErrorKind, status int, err error) *BackendError {
	return &BackendError{Kind: kind, Status: status, Err: err}
}

// TransientError wraps an error that is safe to retry (429, 5xx, network
// timeout).
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

// NewTransientError wraps an error as transient with an optional HTTP status
// code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, a retryable BackendError, or matches common transient
// network patterns.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var be *BackendError
	if errors.As(err, &be) {
		switch be.Kind {
		case KindTimeout, KindConnection:
			return true
		case KindBadStatus:
			return IsTransientHTTPStatus(be.Status)
		default:
			return false
		}
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

	// String-based heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"connection refused",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"context deadline exceeded",
	}
	for _, p := range transientPatterns {
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
	case 408, // Request Timeout
		429, // Too Many Requests
		500, // Internal Server Error
		502, // Bad Gateway
		503, // Service Unavailable
		504: // Gateway Timeout
		return true
	default:
		return false
	}
}
