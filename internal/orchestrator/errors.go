package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// TimeoutError reports a call whose attempts all ended in a timeout or abort.
type TimeoutError struct {
	Key      string
	Attempts int
	Err      error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("remote call timed out key=%s attempts=%d: %v", e.Key, e.Attempts, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// NetworkError reports a call that exhausted retries on transient network failures.
type NetworkError struct {
	Key      string
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("remote call failed key=%s attempts=%d: %v", e.Key, e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// FatalAPIError reports a non-retriable remote failure, e.g. an auth or
// request error the service will never accept on retry.
type FatalAPIError struct {
	Key        string
	StatusCode int
	Err        error
}

func (e *FatalAPIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("remote call rejected key=%s status=%d: %v", e.Key, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("remote call rejected key=%s: %v", e.Key, e.Err)
}

func (e *FatalAPIError) Unwrap() error { return e.Err }

// retriableMarker lets operations flag an error as explicitly retriable.
type retriableMarker interface {
	Retriable() bool
}

// httpStatusError exposes the upstream HTTP status for classification.
type httpStatusError interface {
	HTTPStatus() int
}

type errorKind int

const (
	kindTimeout errorKind = iota
	kindNetwork
	kindFatal
)

var retriableStatuses = map[int]struct{}{
	408: {},
	429: {},
	500: {},
	503: {},
	504: {},
}

// classify decides whether err is worth another attempt. A per-attempt
// timeout is not distinguished from a transient network error beyond its
// reported kind.
func classify(err error) (errorKind, bool) {
	if err == nil {
		return kindFatal, false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return kindTimeout, true
	}
	var marker retriableMarker
	if errors.As(err, &marker) {
		if marker.Retriable() {
			return kindNetwork, true
		}
		return kindFatal, false
	}
	var statusErr httpStatusError
	if errors.As(err, &statusErr) {
		if _, ok := retriableStatuses[statusErr.HTTPStatus()]; ok {
			return kindNetwork, true
		}
		return kindFatal, false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return kindTimeout, true
		}
		return kindNetwork, true
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline") {
		return kindTimeout, true
	}
	if strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection closed") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "tls handshake timeout") ||
		strings.Contains(msg, "eof") {
		return kindNetwork, true
	}
	return kindFatal, false
}
