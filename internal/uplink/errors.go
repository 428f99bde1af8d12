package uplink

import (
	"errors"
	"fmt"
	"net"
)

// Kind classifies uplink failures.
type Kind int

const (
	// KindTransport means no response was received.
	KindTransport Kind = iota + 1
	// KindHTTPStatus means the service answered with a non-2xx status.
	KindHTTPStatus
	// KindDecode means a response body could not be decoded.
	KindDecode
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindHTTPStatus:
		return "http_status"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// Error is returned by every Client operation.
type Error struct {
	Kind       Kind
	StatusCode int
	// Message is the server supplied message for KindHTTPStatus.
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindHTTPStatus:
		if e.Message != "" {
			return fmt.Sprintf("uplink: http status %d: %s", e.StatusCode, e.Message)
		}
		return fmt.Sprintf("uplink: http status %d", e.StatusCode)
	default:
		if e.Err != nil {
			return fmt.Sprintf("uplink: %s: %v", e.Kind, e.Err)
		}
		return fmt.Sprintf("uplink: %s", e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Timeout reports whether a transport failure was a timeout.
func (e *Error) Timeout() bool {
	if e.Kind != KindTransport || e.Err == nil {
		return false
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// KindOf returns the Kind of err, or zero when err is not an *Error.
func KindOf(err error) Kind {
	var uerr *Error
	if errors.As(err, &uerr) {
		return uerr.Kind
	}
	return 0
}
