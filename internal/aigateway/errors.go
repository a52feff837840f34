package aigateway

import (
	"context"
	"errors"
	"net"
	"syscall"
)

type Kind string

const (
	KindConnectivity    Kind = "connectivity"
	KindTimeout         Kind = "timeout"
	KindCanceled        Kind = "canceled"
	KindUpstream        Kind = "upstream"
	KindInvalidResponse Kind = "invalid_response"
	KindValidation      Kind = "validation"
)

const (
	msgNotRunning = "AI service is not running"
	msgTimeout    = "AI service timeout - the request is taking longer than expected"
)

// Error is the only error shape callers see from this package.
type Error struct {
	Kind    Kind
	Message string
	Status  int // upstream HTTP status, 0 when no response was received
	Err     error
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or "" if it did not come from this package.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ""
}

func IsTimeout(err error) bool { return KindOf(err) == KindTimeout }

func validation(msg string) *Error { return &Error{Kind: KindValidation, Message: msg} }

// classifyTransport maps a failed round trip onto a Kind.
func classifyTransport(ctx context.Context, err error) *Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Message: msgTimeout, Err: err}
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindCanceled, Message: "AI request canceled", Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &Error{Kind: KindTimeout, Message: msgTimeout, Err: err}
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return &Error{Kind: KindConnectivity, Message: msgNotRunning, Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return &Error{Kind: KindConnectivity, Message: msgNotRunning, Err: err}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &Error{Kind: KindConnectivity, Message: msgNotRunning, Err: err}
	}
	return &Error{Kind: KindConnectivity, Message: err.Error(), Err: err}
}
