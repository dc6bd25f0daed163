package store

import (
	"context"
	"fmt"
	"net"

	"gitlab.com/tozd/go/errors"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrTimeout   = errors.New("timeout")
	ErrTransport = errors.New("transport failure")
	ErrRejected  = errors.New("rejected by remote store")
)

// CallError describes a failed remote call. Kind is one of ErrTimeout,
// ErrTransport or ErrRejected. Rejections carry the remote status and body.
type CallError struct {
	Op     string
	Kind   error
	Status int
	Body   string
	Err    error
}

func (e *CallError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: remote store returned status %d: %s", e.Op, e.Status, e.Body)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Kind)
}

func (e *CallError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// transportError classifies a failed round trip as a timeout or a transport failure.
func transportError(op string, err error) error {
	kind := ErrTransport
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = ErrTimeout
	}
	return &CallError{Op: op, Kind: kind, Err: err}
}
