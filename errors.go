package gatt

import (
	"context"
	"fmt"

	"github.com/bluecats/gatt/bgapi"
	"github.com/pkg/errors"
)

var (
	// ErrInvalidState is returned for operations the current state forbids.
	ErrInvalidState = errors.New("gatt: invalid state")

	// ErrDisposed is returned by every operation after Close.
	ErrDisposed = errors.New("gatt: disposed")

	// ErrConnectionDropped is returned when the link goes down while a
	// procedure is waiting for the peer.
	ErrConnectionDropped = errors.New("gatt: connection dropped")

	// ErrNotSupported is returned when a characteristic lacks the property
	// or handle an operation needs.
	ErrNotSupported = errors.New("gatt: operation not supported")

	// ErrBusy is returned when a characteristic already has a read or write
	// outstanding.
	ErrBusy = errors.New("gatt: characteristic busy")

	// ErrHandleMismatch is returned when a procedure completes for another
	// attribute than the one requested.
	ErrHandleMismatch = errors.New("gatt: attribute handle mismatch")

	// ErrTimeout is the radio layer's timeout, so one errors.Is check
	// covers both layers.
	ErrTimeout = bgapi.ErrTimeout

	// ErrInvalidConnParams is returned for connection parameters the link
	// layer would reject.
	ErrInvalidConnParams = bgapi.ErrInvalidConnParams
)

func stateError(op string, s fmt.Stringer) error {
	return errors.Wrapf(ErrInvalidState, "%s while %s", op, s)
}

// waitError maps the end of a wait on ctx to the package errors.
func waitError(ctx context.Context, op string) error {
	if ctx.Err() == context.DeadlineExceeded {
		return errors.Wrap(ErrTimeout, op)
	}
	return errors.Wrap(ctx.Err(), op)
}
