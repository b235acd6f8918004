package collector

import (
	"errors"
	"fmt"
)

// ErrTimedOut is returned by Channel.Receive when no frame arrives within
// the requested wait window. The collector treats it as turn completion,
// never as a failure.
var ErrTimedOut = errors.New("receive timed out")

// ErrClosed is returned by Channel.Receive when the remote endpoint
// terminated the connection with a normal close.
var ErrClosed = errors.New("channel closed by remote")

// ErrCanceled is returned by Collect when the caller's context is canceled
// before the turn completes. It is distinct from both success and channel
// failure so callers can tell "the agent produced nothing" from "we gave up
// waiting" from "caller aborted".
var ErrCanceled = errors.New("collection canceled")

// ChannelError is a transport-level fault: connection reset, TLS failure,
// send failure, unexpected close. It is fatal for the current collection
// call and is never silently converted into an empty success.
type ChannelError struct {
	// Op is the channel operation that failed ("dial", "send", "receive").
	Op string
	// Err is the underlying transport error.
	Err error
}

// Error implements error.
func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying transport error.
func (e *ChannelError) Unwrap() error { return e.Err }

// CollectionError is returned by Collect when the turn fails. It wraps the
// underlying channel error.
type CollectionError struct {
	Err error
}

// Error implements error.
func (e *CollectionError) Error() string {
	return fmt.Sprintf("collect: %v", e.Err)
}

// Unwrap returns the wrapped error.
func (e *CollectionError) Unwrap() error { return e.Err }

// asChannelError wraps err in a ChannelError unless it already is one.
func asChannelError(op string, err error) *ChannelError {
	var cerr *ChannelError
	if errors.As(err, &cerr) {
		return cerr
	}
	return &ChannelError{Op: op, Err: err}
}
