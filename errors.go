package lockstep

import "github.com/pkg/errors"

// Sentinel errors surfaced across the package boundary. Transient network
// conditions (loss, duplication, reorder) never produce an error value;
// they are absorbed inside ReceiveQueue/SendQueue. These cover the
// remaining two kinds: protocol misuse and fatal conditions.
var (
	// ErrUnknownSender is returned when a datagram names a senderID the
	// Receiver has no ReceiveQueue/SendQueue for.
	ErrUnknownSender = errors.New("lockstep: unknown sender id")

	// ErrNegativeFrame is returned when a decoded frame number is
	// negative, violating the monotonic frame-number invariant.
	ErrNegativeFrame = errors.New("lockstep: negative frame number")

	// ErrMalformedDatagram is the sentinel for a datagram the codec cannot
	// decode. The Receiver logs and drops such datagrams; it neither
	// returns nor wraps this error.
	ErrMalformedDatagram = errors.New("lockstep: malformed datagram")

	// ErrClosed is returned by Shutdown when the coordinator has already
	// been shut down.
	ErrClosed = errors.New("lockstep: coordinator closed")
)

// FatalError wraps an error that forced the coordinator to tear down all
// three execution contexts. The host application learns about it through
// FatalHandler.OnFatal, if its Application implements FatalHandler.
type FatalError struct {
	cause error
}

func (e *FatalError) Error() string {
	return "lockstep: fatal: " + e.cause.Error()
}

func (e *FatalError) Unwrap() error {
	return e.cause
}

func newFatalError(cause error) *FatalError {
	return &FatalError{cause: cause}
}
