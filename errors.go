package cantp

import "errors"

// Error taxonomy surfaced by the core, per spec.md §7.
var (
	// ErrTimeout means a deadline elapsed before progress; non-fatal, retryable.
	ErrTimeout = errors.New("cantp: timeout")
	// ErrInvalidState means send was called before the daemon reached SERVING.
	ErrInvalidState = errors.New("cantp: invalid state")
	// ErrInvalidSize means a send payload exceeded MaxPacketSize.
	ErrInvalidSize = errors.New("cantp: invalid size")
	// ErrOutOfMemory means packet allocation or queue admission failed.
	ErrOutOfMemory = errors.New("cantp: out of memory")
	// ErrFail is a generic transmit failure: the ISO-TP engine or CAN
	// driver reported an error, or re-addressing aborted an in-flight send.
	ErrFail = errors.New("cantp: send failed")
)
