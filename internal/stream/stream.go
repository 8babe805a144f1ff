// Package stream defines the duplex byte channel contract shared by the
// physical serial port and each virtual endpoint's client-facing side.
package stream

import "errors"

// Channel is a duplex byte stream that can fail.
//
// ReadChunk returns (nil, nil) when no bytes are currently available;
// it never blocks. WriteChunk either accepts the whole payload, drops it
// (nil error, at-most-once semantics), or reports a failure.
type Channel interface {
	ReadChunk() ([]byte, error)
	WriteChunk(p []byte) error
	Close() error
}

var (
	// ErrClosed reports that the stream is unusable and must be
	// reopened or recreated by its owner.
	ErrClosed = errors.New("stream: closed")

	// ErrNoPeer reports that the client side of the stream is not
	// attached. This is an expected condition, not a failure.
	ErrNoPeer = errors.New("stream: no peer attached")
)
