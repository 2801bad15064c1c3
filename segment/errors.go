package segment

import "errors"

var (
	// ErrNotConnected is returned by Read when no connection is installed.
	ErrNotConnected = errors.New("segment: not connected")

	// ErrConnectionFailed is wrapped by the cause delivered to reads drained after a redirect or a
	// lost connection.
	ErrConnectionFailed = errors.New("segment: connection failed")

	// ErrInvalidTarget is wrapped by the cause delivered to reads drained because the segment or its
	// stream does not exist.
	ErrInvalidTarget = errors.New("segment: invalid target")

	// ErrPermanent is wrapped by ConnectionFactory errors that retrying cannot fix. The reader stops
	// reconnecting as soon as it sees one.
	ErrPermanent = errors.New("segment: permanent connection failure")

	// ErrClosed is delivered to reads still pending when the reader is closed.
	ErrClosed = errors.New("segment: reader closed")
)
