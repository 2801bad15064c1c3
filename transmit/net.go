// Package transmit multiplexes length-prefixed frames over a single TCP connection.
//
// Each frame carries a sequence number. Zero marks a one-way message; any other value is either
// a request awaiting a reply or the reply to one of our own requests.
package transmit

import (
	"bufio"
	"net"
)

const (
	defaultReadBufferSize  = 4096
	defaultWriteBufferSize = 4096
)

// DefaultMaxFrameSize bounds the sequence number plus body of a frame when MaxFrameSize is unset.
const DefaultMaxFrameSize = 16 << 20

// MaxBodySize returns the largest message body that fits in a frame of maxFrameSize bytes. A
// non-positive maxFrameSize means DefaultMaxFrameSize.
func MaxBodySize(maxFrameSize int) int {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return maxFrameSize - 4
}

type ConnState int

const (
	StateNew ConnState = iota
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

type BufferedConn interface {
	net.Conn
	Flush() error
}

type ConnStateHandler interface {
	HandleConnState(conn *Conn, state ConnState)
}

type ConnStateHandlerFunc func(conn *Conn, state ConnState)

func (fn ConnStateHandlerFunc) HandleConnState(conn *Conn, state ConnState) { fn(conn, state) }

var DefaultConnStateHandler ConnStateHandlerFunc = func(conn *Conn, state ConnState) {}

// Handler is called on the connection's reader goroutine for every inbound frame that is not a
// reply. A non-nil error ends the session.
type Handler interface {
	HandleMessage(ctx *Context) error
}

type HandlerFunc func(ctx *Context) error

func (fn HandlerFunc) HandleMessage(ctx *Context) error { return fn(ctx) }

var DefaultHandler HandlerFunc = func(ctx *Context) error { return nil }

type Handshaker interface {
	Handshake(conn net.Conn) (BufferedConn, error)
}

type HandshakerFunc func(conn net.Conn) (BufferedConn, error)

func (fn HandshakerFunc) Handshake(conn net.Conn) (BufferedConn, error) { return fn(conn) }

// DefaultHandshaker wraps the raw connection with buffered readers and writers.
var DefaultHandshaker HandshakerFunc = func(conn net.Conn) (BufferedConn, error) {
	return &bufferedConn{
		Conn: conn,
		r:    bufio.NewReaderSize(conn, defaultReadBufferSize),
		w:    bufio.NewWriterSize(conn, defaultWriteBufferSize),
	}, nil
}

type bufferedConn struct {
	net.Conn
	r *bufio.Reader
	w *bufio.Writer
}

func (c *bufferedConn) Read(b []byte) (int, error)  { return c.r.Read(b) }
func (c *bufferedConn) Write(b []byte) (int, error) { return c.w.Write(b) }
func (c *bufferedConn) Flush() error                { return c.w.Flush() }
