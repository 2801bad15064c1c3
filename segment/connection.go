// Package segment reads byte ranges of a single append-only segment from the storage node that
// owns it.
//
// A Reader keeps one connection to the node, correlates asynchronous replies with the reads that
// asked for them, and replaces the connection when the node redirects or the session is lost.
package segment

import (
	"sync/atomic"

	"github.com/TheSmallBoat/seglog/wire"
)

// Connection is one live session to a storage node.
type Connection interface {
	// SendAsync queues cmd for transmission without waiting for it to be written.
	SendAsync(cmd wire.Command) error

	// Drop releases the session. A dropped connection is never used again.
	Drop()
}

// ConnectionFactory establishes sessions. Replies arriving on the returned connection, and the
// notice that it has ended, are delivered to rp.
type ConnectionFactory interface {
	Establish(endpoint string, rp wire.ReplyProcessor) (Connection, error)
}

const (
	refPending int32 = iota // being installed by the reconnect loop
	refSettled              // installed; later drops are handled by the processor
	refDropped              // ended before it settled; the reconnect loop replaces it
)

// connRef is one established connection. Its state decides who reacts when the session ends,
// so exactly one of the reconnect loop and the processor does.
type connRef struct {
	conn  Connection
	state atomic.Int32
}

// settle is called by the reconnect loop once conn is installed. It returns false if the session
// already ended, in which case the loop must replace it.
func (r *connRef) settle() bool {
	return r.state.CompareAndSwap(refPending, refSettled)
}

// markDropped records the end of the session. It returns false if the connection had settled, in
// which case the caller must replace it.
func (r *connRef) markDropped() bool {
	return r.state.CompareAndSwap(refPending, refDropped)
}

// connSlot holds the connection currently in use. The ref pointer identifies an installed
// connection, so callbacks can tell whether theirs is still the current one.
type connSlot struct {
	p atomic.Pointer[connRef]
}

func (s *connSlot) load() *connRef { return s.p.Load() }

func (s *connSlot) get() Connection {
	if ref := s.p.Load(); ref != nil {
		return ref.conn
	}
	return nil
}

// swap installs ref and returns the previous occupant, which the caller must drop.
func (s *connSlot) swap(ref *connRef) Connection {
	if old := s.p.Swap(ref); old != nil {
		return old.conn
	}
	return nil
}

func (s *connSlot) takeAndClear() Connection {
	return s.swap(nil)
}

// clearIf empties the slot only if it still holds ref.
func (s *connSlot) clearIf(ref *connRef) bool {
	return ref != nil && s.p.CompareAndSwap(ref, nil)
}

func (s *connSlot) current(ref *connRef) bool {
	return ref != nil && s.p.Load() == ref
}
