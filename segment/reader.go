package segment

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/TheSmallBoat/seglog/wire"
)

// Reader issues asynchronous reads against one segment on one storage node.
//
// Reads are correlated with replies by a request id unique to the reader, so several reads of
// the same offset may be in flight at once. Reads pending when the connection is replaced fail
// with the cause of the replacement; reads pending at Close fail with ErrClosed.
type Reader struct {
	factory  ConnectionFactory
	endpoint string
	segment  string

	opts   options
	logger *log.Logger

	slot    connSlot
	pending *pendingTable
	nextID  atomic.Uint64

	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// NewReader connects to endpoint and returns a reader for segment. It fails if no connection
// could be established within the configured attempts.
func NewReader(factory ConnectionFactory, endpoint, segment string, opts ...Option) (*Reader, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	r := &Reader{
		factory:  factory,
		endpoint: endpoint,
		segment:  segment,
		opts:     o,
		logger:   o.logger,
		pending:  newPendingTable(),
		done:     make(chan struct{}),
	}

	if err := r.reconnect(nil); err != nil {
		r.Close()
		return nil, err
	}

	return r, nil
}

func (r *Reader) Segment() string  { return r.segment }
func (r *Reader) Endpoint() string { return r.endpoint }

// Pending returns the number of reads awaiting a reply.
func (r *Reader) Pending() int { return r.pending.len() }

func (r *Reader) Connected() bool { return r.slot.get() != nil }

// Read asks for up to length bytes starting at offset. Errors returned directly mean the request
// never left; failures after that are reported through the future.
func (r *Reader) Read(offset int64, length int32) (*ReadFuture, error) {
	ref := r.slot.load()
	if ref == nil {
		if r.closed.Load() {
			return nil, fmt.Errorf("%w: %w", ErrNotConnected, ErrClosed)
		}
		return nil, ErrNotConnected
	}

	cmd := wire.ReadSegment{
		RequestID: r.nextID.Add(1),
		Segment:   r.segment,
		Offset:    offset,
		Length:    length,
	}
	if err := wire.Validate(cmd); err != nil {
		return nil, fmt.Errorf("cannot read segment at offset %d: %w", offset, err)
	}

	id := cmd.RequestID
	f := newReadFuture(offset)
	r.pending.register(id, f)

	if err := ref.conn.SendAsync(cmd); err != nil {
		r.pending.remove(id, f)
		return nil, fmt.Errorf("failed to send read of segment '%s' at offset %d: %w", r.segment, offset, err)
	}

	// If the connection was replaced while the read was being issued, the drain may have missed
	// it and the retired session will not answer.
	if !r.slot.current(ref) && r.pending.remove(id, f) {
		cause := ErrClosed
		if !r.closed.Load() {
			cause = fmt.Errorf("%w: connection to '%s' replaced while reading offset %d", ErrConnectionFailed, r.endpoint, offset)
		}
		f.fail(cause)
	}

	return f, nil
}

// Close drops the connection and fails every pending read with ErrClosed. It is safe to call
// more than once.
func (r *Reader) Close() error {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		close(r.done)
	})

	if conn := r.slot.takeAndClear(); conn != nil {
		conn.Drop()
	}
	r.pending.drainAndFail(ErrClosed)

	return nil
}
