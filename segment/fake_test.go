package segment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/TheSmallBoat/seglog/wire"
	"github.com/stretchr/testify/require"
)

var errDial = errors.New("dial refused")

type fakeConn struct {
	rp wire.ReplyProcessor

	mu      sync.Mutex
	sent    []wire.ReadSegment
	drops   int
	sendErr error
}

func (c *fakeConn) SendAsync(cmd wire.Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, cmd.(wire.ReadSegment))
	return nil
}

func (c *fakeConn) Drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drops++
}

func (c *fakeConn) numDrops() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drops
}

func (c *fakeConn) reads() []wire.ReadSegment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]wire.ReadSegment(nil), c.sent...)
}

func (c *fakeConn) lastRead(t testing.TB) wire.ReadSegment {
	reads := c.reads()
	require.NotEmpty(t, reads)
	return reads[len(reads)-1]
}

// reply answers req on this connection with data.
func (c *fakeConn) reply(req wire.ReadSegment, data string) {
	c.rp.SegmentRead(wire.SegmentRead{
		RequestID: req.RequestID,
		Segment:   req.Segment,
		Offset:    req.Offset,
		Data:      []byte(data),
	})
}

type fakeFactory struct {
	mu               sync.Mutex
	conns            []*fakeConn
	endpoints        []string
	attempts         int
	failures         int // upcoming Establish calls that fail
	permanent        bool
	dropOnEstablish  int // upcoming connections reported dropped before they are returned
	dropConcurrently int // upcoming connections reported dropped from another goroutine

	drops sync.WaitGroup
}

func (f *fakeFactory) Establish(endpoint string, rp wire.ReplyProcessor) (Connection, error) {
	f.mu.Lock()
	f.attempts++
	f.endpoints = append(f.endpoints, endpoint)
	if f.permanent {
		f.mu.Unlock()
		return nil, fmt.Errorf("%w: factory gone", ErrPermanent)
	}
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return nil, errDial
	}
	c := &fakeConn{rp: rp}
	f.conns = append(f.conns, c)
	drop := f.dropOnEstablish > 0
	if drop {
		f.dropOnEstablish--
	}
	if f.dropConcurrently > 0 {
		f.dropConcurrently--
		f.drops.Add(1)
		go func() {
			defer f.drops.Done()
			rp.ConnectionDropped()
		}()
	}
	f.mu.Unlock()

	if drop {
		rp.ConnectionDropped()
	}
	return c, nil
}

func (f *fakeFactory) setFailures(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = n
}

func (f *fakeFactory) setPermanent() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.permanent = true
}

func (f *fakeFactory) numConns() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func (f *fakeFactory) numAttempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func (f *fakeFactory) conn(i int) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[i]
}

func (f *fakeFactory) latest() *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[len(f.conns)-1]
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func fastOptions(extra ...Option) []Option {
	opts := []Option{
		WithLogger(quietLogger()),
		WithBackoff(time.Millisecond, 2*time.Millisecond, 2, false),
	}
	return append(opts, extra...)
}

func newTestReader(t testing.TB, factory *fakeFactory, opts ...Option) *Reader {
	r, err := NewReader(factory, "E1", "seg-1", fastOptions(opts...)...)
	require.NoError(t, err)
	return r
}

func wait(t testing.TB, f *ReadFuture) (wire.SegmentRead, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := f.Wait(ctx)
	require.False(t, errors.Is(err, context.DeadlineExceeded), "read at offset %d never completed", f.Offset())
	return res, err
}
