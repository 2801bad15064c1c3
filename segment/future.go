package segment

import (
	"context"
	"sync"

	"github.com/TheSmallBoat/seglog/wire"
)

// ReadFuture is the pending result of a Read. It is completed exactly once, with either the
// node's reply or a failure.
type ReadFuture struct {
	offset int64

	once sync.Once
	done chan struct{}
	res  wire.SegmentRead
	err  error
}

func newReadFuture(offset int64) *ReadFuture {
	return &ReadFuture{offset: offset, done: make(chan struct{})}
}

// Offset is the segment offset this read was issued for.
func (f *ReadFuture) Offset() int64 { return f.offset }

// Done is closed once the read has completed.
func (f *ReadFuture) Done() <-chan struct{} { return f.done }

// Wait blocks until the read completes or ctx is done. Giving up on ctx leaves the read pending.
func (f *ReadFuture) Wait(ctx context.Context) (wire.SegmentRead, error) {
	select {
	case <-f.done:
		return f.res, f.err
	case <-ctx.Done():
		return wire.SegmentRead{}, ctx.Err()
	}
}

// Completed reports whether the read has completed.
func (f *ReadFuture) Completed() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func (f *ReadFuture) complete(res wire.SegmentRead) bool {
	return f.resolve(res, nil)
}

func (f *ReadFuture) fail(err error) bool {
	return f.resolve(wire.SegmentRead{}, err)
}

func (f *ReadFuture) resolve(res wire.SegmentRead, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.res, f.err = res, err
		close(f.done)
		resolved = true
	})
	return resolved
}
