package transmit

import (
	"sync"
	"time"

	"github.com/valyala/bytebufferpool"
)

var (
	timerPool          = &TimerPool{m: &PoolMetrics{}}
	contextPool        = &ContextPool{m: &PoolMetrics{}}
	pendingRequestPool = &PendingRequestPool{m: &PoolMetrics{}}
	pendingWritePool   = &PendingWritePool{m: &PoolMetrics{}}
)

type TimerPool struct {
	sp sync.Pool
	m  *PoolMetrics
}

func (p *TimerPool) acquire(timeout time.Duration) *time.Timer {
	v := p.sp.Get()
	if v == nil {
		p.m.acquired(false)
		return time.NewTimer(timeout)
	}
	p.m.acquired(true)
	t := v.(*time.Timer)
	t.Reset(timeout)
	return t
}

func (p *TimerPool) release(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	p.sp.Put(t)
	p.m.released()
}

type ContextPool struct {
	sp sync.Pool
	m  *PoolMetrics
}

func (p *ContextPool) acquire(conn *Conn, seq uint32, buf []byte) *Context {
	v := p.sp.Get()
	if v == nil {
		v = &Context{}
		p.m.acquired(false)
	} else {
		p.m.acquired(true)
	}
	ctx := v.(*Context)
	ctx.conn = conn
	ctx.seq = seq
	ctx.buf = buf
	return ctx
}

func (p *ContextPool) release(ctx *Context) {
	ctx.conn = nil
	ctx.buf = nil
	p.sp.Put(ctx)
	p.m.released()
}

type pendingRequest struct {
	dst  []byte        // reply is copied here
	err  error         // set instead of dst when the conn closes first
	done chan struct{} // receives once the request is resolved
}

type PendingRequestPool struct {
	sp sync.Pool
	m  *PoolMetrics
}

func (p *PendingRequestPool) acquire(dst []byte) *pendingRequest {
	v := p.sp.Get()
	if v == nil {
		v = &pendingRequest{done: make(chan struct{}, 1)}
		p.m.acquired(false)
	} else {
		p.m.acquired(true)
	}
	pr := v.(*pendingRequest)
	pr.dst = dst
	return pr
}

func (p *PendingRequestPool) release(pr *pendingRequest) {
	pr.dst = nil
	pr.err = nil
	p.sp.Put(pr)
	p.m.released()
}

type pendingWrite struct {
	buf  *bytebufferpool.ByteBuffer // encoded frame
	wait bool                       // caller blocks on wg
	err  error                      // socket error observed while writing
	wg   sync.WaitGroup             // done once the frame is flushed
}

type PendingWritePool struct {
	sp sync.Pool
	m  *PoolMetrics
}

func (p *PendingWritePool) acquire(buf *bytebufferpool.ByteBuffer, wait bool) *pendingWrite {
	v := p.sp.Get()
	if v == nil {
		v = &pendingWrite{}
		p.m.acquired(false)
	} else {
		p.m.acquired(true)
	}
	pw := v.(*pendingWrite)
	pw.buf = buf
	pw.wait = wait
	if wait {
		pw.wg.Add(1)
	}
	return pw
}

func (p *PendingWritePool) release(pw *pendingWrite) {
	bytebufferpool.Put(pw.buf)
	pw.buf = nil
	pw.err = nil
	p.sp.Put(pw)
	p.m.released()
}
