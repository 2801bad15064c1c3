package transmit

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/valyala/bytebufferpool"
)

var (
	ErrConnClosed     = errors.New("transmit: connection closed")
	ErrRequestTimeout = errors.New("transmit: request timed out")
)

// closeFlushTimeout bounds how long Close waits for queued frames to be flushed.
const closeFlushTimeout = 1 * time.Second

type Conn struct {
	Handler Handler

	MaxFrameSize int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	mu sync.Mutex

	writerQueue []*pendingWrite
	writerCond  sync.Cond
	writerDone  bool

	reqs map[uint32]*pendingRequest
	seq  uint32

	done      chan struct{}
	closeOnce sync.Once

	remote net.Addr
	err    error
}

// newConn returns a conn allocating odd request seqs when dialed and even ones when accepted.
func newConn(handler Handler, dialed bool) *Conn {
	if handler == nil {
		handler = DefaultHandler
	}
	c := &Conn{
		Handler: handler,
		reqs:    make(map[uint32]*pendingRequest),
		done:    make(chan struct{}),
	}
	if dialed {
		c.seq = ^uint32(0)
	}
	c.writerCond.L = &c.mu
	return c
}

func (c *Conn) RemoteAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

// Err returns the error that ended the session, or nil while it is running or if it ended cleanly.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed once Close has been called.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Close asks the session to end. It does not wait, so it may be called from a Handler.
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Conn) NumPendingWrites() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writerQueue)
}

func (c *Conn) NumPendingRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reqs)
}

// Send queues buf as a one-way message and waits until it has been flushed.
func (c *Conn) Send(buf []byte) error { return c.enqueue(0, buf, true) }

// SendNoWait queues buf as a one-way message.
func (c *Conn) SendNoWait(buf []byte) error { return c.enqueue(0, buf, false) }

// Request sends buf and waits for the reply, which is appended to dst[:0].
func (c *Conn) Request(dst []byte, buf []byte) ([]byte, error) {
	return c.request(dst, buf, 0)
}

func (c *Conn) RequestWithTimeout(dst []byte, buf []byte, timeout time.Duration) ([]byte, error) {
	return c.request(dst, buf, timeout)
}

func (c *Conn) request(dst []byte, buf []byte, timeout time.Duration) ([]byte, error) {
	pr := pendingRequestPool.acquire(dst)

	c.mu.Lock()
	if c.writerDone {
		c.mu.Unlock()
		pendingRequestPool.release(pr)
		return nil, ErrConnClosed
	}
	seq := c.nextSeq()
	c.reqs[seq] = pr
	c.push(seq, buf, false)
	c.mu.Unlock()

	if timeout > 0 {
		t := timerPool.acquire(timeout)
		defer timerPool.release(t)

		select {
		case <-pr.done:
		case <-t.C:
			c.mu.Lock()
			_, waiting := c.reqs[seq]
			if waiting {
				delete(c.reqs, seq)
			}
			c.mu.Unlock()

			if waiting {
				pendingRequestPool.release(pr)
				return nil, ErrRequestTimeout
			}
			<-pr.done // the reply won the race
		}
	} else {
		<-pr.done
	}

	res, err := pr.dst, pr.err
	pendingRequestPool.release(pr)
	return res, err
}

// nextSeq must be called with c.mu held. Seqs step by two so both peers keep their parity.
func (c *Conn) nextSeq() uint32 {
	for {
		c.seq += 2
		if c.seq == 0 {
			continue
		}
		if _, taken := c.reqs[c.seq]; !taken {
			return c.seq
		}
	}
}

func (c *Conn) enqueue(seq uint32, buf []byte, wait bool) error {
	c.mu.Lock()
	if c.writerDone {
		c.mu.Unlock()
		return ErrConnClosed
	}
	pw := c.push(seq, buf, wait)
	c.mu.Unlock()

	if !wait {
		return nil
	}

	pw.wg.Wait()
	err := pw.err
	pendingWritePool.release(pw)
	return err
}

// push must be called with c.mu held.
func (c *Conn) push(seq uint32, buf []byte, wait bool) *pendingWrite {
	b := bytebufferpool.Get()
	b.B = appendFrame(b.B[:0], seq, buf)

	pw := pendingWritePool.acquire(b, wait)
	c.writerQueue = append(c.writerQueue, pw)
	c.writerCond.Signal()
	return pw
}

func (c *Conn) closeWriter() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writerDone = true
	c.writerCond.Broadcast()
}

func (c *Conn) handle(conn BufferedConn) error {
	c.mu.Lock()
	c.remote = conn.RemoteAddr()
	c.mu.Unlock()

	writerDone := make(chan error, 1)
	go func() { writerDone <- c.writeLoop(conn) }()

	readerDone := make(chan error, 1)
	go func() { readerDone <- c.readLoop(conn) }()

	var err error

	select {
	case <-c.done:
		c.closeWriter()

		t := timerPool.acquire(closeFlushTimeout)
		select {
		case err = <-writerDone:
		case <-t.C:
			_ = conn.Close()
			err = <-writerDone
		}
		timerPool.release(t)

		_ = conn.Close()
		<-readerDone
	case err = <-writerDone:
		_ = conn.Close()
		<-readerDone
	case err = <-readerDone:
		c.closeWriter()
		werr := <-writerDone
		if err == nil {
			err = werr
		}
		_ = conn.Close()
	}

	c.Close()
	c.cleanup(err)

	return err
}

// cleanup fails everything still waiting on the conn once both loops have exited.
func (c *Conn) cleanup(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.writerDone = true
	c.err = err

	for _, pw := range c.writerQueue {
		c.finishWrite(pw, ErrConnClosed)
	}
	c.writerQueue = nil

	for seq, pr := range c.reqs {
		delete(c.reqs, seq)
		pr.err = ErrConnClosed
		pr.done <- struct{}{}
	}
}

func (c *Conn) finishWrite(pw *pendingWrite, err error) {
	if pw.wait {
		pw.err = err
		pw.wg.Done()
		return
	}
	pendingWritePool.release(pw)
}

func (c *Conn) writeLoop(conn BufferedConn) error {
	var queue []*pendingWrite
	var err error

	for {
		c.mu.Lock()
		for !c.writerDone && len(c.writerQueue) == 0 {
			c.writerCond.Wait()
		}
		done := c.writerDone
		queue, c.writerQueue = c.writerQueue, queue[:0]
		c.mu.Unlock()

		if done && len(queue) == 0 {
			return nil
		}

		if c.WriteTimeout > 0 {
			err = conn.SetWriteDeadline(time.Now().Add(c.WriteTimeout))
		}

		for _, pw := range queue {
			if err == nil {
				_, err = conn.Write(pw.buf.B)
			}
		}
		if err == nil {
			err = conn.Flush()
		}

		for i, pw := range queue {
			c.finishWrite(pw, err)
			queue[i] = nil
		}

		if err != nil {
			return err
		}
	}
}

func (c *Conn) readLoop(conn BufferedConn) error {
	max := c.MaxFrameSize
	if max <= 0 {
		max = DefaultMaxFrameSize
	}

	buf := make([]byte, 0, defaultReadBufferSize)

	for {
		if c.ReadTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(c.ReadTimeout)); err != nil {
				return err
			}
		}

		var (
			seq  uint32
			body []byte
			err  error
		)

		buf, seq, body, err = readFrame(buf, conn, max)
		if err != nil {
			return err
		}

		if seq != 0 && c.deliver(seq, body) {
			continue
		}

		ctx := contextPool.acquire(c, seq, body)
		err = c.Handler.HandleMessage(ctx)
		contextPool.release(ctx)

		if err != nil {
			return err
		}
	}
}

// deliver resolves our own request with the given seq, if any.
func (c *Conn) deliver(seq uint32, body []byte) bool {
	c.mu.Lock()
	pr, exists := c.reqs[seq]
	if exists {
		delete(c.reqs, seq)
	}
	c.mu.Unlock()

	if !exists {
		return false
	}

	pr.dst = append(pr.dst[:0], body...)
	pr.done <- struct{}{}
	return true
}
