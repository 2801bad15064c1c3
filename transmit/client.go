package transmit

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

var ErrClientShutdown = errors.New("transmit: client shut down")

const defaultDialTimeout = 3 * time.Second

// Client dials sessions to a single address. Every dialed Conn runs until it is closed, its peer
// goes away, or the client is shut down.
type Client struct {
	Addr string

	Handler    Handler
	ConnState  ConnStateHandler
	Handshaker Handshaker

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxFrameSize int

	mu       sync.Mutex
	conns    map[*Conn]struct{}
	shutdown bool
	wg       sync.WaitGroup
}

func (c *Client) Dial() (*Conn, error) {
	if c.isShutdown() {
		return nil, ErrClientShutdown
	}

	timeout := c.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}

	nc, err := net.DialTimeout("tcp", c.Addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to dial '%s': %w", c.Addr, err)
	}

	handshaker := c.Handshaker
	if handshaker == nil {
		handshaker = DefaultHandshaker
	}

	bc, err := handshaker.Handshake(nc)
	if err != nil {
		_ = nc.Close()
		return nil, fmt.Errorf("handshake with '%s' failed: %w", c.Addr, err)
	}

	conn := newConn(c.Handler, true)
	conn.MaxFrameSize = c.MaxFrameSize
	conn.ReadTimeout = c.ReadTimeout
	conn.WriteTimeout = c.WriteTimeout

	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		_ = bc.Close()
		return nil, ErrClientShutdown
	}
	if c.conns == nil {
		c.conns = make(map[*Conn]struct{})
	}
	c.conns[conn] = struct{}{}
	c.wg.Add(1)
	c.mu.Unlock()

	state := c.ConnState
	if state == nil {
		state = DefaultConnStateHandler
	}

	state.HandleConnState(conn, StateNew)

	go func() {
		defer c.wg.Done()

		_ = conn.handle(bc)

		c.mu.Lock()
		delete(c.conns, conn)
		c.mu.Unlock()

		state.HandleConnState(conn, StateClosed)
	}()

	return conn, nil
}

func (c *Client) NumConns() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns)
}

func (c *Client) isShutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdown
}

// Shutdown closes every dialed conn and waits for their sessions to end.
func (c *Client) Shutdown() {
	c.mu.Lock()
	c.shutdown = true
	for conn := range c.conns {
		conn.Close()
	}
	c.mu.Unlock()

	c.wg.Wait()
}
