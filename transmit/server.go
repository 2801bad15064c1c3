package transmit

import (
	"errors"
	"net"
	"sync"
	"time"
)

type Server struct {
	Handler    Handler
	ConnState  ConnStateHandler
	Handshaker Handshaker

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxFrameSize int

	mu       sync.Mutex
	conns    map[*Conn]struct{}
	shutdown bool
	wg       sync.WaitGroup
}

// Serve accepts sessions on ln until ln is closed. It returns nil if the server was shut down.
func (s *Server) Serve(ln net.Listener) error {
	handshaker := s.Handshaker
	if handshaker == nil {
		handshaker = DefaultHandshaker
	}

	state := s.ConnState
	if state == nil {
		state = DefaultConnStateHandler
	}

	for {
		nc, err := ln.Accept()
		if err != nil {
			if s.isShutdown() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			return err
		}

		bc, err := handshaker.Handshake(nc)
		if err != nil {
			_ = nc.Close()
			continue
		}

		conn := newConn(s.Handler, false)
		conn.MaxFrameSize = s.MaxFrameSize
		conn.ReadTimeout = s.ReadTimeout
		conn.WriteTimeout = s.WriteTimeout

		s.mu.Lock()
		if s.shutdown {
			s.mu.Unlock()
			_ = bc.Close()
			return nil
		}
		if s.conns == nil {
			s.conns = make(map[*Conn]struct{})
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		state.HandleConnState(conn, StateNew)

		go func() {
			defer s.wg.Done()

			_ = conn.handle(bc)

			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()

			state.HandleConnState(conn, StateClosed)
		}()
	}
}

func (s *Server) NumConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) isShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

// Shutdown closes every accepted conn and waits for their sessions to end. The caller still
// owns the listener passed to Serve and must close it.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.shutdown = true
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}
