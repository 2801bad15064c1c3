// Package nodeconn connects segment readers to storage nodes over transmit sessions.
package nodeconn

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/TheSmallBoat/seglog/segment"
	"github.com/TheSmallBoat/seglog/transmit"
	"github.com/TheSmallBoat/seglog/wire"
	"github.com/lithdew/bytesutil"
	"github.com/lithdew/kademlia"
)

var (
	ErrShutdown        = errors.New("nodeconn: factory shut down")
	ErrVersionMismatch = errors.New("nodeconn: protocol version mismatch")
	ErrUntrustedNode   = errors.New("nodeconn: node identity not trusted")
)

const defaultHandshakeTimeout = 3 * time.Second

var _ segment.ConnectionFactory = (*Factory)(nil)

// Factory establishes one transmit session per call to Establish. The zero value is ready to use.
type Factory struct {
	DialTimeout      time.Duration
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	MaxFrameSize     int

	// NodeKey, when set, is the only node identity accepted during the handshake.
	NodeKey kademlia.PublicKey

	mu       sync.Mutex
	clients  map[*transmit.Client]struct{}
	shutdown bool
}

// Establish dials endpoint and exchanges Hello with it. Commands arriving on the session are
// dispatched to rp, and rp.ConnectionDropped is called once the session ends.
func (f *Factory) Establish(endpoint string, rp wire.ReplyProcessor) (segment.Connection, error) {
	s := &session{endpoint: endpoint, rp: rp}

	client := &transmit.Client{
		Addr:         endpoint,
		Handler:      s,
		DialTimeout:  f.DialTimeout,
		ReadTimeout:  f.ReadTimeout,
		WriteTimeout: f.WriteTimeout,
		MaxFrameSize: f.MaxFrameSize,
	}
	client.ConnState = transmit.ConnStateHandlerFunc(func(conn *transmit.Conn, state transmit.ConnState) {
		if state != transmit.StateClosed {
			return
		}
		f.untrack(client)
		rp.ConnectionDropped()
	})

	if err := f.track(client); err != nil {
		return nil, err
	}

	conn, err := client.Dial()
	if err != nil {
		f.untrack(client)
		if errors.Is(err, transmit.ErrClientShutdown) {
			return nil, fmt.Errorf("%w: %w", ErrShutdown, segment.ErrPermanent)
		}
		return nil, err
	}

	if err := f.handshake(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake with '%s' failed: %w", endpoint, err)
	}

	return &nodeConn{conn: conn}, nil
}

func (f *Factory) handshake(conn *transmit.Conn) error {
	timeout := f.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}

	nonce, err := newNonce()
	if err != nil {
		return err
	}

	res, err := conn.RequestWithTimeout(nil, wire.Hello{Version: wire.ProtocolVersion, Nonce: nonce}.AppendTo(nil), timeout)
	if err != nil {
		return err
	}

	cmd, err := wire.Unmarshal(res)
	if err != nil {
		return err
	}

	hello, ok := cmd.(wire.Hello)
	if !ok {
		return fmt.Errorf("%w: got %s instead of Hello", wire.ErrUnexpectedCommand, wire.TypeName(cmd.Type()))
	}
	if hello.Version != wire.ProtocolVersion {
		return fmt.Errorf("%w: node speaks version %d, we speak %d", ErrVersionMismatch, hello.Version, wire.ProtocolVersion)
	}

	return f.authenticate(hello, nonce)
}

// authenticate checks the identity a node signed its hello with. Anonymous nodes are accepted
// unless a NodeKey is configured.
func (f *Factory) authenticate(hello wire.Hello, nonce uint64) error {
	if hello.Node == nil && f.NodeKey == kademlia.ZeroPublicKey {
		return nil
	}
	if err := hello.Verify(); err != nil {
		return fmt.Errorf("%w: %w", ErrUntrustedNode, err)
	}
	if hello.Nonce != nonce {
		return fmt.Errorf("%w: hello answers a different nonce", ErrUntrustedNode)
	}
	if f.NodeKey != kademlia.ZeroPublicKey && hello.Node.Pub != f.NodeKey {
		return fmt.Errorf("%w: unexpected key %x", ErrUntrustedNode, hello.Node.Pub[:])
	}
	return nil
}

func newNonce() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("failed to generate hello nonce: %w", err)
	}
	return uint64(bytesutil.Uint32BE(buf[:4]))<<32 | uint64(bytesutil.Uint32BE(buf[4:])), nil
}

func (f *Factory) track(client *transmit.Client) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.shutdown {
		return fmt.Errorf("%w: %w", ErrShutdown, segment.ErrPermanent)
	}
	if f.clients == nil {
		f.clients = make(map[*transmit.Client]struct{})
	}
	f.clients[client] = struct{}{}
	return nil
}

func (f *Factory) untrack(client *transmit.Client) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.clients, client)
}

// NumSessions returns the number of sessions that have not ended yet.
func (f *Factory) NumSessions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// Shutdown ends every session and waits for their goroutines to exit. Readers still using the
// factory see their connection dropped and stop reconnecting, since Establish then fails with an
// error wrapping segment.ErrPermanent.
func (f *Factory) Shutdown() {
	f.mu.Lock()
	f.shutdown = true
	clients := make([]*transmit.Client, 0, len(f.clients))
	for client := range f.clients {
		clients = append(clients, client)
	}
	f.mu.Unlock()

	for _, client := range clients {
		client.Shutdown()
	}
}
