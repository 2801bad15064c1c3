// Package storenode is an in-memory storage node answering segment reads over transmit.
//
// Segments are named "<stream>/<number>". A node can be told that another host owns a segment,
// in which case reads of it are answered with WrongHost.
package storenode

import (
	"errors"
	"fmt"
	"log"
	"math"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/TheSmallBoat/seglog/transmit"
	"github.com/TheSmallBoat/seglog/wire"
	"github.com/lithdew/kademlia"
)

var (
	ErrInvalidSegmentName = errors.New("storenode: segment names must look like <stream>/<number>")
	ErrSegmentExists      = errors.New("storenode: segment already exists")
	ErrNoSuchSegment      = errors.New("storenode: no such segment")
	ErrNoSuchStream       = errors.New("storenode: no such stream")
	ErrNegativeOffset     = errors.New("storenode: negative read offset")
)

var _ transmit.Handler = (*Node)(nil)

type Node struct {
	// SecretKey, when set, gives the node an identity that it signs its Hello replies with.
	SecretKey kademlia.PrivateKey

	// PublicAddr is the address advertised in the node identity. It defaults to the address
	// of the listener passed to Serve.
	PublicAddr string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// MaxFrameSize bounds inbound frames and the replies the node sends. Reads asking for more
	// than fits in one reply get a short read. Clients must accept frames at least this large.
	MaxFrameSize int

	mu        sync.RWMutex
	streams   map[string]map[string][]byte // stream -> segment name -> contents
	redirects map[string]string            // segment name -> owning host

	id *kademlia.ID

	srvOnce sync.Once
	srv     *transmit.Server
}

func GenerateSecretKey() kademlia.PrivateKey {
	_, secret, err := kademlia.GenerateKeys(nil)
	if err != nil {
		panic(err)
	}
	return secret
}

// ID returns the identity the node signs with, or nil if it is anonymous or not serving yet.
func (n *Node) ID() *kademlia.ID {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.id
}

func (n *Node) identify(ln net.Listener) error {
	if n.SecretKey == kademlia.ZeroPrivateKey {
		return nil
	}

	addr := n.PublicAddr
	if addr == "" {
		addr = ln.Addr().String()
	}

	resolved, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to resolve public address '%s': %w", addr, err)
	}
	if resolved.Port <= 0 || resolved.Port > math.MaxUint16 {
		return fmt.Errorf("'%d' is an invalid port", resolved.Port)
	}

	host := resolved.IP
	if host == nil {
		host = net.IPv4zero
	}
	if v4 := host.To4(); v4 != nil {
		host = v4
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.id = &kademlia.ID{Pub: n.SecretKey.Public(), Host: host, Port: uint16(resolved.Port)}
	return nil
}

// StreamOf returns the stream a segment name belongs to.
func StreamOf(segment string) (string, error) {
	i := strings.LastIndexByte(segment, '/')
	if i <= 0 || i == len(segment)-1 {
		return "", fmt.Errorf("%w: '%s'", ErrInvalidSegmentName, segment)
	}
	for _, r := range segment[i+1:] {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: '%s'", ErrInvalidSegmentName, segment)
		}
	}
	return segment[:i], nil
}

func (n *Node) CreateSegment(segment string) error {
	stream, err := StreamOf(segment)
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.streams == nil {
		n.streams = make(map[string]map[string][]byte)
	}
	segments, exists := n.streams[stream]
	if !exists {
		segments = make(map[string][]byte)
		n.streams[stream] = segments
	}
	if _, exists := segments[segment]; exists {
		return fmt.Errorf("%w: '%s'", ErrSegmentExists, segment)
	}
	segments[segment] = nil
	return nil
}

// Append adds data to the tail of segment and returns the offset it was written at.
func (n *Node) Append(segment string, data []byte) (int64, error) {
	stream, err := StreamOf(segment)
	if err != nil {
		return 0, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	segments, exists := n.streams[stream]
	if !exists {
		return 0, fmt.Errorf("%w: '%s'", ErrNoSuchStream, stream)
	}
	contents, exists := segments[segment]
	if !exists {
		return 0, fmt.Errorf("%w: '%s'", ErrNoSuchSegment, segment)
	}

	offset := int64(len(contents))
	segments[segment] = append(contents, data...)
	return offset, nil
}

// Length returns the number of bytes appended to segment so far.
func (n *Node) Length(segment string) (int64, error) {
	stream, err := StreamOf(segment)
	if err != nil {
		return 0, err
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	contents, exists := n.streams[stream][segment]
	if !exists {
		return 0, fmt.Errorf("%w: '%s'", ErrNoSuchSegment, segment)
	}
	return int64(len(contents)), nil
}

func (n *Node) DeleteSegment(segment string) error {
	stream, err := StreamOf(segment)
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	segments := n.streams[stream]
	if _, exists := segments[segment]; !exists {
		return fmt.Errorf("%w: '%s'", ErrNoSuchSegment, segment)
	}
	delete(segments, segment)
	return nil
}

// DeleteStream removes stream and every segment in it.
func (n *Node) DeleteStream(stream string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.streams[stream]; !exists {
		return fmt.Errorf("%w: '%s'", ErrNoSuchStream, stream)
	}
	delete(n.streams, stream)
	return nil
}

// Redirect makes reads of segment answer WrongHost naming host. An empty host serves the
// segment locally again.
func (n *Node) Redirect(segment, host string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if host == "" {
		delete(n.redirects, segment)
		return
	}
	if n.redirects == nil {
		n.redirects = make(map[string]string)
	}
	n.redirects[segment] = host
}

// Read answers a single ReadSegment the way the node would over the wire.
func (n *Node) Read(req wire.ReadSegment) (wire.Command, error) {
	if req.Offset < 0 {
		return nil, fmt.Errorf("%w: %d", ErrNegativeOffset, req.Offset)
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	if host, redirected := n.redirects[req.Segment]; redirected {
		return wire.WrongHost{RequestID: req.RequestID, Segment: req.Segment, CorrectHost: host}, nil
	}

	stream, err := StreamOf(req.Segment)
	if err != nil {
		return wire.NoSuchSegment{RequestID: req.RequestID, Segment: req.Segment}, nil
	}

	segments, exists := n.streams[stream]
	if !exists {
		return wire.NoSuchStream{RequestID: req.RequestID, Stream: stream}, nil
	}

	contents, exists := segments[req.Segment]
	if !exists {
		return wire.NoSuchSegment{RequestID: req.RequestID, Segment: req.Segment}, nil
	}

	start := req.Offset
	if start > int64(len(contents)) {
		start = int64(len(contents))
	}
	end := start
	if req.Length > 0 {
		end = start + int64(req.Length)
	}
	if end > int64(len(contents)) {
		end = int64(len(contents))
	}
	if limit := n.maxReadSize(req.Segment); end-start > limit {
		end = start + limit
	}

	// Appends never rewrite bytes below the tail, so the slice stays valid after unlocking.
	return wire.SegmentRead{
		RequestID: req.RequestID,
		Segment:   req.Segment,
		Offset:    req.Offset,
		AtTail:    end == int64(len(contents)),
		Data:      contents[start:end:end],
	}, nil
}

// maxReadSize is the most data a SegmentRead for segment can carry within one frame.
func (n *Node) maxReadSize(segment string) int64 {
	limit := int64(transmit.MaxBodySize(n.MaxFrameSize) - wire.SegmentReadOverhead(segment))
	if limit < 0 {
		return 0
	}
	return limit
}

func (n *Node) HandleMessage(ctx *transmit.Context) error {
	cmd, err := wire.Unmarshal(ctx.Body())
	if err != nil {
		return err
	}

	switch cmd := cmd.(type) {
	case wire.Hello:
		if cmd.Version != wire.ProtocolVersion {
			log.Printf("Client %s speaks protocol version %d, we speak %d.", ctx.Conn().RemoteAddr(), cmd.Version, wire.ProtocolVersion)
		}
		reply := wire.Hello{Version: wire.ProtocolVersion, Nonce: cmd.Nonce}
		if id := n.ID(); id != nil {
			reply = reply.Sign(n.SecretKey, id)
		}
		return ctx.Reply(reply.AppendTo(nil))
	case wire.ReadSegment:
		res, err := n.Read(cmd)
		if err != nil {
			return err
		}
		if err := wire.Validate(res); err != nil {
			return err
		}
		return ctx.Conn().SendNoWait(res.AppendTo(nil))
	}

	return fmt.Errorf("%w: %s", wire.ErrUnexpectedCommand, wire.TypeName(cmd.Type()))
}

func (n *Node) server() *transmit.Server {
	n.srvOnce.Do(func() {
		n.srv = &transmit.Server{
			Handler:      n,
			ReadTimeout:  n.ReadTimeout,
			WriteTimeout: n.WriteTimeout,
			MaxFrameSize: n.MaxFrameSize,
		}
	})
	return n.srv
}

// Serve answers sessions accepted on ln until ln is closed or the node is shut down.
func (n *Node) Serve(ln net.Listener) error {
	if err := n.identify(ln); err != nil {
		return err
	}
	return n.server().Serve(ln)
}

// NumConns returns the number of open client sessions.
func (n *Node) NumConns() int { return n.server().NumConns() }

// Shutdown ends every client session and waits for them to exit. The listener must be closed by
// the caller.
func (n *Node) Shutdown() { n.server().Shutdown() }
