package wire

import (
	"errors"
	"io"

	"github.com/lithdew/bytesutil"
	"github.com/lithdew/kademlia"
)

var (
	ErrAnonymousNode = errors.New("wire: hello carries no node identity")
	ErrBadSignature  = errors.New("wire: hello signature is malformed")
)

// Hello opens a session. The client picks Nonce; a node with an identity echoes it and signs the
// reply so the client can tell which node it reached.
type Hello struct {
	Version   uint32
	Nonce     uint64
	Node      *kademlia.ID
	Signature kademlia.Signature
}

// AppendPayloadTo appends the bytes covered by the signature.
func (c Hello) AppendPayloadTo(dst []byte) []byte {
	dst = bytesutil.AppendUint32BE(dst, c.Version)
	dst = appendUint64(dst, c.Nonce)
	if c.Node != nil {
		dst = c.Node.AppendTo(dst)
	}
	return dst
}

func (c Hello) AppendTo(dst []byte) []byte {
	dst = append(dst, TypeHello)
	dst = bytesutil.AppendUint32BE(dst, c.Version)
	dst = appendUint64(dst, c.Nonce)
	if c.Node == nil {
		return append(dst, 0)
	}
	dst = append(dst, 1)
	dst = c.Node.AppendTo(dst)
	return append(dst, c.Signature[:]...)
}

func unmarshalHello(buf []byte) (Hello, error) {
	var c Hello

	if len(buf) < 4 {
		return c, io.ErrUnexpectedEOF
	}
	c.Version, buf = bytesutil.Uint32BE(buf[:4]), buf[4:]

	var err error
	if c.Nonce, buf, err = readUint64(buf); err != nil {
		return c, err
	}

	if len(buf) < 1 {
		return c, io.ErrUnexpectedEOF
	}
	hasID := buf[0] == 1
	buf = buf[1:]

	if !hasID {
		return c, nil
	}

	id, leftover, err := kademlia.UnmarshalID(buf)
	if err != nil {
		return c, err
	}
	c.Node = &id
	buf = leftover

	if len(buf) < kademlia.SizeSignature {
		return c, io.ErrUnexpectedEOF
	}
	copy(c.Signature[:], buf[:kademlia.SizeSignature])

	return c, nil
}

// Sign stamps the reply with the node identity derived from key.
func (c Hello) Sign(key kademlia.PrivateKey, id *kademlia.ID) Hello {
	c.Node = id
	c.Signature = key.Sign(c.AppendPayloadTo(nil))
	return c
}

// Verify checks that the hello was signed by the node it names.
func (c Hello) Verify() error {
	if c.Node == nil {
		return ErrAnonymousNode
	}
	if !c.Signature.Verify(c.Node.Pub, c.AppendPayloadTo(nil)) {
		return ErrBadSignature
	}
	return nil
}
