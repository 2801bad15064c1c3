package nodeconn

import (
	"bytes"
	"fmt"

	"github.com/TheSmallBoat/seglog/segment"
	"github.com/TheSmallBoat/seglog/transmit"
	"github.com/TheSmallBoat/seglog/wire"
	"github.com/valyala/bytebufferpool"
)

var (
	_ transmit.Handler   = (*session)(nil)
	_ segment.Connection = (*nodeConn)(nil)
)

// session decodes commands sent by the node and hands them to the reply processor.
type session struct {
	endpoint string
	rp       wire.ReplyProcessor
}

func (s *session) HandleMessage(ctx *transmit.Context) error {
	cmd, err := wire.Unmarshal(ctx.Body())
	if err != nil {
		return fmt.Errorf("bad message from '%s': %w", s.endpoint, err)
	}

	// The frame buffer is reused once we return.
	if read, ok := cmd.(wire.SegmentRead); ok {
		read.Data = bytes.Clone(read.Data)
		cmd = read
	}

	if err := wire.Dispatch(s.rp, cmd); err != nil {
		return fmt.Errorf("cannot handle %s from '%s': %w", wire.TypeName(cmd.Type()), s.endpoint, err)
	}

	return nil
}

type nodeConn struct {
	conn *transmit.Conn
}

func (c *nodeConn) SendAsync(cmd wire.Command) error {
	if err := wire.Validate(cmd); err != nil {
		return err
	}

	b := bytebufferpool.Get()
	defer bytebufferpool.Put(b)

	b.B = cmd.AppendTo(b.B[:0])
	return c.conn.SendNoWait(b.B)
}

func (c *nodeConn) Drop() { c.conn.Close() }
