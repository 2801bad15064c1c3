package transmit

import "errors"

var ErrNoReplyExpected = errors.New("transmit: message does not expect a reply")

// Context is valid only for the duration of Handler.HandleMessage; Body is reused afterwards.
type Context struct {
	conn *Conn
	seq  uint32
	buf  []byte
}

func (c *Context) Conn() *Conn  { return c.conn }
func (c *Context) Body() []byte { return c.buf }
func (c *Context) Seq() uint32  { return c.seq }

// Reply answers the request carried by this context without waiting for the flush.
func (c *Context) Reply(buf []byte) error {
	if c.seq == 0 {
		return ErrNoReplyExpected
	}
	return c.conn.enqueue(c.seq, buf, false)
}
