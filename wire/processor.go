package wire

import (
	"errors"
	"fmt"
)

var ErrUnexpectedCommand = errors.New("wire: unexpected command")

// ReplyProcessor receives the replies a segment reader understands. ConnectionDropped is called
// once, after the session that delivered the replies has ended.
type ReplyProcessor interface {
	WrongHost(WrongHost)
	NoSuchStream(NoSuchStream)
	NoSuchSegment(NoSuchSegment)
	SegmentRead(SegmentRead)
	ConnectionDropped()
}

// Dispatch routes cmd to rp. Any command the processor has no method for is a protocol error; the
// returned error is meant to end the session that delivered cmd.
func Dispatch(rp ReplyProcessor, cmd Command) error {
	switch c := cmd.(type) {
	case WrongHost:
		rp.WrongHost(c)
	case NoSuchStream:
		rp.NoSuchStream(c)
	case NoSuchSegment:
		rp.NoSuchSegment(c)
	case SegmentRead:
		rp.SegmentRead(c)
	case nil:
		return fmt.Errorf("%w: nil command", ErrUnexpectedCommand)
	default:
		return fmt.Errorf("%w: %s", ErrUnexpectedCommand, TypeName(cmd.Type()))
	}
	return nil
}
