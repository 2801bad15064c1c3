// Package wire holds the command vocabulary spoken between segment readers and storage nodes.
//
// Every command is a value type that appends its encoding to a byte slice. The set of commands
// is closed: only types in this package implement Command.
package wire

import "fmt"

// ProtocolVersion is exchanged in Hello during connection setup.
const ProtocolVersion uint32 = 1

type CommandType = uint8

const (
	TypeHello CommandType = iota + 1
	TypeReadSegment
	TypeSegmentRead
	TypeWrongHost
	TypeNoSuchStream
	TypeNoSuchSegment
	TypeSegmentIsSealed
)

var typeNames = map[CommandType]string{
	TypeHello:           "Hello",
	TypeReadSegment:     "ReadSegment",
	TypeSegmentRead:     "SegmentRead",
	TypeWrongHost:       "WrongHost",
	TypeNoSuchStream:    "NoSuchStream",
	TypeNoSuchSegment:   "NoSuchSegment",
	TypeSegmentIsSealed: "SegmentIsSealed",
}

// TypeName returns a printable name for t.
func TypeName(t CommandType) string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", t)
}

type Command interface {
	Type() CommandType
	AppendTo(dst []byte) []byte

	command()
}

// ReadSegment asks for up to Length bytes of Segment starting at Offset. RequestID is echoed
// back in the reply and is the only correlation key.
type ReadSegment struct {
	RequestID uint64
	Segment   string
	Offset    int64
	Length    int32
}

type SegmentRead struct {
	RequestID uint64
	Segment   string
	Offset    int64
	AtTail    bool // data ends at the current tail of the segment
	Data      []byte
}

// WrongHost means the contacted node does not own Segment. CorrectHost may be empty.
type WrongHost struct {
	RequestID   uint64
	Segment     string
	CorrectHost string
}

type NoSuchStream struct {
	RequestID uint64
	Stream    string
}

type NoSuchSegment struct {
	RequestID uint64
	Segment   string
}

type SegmentIsSealed struct {
	RequestID uint64
	Segment   string
}

func (Hello) Type() CommandType           { return TypeHello }
func (ReadSegment) Type() CommandType     { return TypeReadSegment }
func (SegmentRead) Type() CommandType     { return TypeSegmentRead }
func (WrongHost) Type() CommandType       { return TypeWrongHost }
func (NoSuchStream) Type() CommandType    { return TypeNoSuchStream }
func (NoSuchSegment) Type() CommandType   { return TypeNoSuchSegment }
func (SegmentIsSealed) Type() CommandType { return TypeSegmentIsSealed }

func (Hello) command()           {}
func (ReadSegment) command()     {}
func (SegmentRead) command()     {}
func (WrongHost) command()       {}
func (NoSuchStream) command()    {}
func (NoSuchSegment) command()   {}
func (SegmentIsSealed) command() {}

func (c Hello) String() string {
	if c.Node == nil {
		return fmt.Sprintf("Hello(version=%d)", c.Version)
	}
	return fmt.Sprintf("Hello(version=%d, node=%s:%d)", c.Version, c.Node.Host, c.Node.Port)
}

func (c ReadSegment) String() string {
	return fmt.Sprintf("ReadSegment(id=%d, segment=%s, offset=%d, length=%d)", c.RequestID, c.Segment, c.Offset, c.Length)
}

func (c SegmentRead) String() string {
	return fmt.Sprintf("SegmentRead(id=%d, segment=%s, offset=%d, atTail=%t, %d bytes)",
		c.RequestID, c.Segment, c.Offset, c.AtTail, len(c.Data))
}

func (c WrongHost) String() string {
	return fmt.Sprintf("WrongHost(id=%d, segment=%s, correctHost=%s)", c.RequestID, c.Segment, c.CorrectHost)
}

func (c NoSuchStream) String() string {
	return fmt.Sprintf("NoSuchStream(id=%d, stream=%s)", c.RequestID, c.Stream)
}

func (c NoSuchSegment) String() string {
	return fmt.Sprintf("NoSuchSegment(id=%d, segment=%s)", c.RequestID, c.Segment)
}

func (c SegmentIsSealed) String() string {
	return fmt.Sprintf("SegmentIsSealed(id=%d, segment=%s)", c.RequestID, c.Segment)
}
