package wire

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/lithdew/bytesutil"
)

var (
	ErrUnknownCommand = errors.New("wire: unknown command type")
	ErrStringTooLong  = errors.New("wire: string too long")
)

// MaxStringLength is the longest name or host a command can carry.
const MaxStringLength = math.MaxUint16

// Validate reports whether cmd can be encoded. AppendTo does not check; callers sending commands
// built from user input must validate them first.
func Validate(cmd Command) error {
	var names []string
	switch c := cmd.(type) {
	case ReadSegment:
		names = []string{c.Segment}
	case SegmentRead:
		names = []string{c.Segment}
		if uint64(len(c.Data)) > math.MaxUint32 {
			return fmt.Errorf("%w: %d bytes of data", ErrStringTooLong, len(c.Data))
		}
	case WrongHost:
		names = []string{c.Segment, c.CorrectHost}
	case NoSuchStream:
		names = []string{c.Stream}
	case NoSuchSegment:
		names = []string{c.Segment}
	case SegmentIsSealed:
		names = []string{c.Segment}
	case nil:
		return fmt.Errorf("%w: nil command", ErrUnexpectedCommand)
	}
	for _, name := range names {
		if len(name) > MaxStringLength {
			return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrStringTooLong, len(name), MaxStringLength)
		}
	}
	return nil
}

// SegmentReadOverhead is the encoded size of a SegmentRead for segment, excluding its data.
func SegmentReadOverhead(segment string) int {
	// type, request id, name length, name, offset, at tail, data length
	return 1 + 8 + 2 + len(segment) + 8 + 1 + 4
}

func (c ReadSegment) AppendTo(dst []byte) []byte {
	dst = append(dst, TypeReadSegment)
	dst = appendUint64(dst, c.RequestID)
	dst = appendString(dst, c.Segment)
	dst = appendUint64(dst, uint64(c.Offset))
	return bytesutil.AppendUint32BE(dst, uint32(c.Length))
}

func (c SegmentRead) AppendTo(dst []byte) []byte {
	dst = append(dst, TypeSegmentRead)
	dst = appendUint64(dst, c.RequestID)
	dst = appendString(dst, c.Segment)
	dst = appendUint64(dst, uint64(c.Offset))
	if c.AtTail {
		dst = append(dst, 1)
	} else {
		dst = append(dst, 0)
	}
	dst = bytesutil.AppendUint32BE(dst, uint32(len(c.Data)))
	return append(dst, c.Data...)
}

func (c WrongHost) AppendTo(dst []byte) []byte {
	dst = append(dst, TypeWrongHost)
	dst = appendUint64(dst, c.RequestID)
	dst = appendString(dst, c.Segment)
	return appendString(dst, c.CorrectHost)
}

func (c NoSuchStream) AppendTo(dst []byte) []byte {
	dst = append(dst, TypeNoSuchStream)
	dst = appendUint64(dst, c.RequestID)
	return appendString(dst, c.Stream)
}

func (c NoSuchSegment) AppendTo(dst []byte) []byte {
	dst = append(dst, TypeNoSuchSegment)
	dst = appendUint64(dst, c.RequestID)
	return appendString(dst, c.Segment)
}

func (c SegmentIsSealed) AppendTo(dst []byte) []byte {
	dst = append(dst, TypeSegmentIsSealed)
	dst = appendUint64(dst, c.RequestID)
	return appendString(dst, c.Segment)
}

// Unmarshal decodes a single command from buf. Data in a decoded SegmentRead aliases buf.
func Unmarshal(buf []byte) (Command, error) {
	if len(buf) < 1 {
		return nil, io.ErrUnexpectedEOF
	}

	var t CommandType
	t, buf = buf[0], buf[1:]

	switch t {
	case TypeHello:
		return unmarshalHello(buf)
	case TypeReadSegment:
		return unmarshalReadSegment(buf)
	case TypeSegmentRead:
		return unmarshalSegmentRead(buf)
	case TypeWrongHost:
		var c WrongHost
		var err error
		if c.RequestID, buf, err = readUint64(buf); err != nil {
			return nil, err
		}
		if c.Segment, buf, err = readString(buf); err != nil {
			return nil, err
		}
		if c.CorrectHost, _, err = readString(buf); err != nil {
			return nil, err
		}
		return c, nil
	case TypeNoSuchStream:
		id, name, err := readIDAndName(buf)
		if err != nil {
			return nil, err
		}
		return NoSuchStream{RequestID: id, Stream: name}, nil
	case TypeNoSuchSegment:
		id, name, err := readIDAndName(buf)
		if err != nil {
			return nil, err
		}
		return NoSuchSegment{RequestID: id, Segment: name}, nil
	case TypeSegmentIsSealed:
		id, name, err := readIDAndName(buf)
		if err != nil {
			return nil, err
		}
		return SegmentIsSealed{RequestID: id, Segment: name}, nil
	}

	return nil, fmt.Errorf("%w: %d", ErrUnknownCommand, t)
}

func unmarshalReadSegment(buf []byte) (ReadSegment, error) {
	var c ReadSegment
	var err error

	if c.RequestID, buf, err = readUint64(buf); err != nil {
		return c, err
	}
	if c.Segment, buf, err = readString(buf); err != nil {
		return c, err
	}

	var offset uint64
	if offset, buf, err = readUint64(buf); err != nil {
		return c, err
	}
	c.Offset = int64(offset)

	if len(buf) < 4 {
		return c, io.ErrUnexpectedEOF
	}
	c.Length = int32(bytesutil.Uint32BE(buf[:4]))

	return c, nil
}

func unmarshalSegmentRead(buf []byte) (SegmentRead, error) {
	var c SegmentRead
	var err error

	if c.RequestID, buf, err = readUint64(buf); err != nil {
		return c, err
	}
	if c.Segment, buf, err = readString(buf); err != nil {
		return c, err
	}

	var offset uint64
	if offset, buf, err = readUint64(buf); err != nil {
		return c, err
	}
	c.Offset = int64(offset)

	if len(buf) < 1+4 {
		return c, io.ErrUnexpectedEOF
	}
	c.AtTail, buf = buf[0] == 1, buf[1:]

	var size uint32
	size, buf = bytesutil.Uint32BE(buf[:4]), buf[4:]
	if uint32(len(buf)) < size {
		return c, io.ErrUnexpectedEOF
	}
	c.Data = buf[:size]

	return c, nil
}

func readIDAndName(buf []byte) (uint64, string, error) {
	id, buf, err := readUint64(buf)
	if err != nil {
		return 0, "", err
	}
	name, _, err := readString(buf)
	if err != nil {
		return 0, "", err
	}
	return id, name, nil
}

func appendString(dst []byte, s string) []byte {
	dst = bytesutil.AppendUint16BE(dst, uint16(len(s)))
	return append(dst, s...)
}

func readString(buf []byte) (string, []byte, error) {
	if len(buf) < 2 {
		return "", buf, io.ErrUnexpectedEOF
	}
	var size uint16
	size, buf = bytesutil.Uint16BE(buf[:2]), buf[2:]
	if len(buf) < int(size) {
		return "", buf, io.ErrUnexpectedEOF
	}
	return string(buf[:size]), buf[size:], nil
}

// 64-bit values are written as two big-endian 32-bit halves, high half first.

func appendUint64(dst []byte, v uint64) []byte {
	dst = bytesutil.AppendUint32BE(dst, uint32(v>>32))
	return bytesutil.AppendUint32BE(dst, uint32(v))
}

func readUint64(buf []byte) (uint64, []byte, error) {
	if len(buf) < 8 {
		return 0, buf, io.ErrUnexpectedEOF
	}
	hi, lo := bytesutil.Uint32BE(buf[:4]), bytesutil.Uint32BE(buf[4:8])
	return uint64(hi)<<32 | uint64(lo), buf[8:], nil
}
