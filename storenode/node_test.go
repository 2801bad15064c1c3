package storenode

import (
	"bytes"
	"errors"
	"testing"

	"github.com/TheSmallBoat/seglog/transmit"
	"github.com/TheSmallBoat/seglog/wire"
	"github.com/stretchr/testify/require"
)

func TestStreamOf(t *testing.T) {
	for segment, stream := range map[string]string{
		"s/0":          "s",
		"scope/s/12":   "scope/s",
		"a/b/c/999999": "a/b/c",
	} {
		got, err := StreamOf(segment)
		require.NoError(t, err)
		require.Equal(t, stream, got)
	}

	for _, segment := range []string{"", "s", "/0", "s/", "s/x", "s/1a"} {
		_, err := StreamOf(segment)
		require.True(t, errors.Is(err, ErrInvalidSegmentName), segment)
	}
}

func TestNodeSegmentLifecycle(t *testing.T) {
	var n Node

	require.NoError(t, n.CreateSegment("s/0"))
	require.True(t, errors.Is(n.CreateSegment("s/0"), ErrSegmentExists))

	offset, err := n.Append("s/0", []byte("hello "))
	require.NoError(t, err)
	require.EqualValues(t, 0, offset)

	offset, err = n.Append("s/0", []byte("world"))
	require.NoError(t, err)
	require.EqualValues(t, 6, offset)

	length, err := n.Length("s/0")
	require.NoError(t, err)
	require.EqualValues(t, 11, length)

	_, err = n.Append("s/1", []byte("x"))
	require.True(t, errors.Is(err, ErrNoSuchSegment))
	_, err = n.Append("t/0", []byte("x"))
	require.True(t, errors.Is(err, ErrNoSuchStream))

	require.NoError(t, n.DeleteSegment("s/0"))
	require.True(t, errors.Is(n.DeleteSegment("s/0"), ErrNoSuchSegment))

	require.NoError(t, n.DeleteStream("s"))
	require.True(t, errors.Is(n.DeleteStream("s"), ErrNoSuchStream))
}

func TestNodeRead(t *testing.T) {
	var n Node
	require.NoError(t, n.CreateSegment("s/0"))
	_, err := n.Append("s/0", []byte("hello world"))
	require.NoError(t, err)

	cases := []struct {
		offset int64
		length int32
		data   string
		atTail bool
	}{
		{offset: 0, length: 5, data: "hello"},
		{offset: 6, length: 5, data: "world", atTail: true},
		{offset: 6, length: 100, data: "world", atTail: true},
		{offset: 11, length: 10, data: "", atTail: true},
		{offset: 50, length: 10, data: "", atTail: true},
		{offset: 3, length: 0, data: ""},
	}

	for i, tc := range cases {
		res, err := n.Read(wire.ReadSegment{RequestID: uint64(i), Segment: "s/0", Offset: tc.offset, Length: tc.length})
		require.NoError(t, err)

		read, ok := res.(wire.SegmentRead)
		require.True(t, ok, "case %d: got %s", i, res)
		require.EqualValues(t, i, read.RequestID)
		require.Equal(t, tc.offset, read.Offset)
		require.Equal(t, tc.data, string(read.Data), "case %d", i)
		require.Equal(t, tc.atTail, read.AtTail, "case %d", i)
	}

	_, err = n.Read(wire.ReadSegment{Segment: "s/0", Offset: -1, Length: 1})
	require.True(t, errors.Is(err, ErrNegativeOffset))
}

func TestNodeReadErrors(t *testing.T) {
	var n Node
	require.NoError(t, n.CreateSegment("s/0"))

	res, err := n.Read(wire.ReadSegment{RequestID: 1, Segment: "s/1"})
	require.NoError(t, err)
	require.Equal(t, wire.NoSuchSegment{RequestID: 1, Segment: "s/1"}, res)

	res, err = n.Read(wire.ReadSegment{RequestID: 2, Segment: "t/0"})
	require.NoError(t, err)
	require.Equal(t, wire.NoSuchStream{RequestID: 2, Stream: "t"}, res)

	res, err = n.Read(wire.ReadSegment{RequestID: 3, Segment: "bogus"})
	require.NoError(t, err)
	require.Equal(t, wire.NoSuchSegment{RequestID: 3, Segment: "bogus"}, res)

	n.Redirect("s/0", "10.0.0.2:9090")
	res, err = n.Read(wire.ReadSegment{RequestID: 4, Segment: "s/0"})
	require.NoError(t, err)
	require.Equal(t, wire.WrongHost{RequestID: 4, Segment: "s/0", CorrectHost: "10.0.0.2:9090"}, res)

	n.Redirect("s/0", "")
	res, err = n.Read(wire.ReadSegment{RequestID: 5, Segment: "s/0"})
	require.NoError(t, err)
	require.IsType(t, wire.SegmentRead{}, res)
}

func TestNodeReadFitsInOneFrame(t *testing.T) {
	var n Node
	require.NoError(t, n.CreateSegment("s/0"))

	contents := bytes.Repeat([]byte("0123456789abcdef"), (17<<20)/16)
	_, err := n.Append("s/0", contents)
	require.NoError(t, err)

	var offset int64
	for {
		res, err := n.Read(wire.ReadSegment{Segment: "s/0", Offset: offset, Length: 20 << 20})
		require.NoError(t, err)

		read := res.(wire.SegmentRead)
		require.LessOrEqual(t, len(read.AppendTo(nil)), transmit.MaxBodySize(0))
		require.NotEmpty(t, read.Data)
		require.Equal(t, contents[offset:offset+int64(len(read.Data))], read.Data)

		offset += int64(len(read.Data))
		if read.AtTail {
			break
		}
	}
	require.EqualValues(t, len(contents), offset)
}

func TestNodeReadHonoursMaxFrameSize(t *testing.T) {
	n := Node{MaxFrameSize: 128}
	require.NoError(t, n.CreateSegment("s/0"))
	_, err := n.Append("s/0", bytes.Repeat([]byte("x"), 1000))
	require.NoError(t, err)

	res, err := n.Read(wire.ReadSegment{Segment: "s/0", Length: 1000})
	require.NoError(t, err)

	read := res.(wire.SegmentRead)
	require.False(t, read.AtTail)
	require.Len(t, read.Data, 128-4-wire.SegmentReadOverhead("s/0"))
	require.Equal(t, transmit.MaxBodySize(128), len(read.AppendTo(nil)))
}
