package transmit

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadFrame(t *testing.T) {
	var stream []byte
	stream = appendFrame(stream, 0, []byte("first"))
	stream = appendFrame(stream, 7, nil)

	r := bytes.NewReader(stream)

	buf, seq, body, err := readFrame(nil, r, DefaultMaxFrameSize)
	require.NoError(t, err)
	require.Zero(t, seq)
	require.EqualValues(t, "first", body)

	_, seq, body, err = readFrame(buf, r, DefaultMaxFrameSize)
	require.NoError(t, err)
	require.EqualValues(t, 7, seq)
	require.Empty(t, body)

	_, _, _, err = readFrame(buf, r, DefaultMaxFrameSize)
	require.True(t, errors.Is(err, io.EOF))
}

func TestReadFrameLimits(t *testing.T) {
	frame := appendFrame(nil, 1, make([]byte, 64))

	_, _, _, err := readFrame(nil, bytes.NewReader(frame), 32)
	require.True(t, errors.Is(err, ErrFrameTooLarge))

	_, _, _, err = readFrame(nil, bytes.NewReader(frame[:len(frame)-1]), DefaultMaxFrameSize)
	require.True(t, errors.Is(err, io.ErrUnexpectedEOF))

	_, _, _, err = readFrame(nil, bytes.NewReader([]byte{0, 0, 0, 2, 0, 0}), DefaultMaxFrameSize)
	require.Error(t, err)
}

func TestMaxBodySizeFitsFrame(t *testing.T) {
	require.Equal(t, DefaultMaxFrameSize-4, MaxBodySize(0))

	body := make([]byte, MaxBodySize(64))
	frame := appendFrame(nil, 3, body)

	_, seq, got, err := readFrame(nil, bytes.NewReader(frame), 64)
	require.NoError(t, err)
	require.EqualValues(t, 3, seq)
	require.Len(t, got, len(body))

	_, _, _, err = readFrame(nil, bytes.NewReader(appendFrame(nil, 3, append(body, 0))), 64)
	require.True(t, errors.Is(err, ErrFrameTooLarge))
}
