package transmit

import (
	"errors"
	"fmt"
	"io"

	"github.com/lithdew/bytesutil"
)

var ErrFrameTooLarge = errors.New("transmit: frame too large")

// appendFrame appends [length u32][seq u32][body] where length covers seq and body.
func appendFrame(dst []byte, seq uint32, body []byte) []byte {
	dst = bytesutil.AppendUint32BE(dst, uint32(4+len(body)))
	dst = bytesutil.AppendUint32BE(dst, seq)
	return append(dst, body...)
}

// readFrame reads one frame into dst, reusing its capacity, and returns its seq and body.
func readFrame(dst []byte, r io.Reader, max int) ([]byte, uint32, []byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return dst, 0, nil, err
	}

	size := int(bytesutil.Uint32BE(header[:]))
	if size < 4 {
		return dst, 0, nil, fmt.Errorf("transmit: frame of %d bytes has no sequence number", size)
	}
	if size > max {
		return dst, 0, nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrFrameTooLarge, size, max)
	}

	if cap(dst) < size {
		dst = make([]byte, size)
	} else {
		dst = dst[:size]
	}

	if _, err := io.ReadFull(r, dst); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return dst, 0, nil, err
	}

	return dst, bytesutil.Uint32BE(dst[:4]), dst[4:], nil
}
