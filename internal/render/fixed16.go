package render

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// HeaderSize is the length of a fixed16 response header.
const HeaderSize = 16

var ErrTooLarge = errors.New("response too large")

// Header formats the fixed16 header: a three digit status, a blank, the
// body length right aligned in eleven columns and a newline.
func Header(status, length int) []byte {
	return fmt.Appendf(nil, "%3d %11d\n", status, length)
}

// WriteFixed16 writes the header followed by body.
func WriteFixed16(w io.Writer, status int, body []byte) error {
	if _, err := w.Write(Header(status, len(body))); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// LimitedBuffer collects a response whose length must be known before it is
// sent. Writes beyond Max fail with ErrTooLarge; Max <= 0 means unlimited.
type LimitedBuffer struct {
	bytes.Buffer
	Max int
}

func (b *LimitedBuffer) Write(p []byte) (int, error) {
	if b.Max > 0 && b.Len()+len(p) > b.Max {
		return 0, ErrTooLarge
	}
	return b.Buffer.Write(p)
}
