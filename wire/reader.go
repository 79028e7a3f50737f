package wire

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// ErrLineTooLong is returned by ReadLine when a line exceeds MaxLineSize.
var ErrLineTooLong = errors.New("wire: line too long")

// Reader reads newline-terminated lines from a connection.
type Reader struct {
	r   *bufio.Reader
	buf []byte
}

// NewReader wraps an io.Reader for reading protocol lines.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// ReadLine returns the next line without its terminator. A trailing
// carriage return is stripped as well, unless it is escaped. Bytes
// after the last newline are discarded when the stream ends, and io.EOF
// is returned: a partial line never produces a request.
func (r *Reader) ReadLine() (string, error) {
	r.buf = r.buf[:0]
	for {
		chunk, err := r.r.ReadSlice(Newline)
		if len(r.buf)+len(chunk) > MaxLineSize+2 { // + "\r\n"
			return "", ErrLineTooLong
		}
		r.buf = append(r.buf, chunk...)
		switch {
		case err == nil:
			line := r.buf[:len(r.buf)-1]
			if n := len(line); n > 0 && line[n-1] == '\r' && !escaped(line[:n-1]) {
				line = line[:n-1]
			}
			if len(line) > MaxLineSize {
				return "", ErrLineTooLong
			}
			return string(line), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			return "", io.EOF
		default:
			return "", fmt.Errorf("read line: %w", err)
		}
	}
}

// escaped reports whether the byte following b would be escaped, that
// is whether b ends in an odd run of backslashes.
func escaped(b []byte) bool {
	n := 0
	for i := len(b) - 1; i >= 0 && b[i] == Escape; i-- {
		n++
	}
	return n%2 == 1
}

// ReadFields reads the next line and decodes it.
func (r *Reader) ReadFields() ([]string, error) {
	line, err := r.ReadLine()
	if err != nil {
		return nil, err
	}
	return Decode(line), nil
}
