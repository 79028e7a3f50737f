package wire

import (
	"bufio"
	"io"
)

// Writer writes protocol lines to a connection. Lines are buffered until
// Flush.
type Writer struct {
	w *bufio.Writer
}

// NewWriter wraps an io.Writer for writing protocol lines.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// WriteLine writes an already encoded line followed by a newline.
func (w *Writer) WriteLine(line string) error {
	if _, err := w.w.WriteString(line); err != nil {
		return err
	}
	return w.w.WriteByte(Newline)
}

// WriteFields encodes fields and writes them as one line.
func (w *Writer) WriteFields(fields ...string) error {
	return w.WriteLine(Encode(fields...))
}

// Flush flushes buffered data to the underlying writer.
func (w *Writer) Flush() error {
	return w.w.Flush()
}
