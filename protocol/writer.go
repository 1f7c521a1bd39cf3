package protocol

import (
	"bufio"
	"fmt"
	"io"
)

// Writer buffers RESP replies and commands. Nothing reaches the
// underlying writer until Flush is called.
type Writer struct {
	bw  *bufio.Writer
	buf []byte
}

// NewWriter creates a new RESP protocol writer
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		bw:  bufio.NewWriter(w),
		buf: make([]byte, 0, 256),
	}
}

// WriteValue encodes v into the buffer
func (w *Writer) WriteValue(v Value) error {
	if !knownType(v.Type) {
		return fmt.Errorf("unsupported value type: %q", byte(v.Type))
	}
	w.buf = AppendValue(w.buf[:0], v)
	return w.flushScratch()
}

// WriteSimpleString writes a simple string
func (w *Writer) WriteSimpleString(s string) error {
	return w.WriteValue(SimpleString(s))
}

// WriteError writes an error reply; CR and LF in msg become spaces
func (w *Writer) WriteError(msg string) error {
	return w.WriteValue(ErrorValue(msg))
}

// WriteCommand writes args as a RESP array of bulk strings
func (w *Writer) WriteCommand(args ...string) error {
	w.buf = AppendCommand(w.buf[:0], args...)
	return w.flushScratch()
}

// WriteRaw writes pre-encoded bytes, e.g. a replication log entry or the
// snapshot payload which carries no trailing CRLF.
func (w *Writer) WriteRaw(p []byte) error {
	_, err := w.bw.Write(p)
	return err
}

// Flush flushes any buffered data to the underlying writer
func (w *Writer) Flush() error {
	return w.bw.Flush()
}

func (w *Writer) flushScratch() error {
	_, err := w.bw.Write(w.buf)
	// Large replies should not pin a large scratch buffer.
	if cap(w.buf) > 64<<10 {
		w.buf = make([]byte, 0, 256)
	}
	return err
}
