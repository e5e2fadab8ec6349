package serialization

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// binaryPreamble marks the start of a binary-mode file stream.
const binaryPreamble = "\x00B"

// Writer emits a tagged token stream in binary or text mode.
type Writer struct {
	w      *bufio.Writer
	file   *os.File
	binary bool
	closed bool
}

// NewWriter wraps an existing io.Writer, for embedding a stream inside a
// larger one. No file preamble is written; the stream inherits the mode of
// its container.
func NewWriter(w io.Writer, binary bool) *Writer {
	return &Writer{
		w:      bufio.NewWriter(w),
		binary: binary,
	}
}

// NewFileWriter creates the file at path and, in binary mode, writes the
// file preamble.
func NewFileWriter(path string, binary bool) (*Writer, error) {
	//nolint:gosec // G304: file path comes from user input, which is expected for model saving
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	w := &Writer{
		w:      bufio.NewWriter(file),
		file:   file,
		binary: binary,
	}
	if binary {
		if _, err := w.w.WriteString(binaryPreamble); err != nil {
			_ = file.Close() // Best effort close on error
			return nil, fmt.Errorf("failed to write preamble: %w", err)
		}
	}
	return w, nil
}

// Binary reports whether the stream is in binary mode.
func (w *Writer) Binary() bool {
	return w.binary
}

// WriteToken writes a whitespace-free token followed by a single space.
func (w *Writer) WriteToken(tok string) error {
	if w.closed {
		return ErrClosed
	}
	if tok == "" || strings.ContainsAny(tok, " \t\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidToken, tok)
	}
	if _, err := w.w.WriteString(tok); err != nil {
		return fmt.Errorf("failed to write token %q: %w", tok, err)
	}
	if err := w.w.WriteByte(' '); err != nil {
		return fmt.Errorf("failed to write token %q: %w", tok, err)
	}
	return nil
}

// WriteInt32 writes an int32 value.
func (w *Writer) WriteInt32(v int32) error {
	if w.closed {
		return ErrClosed
	}
	if w.binary {
		var buf [5]byte
		buf[0] = 4
		binary.LittleEndian.PutUint32(buf[1:], uint32(v))
		if _, err := w.w.Write(buf[:]); err != nil {
			return fmt.Errorf("failed to write int32: %w", err)
		}
		return nil
	}
	if _, err := w.w.WriteString(strconv.FormatInt(int64(v), 10)); err != nil {
		return fmt.Errorf("failed to write int32: %w", err)
	}
	if err := w.w.WriteByte(' '); err != nil {
		return fmt.Errorf("failed to write int32: %w", err)
	}
	return nil
}

// WriteFloat32 writes a float32 value.
func (w *Writer) WriteFloat32(v float32) error {
	if w.closed {
		return ErrClosed
	}
	if w.binary {
		var buf [5]byte
		buf[0] = 4
		binary.LittleEndian.PutUint32(buf[1:], math.Float32bits(v))
		if _, err := w.w.Write(buf[:]); err != nil {
			return fmt.Errorf("failed to write float32: %w", err)
		}
		return nil
	}
	if _, err := w.w.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32)); err != nil {
		return fmt.Errorf("failed to write float32: %w", err)
	}
	if err := w.w.WriteByte(' '); err != nil {
		return fmt.Errorf("failed to write float32: %w", err)
	}
	return nil
}

// WriteBool writes a boolean as 'T' or 'F'.
func (w *Writer) WriteBool(v bool) error {
	if w.closed {
		return ErrClosed
	}
	c := byte('F')
	if v {
		c = 'T'
	}
	if err := w.w.WriteByte(c); err != nil {
		return fmt.Errorf("failed to write bool: %w", err)
	}
	if !w.binary {
		if err := w.w.WriteByte(' '); err != nil {
			return fmt.Errorf("failed to write bool: %w", err)
		}
	}
	return nil
}

// WriteRawFloat32s writes vals as packed little-endian bytes with no size
// prefix. Only valid in binary mode; matrix and vector bodies use this.
func (w *Writer) WriteRawFloat32s(vals []float32) error {
	if w.closed {
		return ErrClosed
	}
	if !w.binary {
		return fmt.Errorf("raw float data is only valid in binary mode")
	}
	var buf [4]byte
	for _, v := range vals {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		if _, err := w.w.Write(buf[:]); err != nil {
			return fmt.Errorf("failed to write float data: %w", err)
		}
	}
	return nil
}

// WriteString writes s verbatim, with no trailing space. Text-mode layout
// (newlines, brackets) goes through here.
func (w *Writer) WriteString(s string) error {
	if w.closed {
		return ErrClosed
	}
	if _, err := w.w.WriteString(s); err != nil {
		return fmt.Errorf("failed to write string: %w", err)
	}
	return nil
}

// Flush flushes buffered output to the underlying writer.
func (w *Writer) Flush() error {
	if w.closed {
		return ErrClosed
	}
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file, if any. Closing an already
// closed writer is a no-op.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.w.Flush(); err != nil {
		if w.file != nil {
			_ = w.file.Close()
		}
		return fmt.Errorf("failed to flush: %w", err)
	}
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("failed to close file: %w", err)
		}
	}
	return nil
}
