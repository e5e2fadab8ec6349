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

// Reader consumes a tagged token stream in binary or text mode.
type Reader struct {
	r      *bufio.Reader
	file   *os.File
	binary bool
	closed bool
}

// NewReader wraps an existing io.Reader, for reading a stream embedded
// inside a larger one. The stream inherits the mode of its container.
func NewReader(r io.Reader, binary bool) *Reader {
	return &Reader{
		r:      bufio.NewReader(r),
		binary: binary,
	}
}

// NewFileReader opens path and detects the stream mode: files beginning
// with the binary preamble are binary, everything else is text.
func NewFileReader(path string) (*Reader, error) {
	//nolint:gosec // G304: file path comes from user input, which is expected for model loading
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	r := &Reader{
		r:    bufio.NewReader(file),
		file: file,
	}
	head, err := r.r.Peek(len(binaryPreamble))
	if err == nil && string(head) == binaryPreamble {
		r.binary = true
		if _, err := r.r.Discard(len(binaryPreamble)); err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("failed to skip preamble: %w", err)
		}
	}
	// A file too short to hold a preamble is treated as text; the first
	// typed read will surface EOF.
	return r, nil
}

// Binary reports whether the stream is in binary mode.
func (r *Reader) Binary() bool {
	return r.binary
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// ReadToken reads the next whitespace-delimited token, consuming the single
// whitespace byte that terminates it.
func (r *Reader) ReadToken() (string, error) {
	if r.closed {
		return "", ErrClosed
	}
	var b byte
	for {
		var err error
		b, err = r.r.ReadByte()
		if err != nil {
			return "", fmt.Errorf("failed to read token: %w", err)
		}
		if !isSpace(b) {
			break
		}
	}
	var sb strings.Builder
	sb.WriteByte(b)
	for {
		b, err := r.r.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read token: %w", err)
		}
		if isSpace(b) {
			break
		}
		sb.WriteByte(b)
	}
	return sb.String(), nil
}

// ExpectToken reads the next token and fails unless it equals tok.
func (r *Reader) ExpectToken(tok string) error {
	got, err := r.ReadToken()
	if err != nil {
		return fmt.Errorf("failed to read expected token %q: %w", tok, err)
	}
	if got != tok {
		return &TokenError{Expected: tok, Got: got}
	}
	return nil
}

// ExpectOneOrTwoTokens accepts either "first second" or just "second".
// Component streams use this so the opening type tag may be consumed either
// by the registry or by the component itself.
func (r *Reader) ExpectOneOrTwoTokens(first, second string) error {
	got, err := r.ReadToken()
	if err != nil {
		return fmt.Errorf("failed to read expected token %q: %w", first, err)
	}
	if got == second {
		return nil
	}
	if got != first {
		return &TokenError{Expected: first, Got: got}
	}
	return r.ExpectToken(second)
}

// ReadInt32 reads an int32 value.
func (r *Reader) ReadInt32() (int32, error) {
	if r.closed {
		return 0, ErrClosed
	}
	if r.binary {
		size, err := r.r.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("failed to read int32: %w", err)
		}
		if size != 4 {
			return 0, fmt.Errorf("%w: got %d, expected 4", ErrBadSizeByte, size)
		}
		var buf [4]byte
		if _, err := io.ReadFull(r.r, buf[:]); err != nil {
			return 0, fmt.Errorf("failed to read int32: %w", err)
		}
		return int32(binary.LittleEndian.Uint32(buf[:])), nil
	}
	tok, err := r.ReadToken()
	if err != nil {
		return 0, fmt.Errorf("failed to read int32: %w", err)
	}
	v, err := strconv.ParseInt(tok, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("failed to parse int32 %q: %w", tok, err)
	}
	return int32(v), nil
}

// ReadFloat32 reads a float32 value.
func (r *Reader) ReadFloat32() (float32, error) {
	if r.closed {
		return 0, ErrClosed
	}
	if r.binary {
		size, err := r.r.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("failed to read float32: %w", err)
		}
		if size != 4 {
			return 0, fmt.Errorf("%w: got %d, expected 4", ErrBadSizeByte, size)
		}
		var buf [4]byte
		if _, err := io.ReadFull(r.r, buf[:]); err != nil {
			return 0, fmt.Errorf("failed to read float32: %w", err)
		}
		return math.Float32frombits(binary.LittleEndian.Uint32(buf[:])), nil
	}
	tok, err := r.ReadToken()
	if err != nil {
		return 0, fmt.Errorf("failed to read float32: %w", err)
	}
	v, err := strconv.ParseFloat(tok, 32)
	if err != nil {
		return 0, fmt.Errorf("failed to parse float32 %q: %w", tok, err)
	}
	return float32(v), nil
}

// ReadBool reads a boolean written as 'T' or 'F'.
func (r *Reader) ReadBool() (bool, error) {
	if r.closed {
		return false, ErrClosed
	}
	if r.binary {
		b, err := r.r.ReadByte()
		if err != nil {
			return false, fmt.Errorf("failed to read bool: %w", err)
		}
		switch b {
		case 'T':
			return true, nil
		case 'F':
			return false, nil
		default:
			return false, fmt.Errorf("%w: got %q", ErrBadBool, string(b))
		}
	}
	tok, err := r.ReadToken()
	if err != nil {
		return false, fmt.Errorf("failed to read bool: %w", err)
	}
	switch tok {
	case "T":
		return true, nil
	case "F":
		return false, nil
	default:
		return false, fmt.Errorf("%w: got %q", ErrBadBool, tok)
	}
}

// ReadRawFloat32s fills dst from packed little-endian bytes with no size
// prefix. Only valid in binary mode; matrix and vector bodies use this.
func (r *Reader) ReadRawFloat32s(dst []float32) error {
	if r.closed {
		return ErrClosed
	}
	if !r.binary {
		return fmt.Errorf("raw float data is only valid in binary mode")
	}
	buf := make([]byte, len(dst)*4)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return fmt.Errorf("failed to read float data: %w", err)
	}
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return nil
}

// ReadLine reads up to and including the next newline, returning the line
// without its line ending. Text-mode matrix rows are line-delimited. At end
// of stream a partial final line is returned without error; the following
// call reports EOF.
func (r *Reader) ReadLine() (string, error) {
	if r.closed {
		return "", ErrClosed
	}
	s, err := r.r.ReadString('\n')
	if err == io.EOF && s != "" {
		err = nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read line: %w", err)
	}
	return strings.TrimRight(s, "\r\n"), nil
}

// Close closes the underlying file, if any. Closing an already closed
// reader is a no-op.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.file != nil {
		if err := r.file.Close(); err != nil {
			return fmt.Errorf("failed to close file: %w", err)
		}
	}
	return nil
}
