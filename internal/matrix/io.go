package matrix

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/anandmoghan/kaldi/internal/serialization"
)

// Stream tokens naming the payload type. Matrices and vectors are float32.
const (
	matrixToken = "FM"
	vectorToken = "FV"
)

// Write emits the matrix. Binary mode writes the type token, dimensions and
// packed row data; text mode writes a bracketed block with one row per
// line.
func (m *Matrix) Write(w *serialization.Writer) error {
	if w.Binary() {
		if err := w.WriteToken(matrixToken); err != nil {
			return err
		}
		if err := w.WriteInt32(int32(m.rows)); err != nil {
			return err
		}
		if err := w.WriteInt32(int32(m.cols)); err != nil {
			return err
		}
		for r := 0; r < m.rows; r++ {
			if err := w.WriteRawFloat32s(m.Row(r)); err != nil {
				return err
			}
		}
		return nil
	}
	if err := w.WriteString(" ["); err != nil {
		return err
	}
	for r := 0; r < m.rows; r++ {
		if err := w.WriteString("\n  "); err != nil {
			return err
		}
		for _, v := range m.Row(r) {
			if err := w.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32) + " "); err != nil {
				return err
			}
		}
	}
	return w.WriteString("]\n")
}

// Read replaces the matrix contents and dimensions from the stream,
// keeping the receiver's stride type.
func (m *Matrix) Read(r *serialization.Reader) error {
	if r.Binary() {
		if err := r.ExpectToken(matrixToken); err != nil {
			return err
		}
		rows, err := r.ReadInt32()
		if err != nil {
			return err
		}
		cols, err := r.ReadInt32()
		if err != nil {
			return err
		}
		if rows <= 0 || cols <= 0 {
			return fmt.Errorf("invalid matrix dimensions %dx%d", rows, cols)
		}
		m.resize(int(rows), int(cols))
		for i := 0; i < m.rows; i++ {
			if err := r.ReadRawFloat32s(m.Row(i)); err != nil {
				return err
			}
		}
		return nil
	}
	return m.readText(r)
}

func (m *Matrix) readText(r *serialization.Reader) error {
	tok, err := r.ReadToken()
	if err != nil {
		return err
	}
	if tok != "[" {
		return &serialization.TokenError{Expected: "[", Got: tok}
	}
	var rows [][]float32
	for {
		line, err := r.ReadLine()
		if err != nil {
			return fmt.Errorf("unterminated matrix: %w", err)
		}
		fields := strings.Fields(line)
		done := false
		if n := len(fields); n > 0 && fields[n-1] == "]" {
			fields = fields[:n-1]
			done = true
		}
		if len(fields) > 0 {
			row := make([]float32, len(fields))
			for i, f := range fields {
				v, err := strconv.ParseFloat(f, 32)
				if err != nil {
					return fmt.Errorf("failed to parse matrix entry %q: %w", f, err)
				}
				row[i] = float32(v)
			}
			rows = append(rows, row)
		}
		if done {
			break
		}
	}
	if len(rows) == 0 {
		return fmt.Errorf("invalid matrix dimensions 0x0")
	}
	cols := len(rows[0])
	for i, row := range rows {
		if len(row) != cols {
			return fmt.Errorf("ragged matrix: row %d has %d entries, expected %d", i, len(row), cols)
		}
	}
	m.resize(len(rows), cols)
	for i, row := range rows {
		copy(m.Row(i), row)
	}
	return nil
}

// Write emits the vector. Binary mode writes the type token, dimension and
// packed data; text mode writes a single bracketed line.
func (v *Vector) Write(w *serialization.Writer) error {
	if w.Binary() {
		if err := w.WriteToken(vectorToken); err != nil {
			return err
		}
		if err := w.WriteInt32(int32(len(v.data))); err != nil {
			return err
		}
		return w.WriteRawFloat32s(v.data)
	}
	if err := w.WriteString(" [ "); err != nil {
		return err
	}
	for _, x := range v.data {
		if err := w.WriteString(strconv.FormatFloat(float64(x), 'g', -1, 32) + " "); err != nil {
			return err
		}
	}
	return w.WriteString("]\n")
}

// Read replaces the vector contents and dimension from the stream.
func (v *Vector) Read(r *serialization.Reader) error {
	if r.Binary() {
		if err := r.ExpectToken(vectorToken); err != nil {
			return err
		}
		dim, err := r.ReadInt32()
		if err != nil {
			return err
		}
		if dim <= 0 {
			return fmt.Errorf("invalid vector dimension %d", dim)
		}
		v.data = make([]float32, dim)
		return r.ReadRawFloat32s(v.data)
	}
	tok, err := r.ReadToken()
	if err != nil {
		return err
	}
	if tok != "[" {
		return &serialization.TokenError{Expected: "[", Got: tok}
	}
	var vals []float32
	for {
		tok, err := r.ReadToken()
		if err != nil {
			return fmt.Errorf("unterminated vector: %w", err)
		}
		if tok == "]" {
			break
		}
		x, err := strconv.ParseFloat(tok, 32)
		if err != nil {
			return fmt.Errorf("failed to parse vector entry %q: %w", tok, err)
		}
		vals = append(vals, float32(x))
	}
	if len(vals) == 0 {
		return fmt.Errorf("invalid vector dimension 0")
	}
	v.data = vals
	return nil
}

// ReadMatrixFile loads a matrix from path, detecting binary or text mode
// from the file preamble.
func ReadMatrixFile(path string) (*Matrix, error) {
	r, err := serialization.NewFileReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var m Matrix
	if err := m.Read(r); err != nil {
		return nil, fmt.Errorf("failed to read matrix from %s: %w", path, err)
	}
	return &m, nil
}

// WriteMatrixFile saves a matrix to path in the given mode.
func WriteMatrixFile(path string, m *Matrix, binary bool) error {
	w, err := serialization.NewFileWriter(path, binary)
	if err != nil {
		return err
	}
	if err := m.Write(w); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write matrix to %s: %w", path, err)
	}
	return w.Close()
}
