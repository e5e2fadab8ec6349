// Package matrix provides dense float32 matrix and vector storage for
// neural-network parameters and activations.
//
// A Matrix is row-major. Rows may be padded so that each row starts on an
// aligned boundary (DefaultStride), or fully packed with no gap between
// rows (StrideEqualNumCols). Compute engines that reinterpret a matrix as
// an N-dimensional tensor require the packed layout.
package matrix

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/blas/blas32"
)

// StrideType selects the row layout of a Matrix.
type StrideType int

const (
	// DefaultStride pads each row up to a multiple of four floats.
	DefaultStride StrideType = iota
	// StrideEqualNumCols packs rows with no padding.
	StrideEqualNumCols
)

// strideAlign is the row alignment, in floats, used by DefaultStride.
const strideAlign = 4

// Matrix is a dense row-major float32 matrix.
type Matrix struct {
	rows       int
	cols       int
	stride     int
	strideType StrideType
	data       []float32
}

// NewMatrix allocates a zeroed rows x cols matrix with the given layout.
func NewMatrix(rows, cols int, st StrideType) *Matrix {
	if rows <= 0 || cols <= 0 {
		panic(fmt.Sprintf("matrix: invalid dimensions %dx%d", rows, cols))
	}
	m := &Matrix{strideType: st}
	m.resize(rows, cols)
	return m
}

func (m *Matrix) resize(rows, cols int) {
	stride := cols
	if m.strideType == DefaultStride {
		stride = (cols + strideAlign - 1) / strideAlign * strideAlign
	}
	m.rows = rows
	m.cols = cols
	m.stride = stride
	m.data = make([]float32, rows*stride)
}

// NumRows returns the number of rows.
func (m *Matrix) NumRows() int { return m.rows }

// NumCols returns the number of columns.
func (m *Matrix) NumCols() int { return m.cols }

// Stride returns the distance, in floats, between the starts of consecutive
// rows.
func (m *Matrix) Stride() int { return m.stride }

// Data returns the underlying storage, rows*stride floats, padding
// included.
func (m *Matrix) Data() []float32 { return m.data }

// Row returns row r as a slice of length NumCols.
func (m *Matrix) Row(r int) []float32 {
	return m.data[r*m.stride : r*m.stride+m.cols]
}

// At returns the element at row r, column c.
func (m *Matrix) At(r, c int) float32 {
	return m.data[r*m.stride+c]
}

// Set assigns the element at row r, column c.
func (m *Matrix) Set(r, c int, v float32) {
	m.data[r*m.stride+c] = v
}

// rowVec returns a BLAS view of row r.
func (m *Matrix) rowVec(r int) blas32.Vector {
	return blas32.Vector{N: m.cols, Inc: 1, Data: m.data[r*m.stride:]}
}

// General returns a BLAS view of the whole matrix.
func (m *Matrix) General() blas32.General {
	return blas32.General{Rows: m.rows, Cols: m.cols, Stride: m.stride, Data: m.data}
}

// SetZero zeroes every element, padding included.
func (m *Matrix) SetZero() {
	for i := range m.data {
		m.data[i] = 0
	}
}

// SetRandn fills the matrix with draws from the standard normal
// distribution.
func (m *Matrix) SetRandn() {
	for r := 0; r < m.rows; r++ {
		row := m.Row(r)
		for i := range row {
			//nolint:gosec // math/rand is fine for weight initialization (not security-critical)
			row[i] = float32(rand.NormFloat64())
		}
	}
}

// Scale multiplies every element by alpha.
func (m *Matrix) Scale(alpha float32) {
	for r := 0; r < m.rows; r++ {
		blas32.Scal(alpha, m.rowVec(r))
	}
}

// AddMat adds alpha times other, which must have the same dimensions.
func (m *Matrix) AddMat(alpha float32, other *Matrix) {
	if m.rows != other.rows || m.cols != other.cols {
		panic(fmt.Sprintf("matrix: AddMat dimension mismatch: %dx%d vs %dx%d",
			m.rows, m.cols, other.rows, other.cols))
	}
	for r := 0; r < m.rows; r++ {
		blas32.Axpy(alpha, other.rowVec(r), m.rowVec(r))
	}
}

// CopyFromMat copies other, which must have the same dimensions. Strides
// may differ.
func (m *Matrix) CopyFromMat(other *Matrix) {
	if m.rows != other.rows || m.cols != other.cols {
		panic(fmt.Sprintf("matrix: CopyFromMat dimension mismatch: %dx%d vs %dx%d",
			m.rows, m.cols, other.rows, other.cols))
	}
	for r := 0; r < m.rows; r++ {
		copy(m.Row(r), other.Row(r))
	}
}

// Clone returns a deep copy with the same layout.
func (m *Matrix) Clone() *Matrix {
	out := NewMatrix(m.rows, m.cols, m.strideType)
	out.CopyFromMat(m)
	return out
}

// FrobeniusNorm returns sqrt of the sum of squared elements.
func (m *Matrix) FrobeniusNorm() float32 {
	var sumsq float64
	for r := 0; r < m.rows; r++ {
		n := blas32.Nrm2(m.rowVec(r))
		sumsq += float64(n) * float64(n)
	}
	return float32(math.Sqrt(sumsq))
}

// Sum returns the sum of all elements.
func (m *Matrix) Sum() float32 {
	var sum float64
	for r := 0; r < m.rows; r++ {
		for _, v := range m.Row(r) {
			sum += float64(v)
		}
	}
	return float32(sum)
}

// TraceMatMat returns tr(A * B^T), the sum of elementwise products of two
// equally sized matrices.
func TraceMatMat(a, b *Matrix) float32 {
	if a.rows != b.rows || a.cols != b.cols {
		panic(fmt.Sprintf("matrix: TraceMatMat dimension mismatch: %dx%d vs %dx%d",
			a.rows, a.cols, b.rows, b.cols))
	}
	var sum float32
	for r := 0; r < a.rows; r++ {
		sum += blas32.Dot(a.rowVec(r), b.rowVec(r))
	}
	return sum
}
