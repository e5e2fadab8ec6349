package matrix

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMatrixStride(t *testing.T) {
	tests := []struct {
		name       string
		rows, cols int
		st         StrideType
		wantStride int
	}{
		{"padded narrow", 2, 3, DefaultStride, 4},
		{"padded aligned", 2, 8, DefaultStride, 8},
		{"padded wide", 3, 5, DefaultStride, 8},
		{"packed narrow", 2, 3, StrideEqualNumCols, 3},
		{"packed wide", 3, 5, StrideEqualNumCols, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMatrix(tt.rows, tt.cols, tt.st)
			assert.Equal(t, tt.rows, m.NumRows())
			assert.Equal(t, tt.cols, m.NumCols())
			assert.Equal(t, tt.wantStride, m.Stride())
			assert.Len(t, m.Data(), tt.rows*tt.wantStride)
		})
	}
}

func TestNewMatrixInvalid(t *testing.T) {
	assert.Panics(t, func() { NewMatrix(0, 3, DefaultStride) })
	assert.Panics(t, func() { NewMatrix(3, -1, DefaultStride) })
	assert.Panics(t, func() { NewVector(0) })
}

func TestMatrixAccessors(t *testing.T) {
	m := NewMatrix(2, 3, DefaultStride)
	m.Set(0, 0, 1)
	m.Set(0, 2, 3)
	m.Set(1, 1, 5)

	assert.Equal(t, float32(1), m.At(0, 0))
	assert.Equal(t, float32(3), m.At(0, 2))
	assert.Equal(t, float32(5), m.At(1, 1))
	assert.Equal(t, []float32{1, 0, 3}, m.Row(0))
	assert.Equal(t, []float32{0, 5, 0}, m.Row(1))
}

func TestMatrixOps(t *testing.T) {
	a := NewMatrix(2, 2, StrideEqualNumCols)
	a.Set(0, 0, 1)
	a.Set(0, 1, 2)
	a.Set(1, 0, 3)
	a.Set(1, 1, 4)

	// Mixed strides exercise the row-wise paths.
	b := NewMatrix(2, 2, DefaultStride)
	b.CopyFromMat(a)
	assert.Equal(t, float32(4), b.At(1, 1))

	b.Scale(2)
	assert.Equal(t, float32(2), b.At(0, 0))
	assert.Equal(t, float32(8), b.At(1, 1))

	a.AddMat(0.5, b)
	assert.Equal(t, float32(2), a.At(0, 0))
	assert.Equal(t, float32(8), a.At(1, 1))

	a.SetZero()
	assert.Equal(t, float32(0), a.Sum())
}

func TestMatrixNormAndTrace(t *testing.T) {
	m := NewMatrix(2, 2, DefaultStride)
	m.Set(0, 0, 3)
	m.Set(1, 1, 4)

	assert.InDelta(t, 5.0, float64(m.FrobeniusNorm()), 1e-6)
	assert.InDelta(t, 7.0, float64(m.Sum()), 1e-6)
	assert.InDelta(t, 25.0, float64(TraceMatMat(m, m)), 1e-6)

	other := NewMatrix(2, 2, StrideEqualNumCols)
	other.Set(0, 0, 2)
	other.Set(1, 1, -1)
	assert.InDelta(t, 2.0, float64(TraceMatMat(m, other)), 1e-6)

	assert.Panics(t, func() { TraceMatMat(m, NewMatrix(3, 2, DefaultStride)) })
}

func TestMatrixSetRandn(t *testing.T) {
	m := NewMatrix(40, 25, DefaultStride)
	m.SetRandn()

	// Mean of 1000 standard normal draws is close to zero, and at least
	// one entry is nonzero.
	n := float64(m.NumRows() * m.NumCols())
	mean := float64(m.Sum()) / n
	assert.Less(t, math.Abs(mean), 0.2)
	assert.NotZero(t, m.FrobeniusNorm())

	// Padding stays zero.
	require.Greater(t, m.Stride(), m.NumCols())
	assert.Equal(t, float32(0), m.Data()[m.NumCols()])
}

func TestMatrixClone(t *testing.T) {
	m := NewMatrix(2, 3, StrideEqualNumCols)
	m.SetRandn()
	c := m.Clone()

	require.Equal(t, m.NumRows(), c.NumRows())
	require.Equal(t, m.NumCols(), c.NumCols())
	assert.Equal(t, m.Data(), c.Data())

	c.Set(0, 0, c.At(0, 0)+1)
	assert.NotEqual(t, m.At(0, 0), c.At(0, 0))
}

func TestVectorOps(t *testing.T) {
	v := NewVector(3)
	v.Set(0, 1)
	v.Set(1, 2)
	v.Set(2, 3)

	w := v.Clone()
	w.Scale(-1)
	v.AddVec(1, w)
	assert.Equal(t, []float32{0, 0, 0}, v.Data())

	v.CopyFromVec(w)
	assert.Equal(t, []float32{-1, -2, -3}, v.Data())
	assert.InDelta(t, -6.0, float64(v.Sum()), 1e-6)
	assert.InDelta(t, math.Sqrt(14), float64(v.Norm2()), 1e-6)
	assert.InDelta(t, 14.0, float64(VecVec(v, v)), 1e-6)

	assert.Panics(t, func() { v.AddVec(1, NewVector(2)) })
	assert.Panics(t, func() { VecVec(v, NewVector(4)) })
}

func TestVectorCopyColFromMat(t *testing.T) {
	m := NewMatrix(3, 2, DefaultStride)
	for r := 0; r < 3; r++ {
		m.Set(r, 0, float32(r))
		m.Set(r, 1, float32(10+r))
	}

	v := NewVector(3)
	v.CopyColFromMat(m, 1)
	assert.Equal(t, []float32{10, 11, 12}, v.Data())

	assert.Panics(t, func() { NewVector(2).CopyColFromMat(m, 0) })
}
