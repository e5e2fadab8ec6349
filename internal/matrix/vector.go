package matrix

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/blas/blas32"
)

// Vector is a dense float32 vector.
type Vector struct {
	data []float32
}

// NewVector allocates a zeroed vector of the given dimension.
func NewVector(dim int) *Vector {
	if dim <= 0 {
		panic(fmt.Sprintf("matrix: invalid vector dimension %d", dim))
	}
	return &Vector{data: make([]float32, dim)}
}

// Dim returns the number of elements.
func (v *Vector) Dim() int { return len(v.data) }

// Data returns the underlying storage.
func (v *Vector) Data() []float32 { return v.data }

// At returns element i.
func (v *Vector) At(i int) float32 { return v.data[i] }

// Set assigns element i.
func (v *Vector) Set(i int, x float32) { v.data[i] = x }

func (v *Vector) vec() blas32.Vector {
	return blas32.Vector{N: len(v.data), Inc: 1, Data: v.data}
}

// SetZero zeroes every element.
func (v *Vector) SetZero() {
	for i := range v.data {
		v.data[i] = 0
	}
}

// SetRandn fills the vector with draws from the standard normal
// distribution.
func (v *Vector) SetRandn() {
	for i := range v.data {
		//nolint:gosec // math/rand is fine for weight initialization (not security-critical)
		v.data[i] = float32(rand.NormFloat64())
	}
}

// Scale multiplies every element by alpha.
func (v *Vector) Scale(alpha float32) {
	blas32.Scal(alpha, v.vec())
}

// AddVec adds alpha times other, which must have the same dimension.
func (v *Vector) AddVec(alpha float32, other *Vector) {
	if len(v.data) != len(other.data) {
		panic(fmt.Sprintf("matrix: AddVec dimension mismatch: %d vs %d",
			len(v.data), len(other.data)))
	}
	blas32.Axpy(alpha, other.vec(), v.vec())
}

// CopyFromVec copies other, which must have the same dimension.
func (v *Vector) CopyFromVec(other *Vector) {
	if len(v.data) != len(other.data) {
		panic(fmt.Sprintf("matrix: CopyFromVec dimension mismatch: %d vs %d",
			len(v.data), len(other.data)))
	}
	copy(v.data, other.data)
}

// CopyColFromMat copies column col of m, which must have Dim rows.
func (v *Vector) CopyColFromMat(m *Matrix, col int) {
	if len(v.data) != m.NumRows() {
		panic(fmt.Sprintf("matrix: CopyColFromMat dimension mismatch: %d vs %d rows",
			len(v.data), m.NumRows()))
	}
	for r := range v.data {
		v.data[r] = m.At(r, col)
	}
}

// Clone returns a deep copy.
func (v *Vector) Clone() *Vector {
	out := NewVector(len(v.data))
	copy(out.data, v.data)
	return out
}

// Norm2 returns the Euclidean norm.
func (v *Vector) Norm2() float32 {
	return blas32.Nrm2(v.vec())
}

// Sum returns the sum of all elements.
func (v *Vector) Sum() float32 {
	var sum float64
	for _, x := range v.data {
		sum += float64(x)
	}
	return float32(sum)
}

// VecVec returns the dot product of two equally sized vectors.
func VecVec(a, b *Vector) float32 {
	if len(a.data) != len(b.data) {
		panic(fmt.Sprintf("matrix: VecVec dimension mismatch: %d vs %d",
			len(a.data), len(b.data)))
	}
	return blas32.Dot(a.vec(), b.vec())
}
