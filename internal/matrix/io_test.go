package matrix

import (
	"bytes"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anandmoghan/kaldi/internal/serialization"
)

func TestMatrixRoundTrip(t *testing.T) {
	for _, binary := range []bool{true, false} {
		src := NewMatrix(3, 5, DefaultStride)
		src.SetRandn()
		src.Set(1, 2, float32(math.Pi))
		src.Set(2, 4, -1e-20)

		var buf bytes.Buffer
		w := serialization.NewWriter(&buf, binary)
		require.NoError(t, src.Write(w))
		require.NoError(t, w.Flush())

		// Packed destination keeps its layout through Read.
		dst := NewMatrix(1, 1, StrideEqualNumCols)
		r := serialization.NewReader(&buf, binary)
		require.NoError(t, dst.Read(r))

		require.Equal(t, src.NumRows(), dst.NumRows())
		require.Equal(t, src.NumCols(), dst.NumCols())
		assert.Equal(t, dst.NumCols(), dst.Stride())
		for i := 0; i < src.NumRows(); i++ {
			assert.Equal(t, src.Row(i), dst.Row(i), "binary=%v row %d", binary, i)
		}
	}
}

func TestVectorRoundTrip(t *testing.T) {
	for _, binary := range []bool{true, false} {
		src := NewVector(7)
		src.SetRandn()
		src.Set(3, float32(math.E))

		var buf bytes.Buffer
		w := serialization.NewWriter(&buf, binary)
		require.NoError(t, src.Write(w))
		require.NoError(t, w.Flush())

		var dst Vector
		r := serialization.NewReader(&buf, binary)
		require.NoError(t, dst.Read(r))

		assert.Equal(t, src.Data(), dst.Data(), "binary=%v", binary)
	}
}

// TestMatrixFollowedByToken checks that a matrix body does not swallow the
// token after it, in either mode.
func TestMatrixFollowedByToken(t *testing.T) {
	for _, binary := range []bool{true, false} {
		src := NewMatrix(2, 2, DefaultStride)
		src.Set(0, 1, 2.5)

		var buf bytes.Buffer
		w := serialization.NewWriter(&buf, binary)
		require.NoError(t, src.Write(w))
		require.NoError(t, w.WriteToken("<Next>"))
		require.NoError(t, w.Flush())

		var dst Matrix
		r := serialization.NewReader(&buf, binary)
		require.NoError(t, dst.Read(r))
		require.NoError(t, r.ExpectToken("<Next>"), "binary=%v", binary)
	}
}

func TestMatrixFileAutoDetect(t *testing.T) {
	dir := t.TempDir()
	src := NewMatrix(4, 3, DefaultStride)
	src.SetRandn()

	for name, binary := range map[string]bool{"m.bin": true, "m.txt": false} {
		path := filepath.Join(dir, name)
		require.NoError(t, WriteMatrixFile(path, src, binary))

		got, err := ReadMatrixFile(path)
		require.NoError(t, err)
		require.Equal(t, src.NumRows(), got.NumRows())
		require.Equal(t, src.NumCols(), got.NumCols())
		for i := 0; i < src.NumRows(); i++ {
			assert.Equal(t, src.Row(i), got.Row(i), "mode %s row %d", name, i)
		}
	}
}

func TestMatrixTextHandWritten(t *testing.T) {
	// Values on the opening line and a bare closing bracket both parse.
	text := "[ 1 2 3\n4 5 6\n]\n"
	r := serialization.NewReader(bytes.NewReader([]byte(text)), false)

	var m Matrix
	require.NoError(t, m.Read(r))
	require.Equal(t, 2, m.NumRows())
	require.Equal(t, 3, m.NumCols())
	assert.Equal(t, []float32{1, 2, 3}, m.Row(0))
	assert.Equal(t, []float32{4, 5, 6}, m.Row(1))
}

func TestMatrixTextRagged(t *testing.T) {
	text := "[\n1 2 3\n4 5 ]\n"
	r := serialization.NewReader(bytes.NewReader([]byte(text)), false)

	var m Matrix
	err := m.Read(r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ragged")
}

func TestVectorTextHandWritten(t *testing.T) {
	text := "[ 0.5 -1 2e3 ]"
	r := serialization.NewReader(bytes.NewReader([]byte(text)), false)

	var v Vector
	require.NoError(t, v.Read(r))
	assert.Equal(t, []float32{0.5, -1, 2000}, v.Data())
}
