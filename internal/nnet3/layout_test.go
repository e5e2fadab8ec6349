package nnet3

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anandmoghan/kaldi/internal/dnn"
)

func TestStrideTables(t *testing.T) {
	dims := [dnn.NumDims]int{2, 3, 4, 5, 6}
	require.Equal(t, [dnn.NumDims]int{360, 120, 30, 6, 1}, stridesNCXYZ(dims))
	require.Equal(t, [dnn.NumDims]int{360, 120, 30, 1, 5}, stridesNCXZY(dims))
	require.Equal(t, [dnn.NumDims]int{360, 1, 90, 18, 3}, stridesNXYZC(dims))
}

// Every layout must address each element of a packed buffer exactly
// once.
func TestStridesArePermutations(t *testing.T) {
	dims := [dnn.NumDims]int{2, 3, 4, 5, 6}
	total := 2 * 3 * 4 * 5 * 6
	for name, strides := range map[string][dnn.NumDims]int{
		"ncxyz": stridesNCXYZ(dims),
		"ncxzy": stridesNCXZY(dims),
		"nxyzc": stridesNXYZC(dims),
	} {
		seen := make([]bool, total)
		for n := 0; n < dims[0]; n++ {
			for c := 0; c < dims[1]; c++ {
				for x := 0; x < dims[2]; x++ {
					for y := 0; y < dims[3]; y++ {
						for z := 0; z < dims[4]; z++ {
							off := n*strides[0] + c*strides[1] + x*strides[2] + y*strides[3] + z*strides[4]
							require.Less(t, off, total, "%s: offset out of range", name)
							require.False(t, seen[off], "%s: offset %d hit twice", name, off)
							seen[off] = true
						}
					}
				}
			}
		}
	}
}

func TestInputStridesByOrder(t *testing.T) {
	dims := [dnn.NumDims]int{2, 3, 4, 5, 6}
	require.Equal(t, stridesNCXYZ(dims), inputStrides(VectorizeZyx, dims))
	require.Equal(t, stridesNCXZY(dims), inputStrides(VectorizeYzx, dims))
	require.Equal(t, stridesNXYZC(dims), outputStrides(dims))
}

// The bias tensor [1, K, 1, 1, 1] must broadcast identically under both
// activation orders.
func TestBiasStridesAgreeAcrossOrders(t *testing.T) {
	dims := [dnn.NumDims]int{1, 7, 1, 1, 1}
	want := [dnn.NumDims]int{7, 1, 1, 1, 1}
	require.Equal(t, want, inputStrides(VectorizeZyx, dims))
	require.Equal(t, want, inputStrides(VectorizeYzx, dims))
}

func TestInputStridesRejectsUnknownOrder(t *testing.T) {
	dims := [dnn.NumDims]int{1, 1, 1, 1, 1}
	require.Panics(t, func() { inputStrides(TensorVectorization(9), dims) })
}

func TestParseVectorization(t *testing.T) {
	v, err := ParseVectorization("zyx")
	require.NoError(t, err)
	require.Equal(t, VectorizeZyx, v)
	require.Equal(t, "zyx", v.String())

	v, err = ParseVectorization("yzx")
	require.NoError(t, err)
	require.Equal(t, VectorizeYzx, v)
	require.Equal(t, "yzx", v.String())

	_, err = ParseVectorization("xyz")
	require.Error(t, err)
	require.Contains(t, err.Error(), "xyz")
}
