package dnn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForwardOutputDim(t *testing.T) {
	tests := []struct {
		name                         string
		in, kernel, pad, stride, dil int
		want                         int
	}{
		{"unit kernel", 4, 1, 0, 1, 1, 4},
		{"kernel 2", 4, 2, 0, 1, 1, 3},
		{"strided", 5, 3, 1, 2, 1, 3},
		{"dilated", 7, 3, 0, 1, 2, 3},
		{"padded same", 6, 3, 1, 1, 1, 6},
		{"kernel eats input", 2, 3, 0, 1, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ForwardOutputDim(tt.in, tt.kernel, tt.pad, tt.stride, tt.dil)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestForwardOutputShape(t *testing.T) {
	x, err := NewTensorDesc([NumDims]int{2, 3, 8, 6, 4}, packedStrides([NumDims]int{2, 3, 8, 6, 4}))
	require.NoError(t, err)
	w, err := NewFilterDesc(5, 3, 3, 3, 1)
	require.NoError(t, err)
	conv, err := NewConvDesc([SpatialDims]int{1, 0, 0}, [SpatialDims]int{1, 1, 1}, [SpatialDims]int{1, 1, 1}, CrossCorrelation)
	require.NoError(t, err)

	out, err := ForwardOutputShape(x, w, conv)
	require.NoError(t, err)
	assert.Equal(t, [NumDims]int{2, 5, 8, 4, 4}, out)
}

func TestForwardOutputShapeErrors(t *testing.T) {
	dims := [NumDims]int{1, 2, 4, 4, 4}
	x, err := NewTensorDesc(dims, packedStrides(dims))
	require.NoError(t, err)
	unit := [SpatialDims]int{1, 1, 1}
	conv, err := NewConvDesc([SpatialDims]int{0, 0, 0}, unit, unit, CrossCorrelation)
	require.NoError(t, err)

	// Channel mismatch.
	w, err := NewFilterDesc(3, 5, 2, 2, 2)
	require.NoError(t, err)
	_, err = ForwardOutputShape(x, w, conv)
	assert.Error(t, err)

	// Kernel larger than the padded input.
	w, err = NewFilterDesc(3, 2, 5, 2, 2)
	require.NoError(t, err)
	_, err = ForwardOutputShape(x, w, conv)
	assert.Error(t, err)
}

func TestDescriptorValidation(t *testing.T) {
	good := [NumDims]int{1, 1, 1, 1, 1}

	_, err := NewTensorDesc([NumDims]int{0, 1, 1, 1, 1}, good)
	assert.Error(t, err)
	_, err = NewTensorDesc(good, [NumDims]int{1, 1, 0, 1, 1})
	assert.Error(t, err)

	_, err = NewFilterDesc(1, 0, 1, 1, 1)
	assert.Error(t, err)

	unit := [SpatialDims]int{1, 1, 1}
	_, err = NewConvDesc([SpatialDims]int{-1, 0, 0}, unit, unit, CrossCorrelation)
	assert.Error(t, err)
	_, err = NewConvDesc([SpatialDims]int{0, 0, 0}, [SpatialDims]int{0, 1, 1}, unit, CrossCorrelation)
	assert.Error(t, err)
	_, err = NewConvDesc([SpatialDims]int{0, 0, 0}, unit, [SpatialDims]int{1, 1, 0}, CrossCorrelation)
	assert.Error(t, err)
	_, err = NewConvDesc([SpatialDims]int{0, 0, 0}, unit, unit, ConvMode(7))
	assert.Error(t, err)
}

func TestTensorDescStorage(t *testing.T) {
	dims := [NumDims]int{2, 3, 4, 5, 6}
	packed, err := NewTensorDesc(dims, packedStrides(dims))
	require.NoError(t, err)
	assert.Equal(t, 2*3*4*5*6, packed.NumElements())
	assert.Equal(t, 2*3*4*5*6, packed.MinStorage())

	// A channel-last view of the same logical shape addresses the same
	// number of elements but with different strides.
	cl, err := NewTensorDesc(dims, [NumDims]int{360, 1, 90, 18, 3})
	require.NoError(t, err)
	assert.Equal(t, packed.NumElements(), cl.NumElements())
	assert.Equal(t, packed.MinStorage(), cl.MinStorage())
}

// packedStrides returns fully packed [N, C, X, Y, Z] strides for dims.
func packedStrides(dims [NumDims]int) [NumDims]int {
	var s [NumDims]int
	s[NumDims-1] = 1
	for i := NumDims - 2; i >= 0; i-- {
		s[i] = s[i+1] * dims[i+1]
	}
	return s
}
