package nnet3

import (
	"fmt"

	"github.com/anandmoghan/kaldi/internal/dnn"
)

// TensorVectorization selects the memory order of activation tensors
// handed to the convolution engine. It governs inputs and output
// derivatives only; the filter bank keeps its own fixed layout.
type TensorVectorization int32

const (
	// VectorizeZyx stores each example as [channel][x][y][z], z fastest.
	// This is the fully packed N,C,X,Y,Z layout.
	VectorizeZyx TensorVectorization = 0
	// VectorizeYzx stores each example as [channel][x][z][y], y fastest.
	VectorizeYzx TensorVectorization = 1
)

func (v TensorVectorization) String() string {
	switch v {
	case VectorizeZyx:
		return "zyx"
	case VectorizeYzx:
		return "yzx"
	default:
		return fmt.Sprintf("TensorVectorization(%d)", int32(v))
	}
}

// ParseVectorization maps a configuration string to its order.
func ParseVectorization(s string) (TensorVectorization, error) {
	switch s {
	case "zyx":
		return VectorizeZyx, nil
	case "yzx":
		return VectorizeYzx, nil
	default:
		return 0, fmt.Errorf("nnet3: unknown input-vectorization-order %q, expected \"zyx\" or \"yzx\"", s)
	}
}

// stridesNCXYZ returns strides for a fully packed [N, C, X, Y, Z]
// tensor. This is the zyx activation layout, and also the packed layout
// the backward kernels require for output derivatives.
func stridesNCXYZ(dims [dnn.NumDims]int) [dnn.NumDims]int {
	c, x, y, z := dims[1], dims[2], dims[3], dims[4]
	return [dnn.NumDims]int{c * x * y * z, x * y * z, y * z, z, 1}
}

// stridesNCXZY returns strides for the yzx activation layout, which
// swaps the nesting of the y and z axes relative to zyx.
func stridesNCXZY(dims [dnn.NumDims]int) [dnn.NumDims]int {
	c, x, y, z := dims[1], dims[2], dims[3], dims[4]
	return [dnn.NumDims]int{c * x * y * z, x * y * z, y * z, 1, y}
}

// stridesNXYZC returns strides for the channel-innermost layout the
// engine emits convolution results in, whatever the activation order.
func stridesNXYZC(dims [dnn.NumDims]int) [dnn.NumDims]int {
	c, x, y, z := dims[1], dims[2], dims[3], dims[4]
	return [dnn.NumDims]int{c * x * y * z, 1, c * y * z, c * z, c}
}

// inputStrides returns the activation strides for dims under the given
// vectorization order. An order outside the two supported values is a
// programming error, not a recoverable condition.
func inputStrides(order TensorVectorization, dims [dnn.NumDims]int) [dnn.NumDims]int {
	switch order {
	case VectorizeZyx:
		return stridesNCXYZ(dims)
	case VectorizeYzx:
		return stridesNCXZY(dims)
	default:
		panic(fmt.Sprintf("nnet3: unsupported vectorization order %d", order))
	}
}

// outputStrides returns the engine output strides for dims.
func outputStrides(dims [dnn.NumDims]int) [dnn.NumDims]int {
	return stridesNXYZC(dims)
}
