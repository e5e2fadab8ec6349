// Package dnn has the descriptor types and engine interface for wrapping
// accelerated deep-neural-network primitives, e.g. N-dimensional
// convolution.
//
// A compute engine (see Engine) executes the primitives; descriptors carry
// the shape, memory layout and operation parameters. Descriptors are plain
// values with validating constructors, so building, cloning and dropping
// them cannot leak or desynchronize engine-side state.
//
// All tensors are rank 5: batch, channels and three spatial axes, in
// logical order [N, C, X, Y, Z]. Memory layout is given by explicit
// per-axis strides, so one logical tensor can be viewed in any of the
// packings the engines understand.
package dnn

import "fmt"

const (
	// NumDims is the rank of every tensor descriptor: batch, channels and
	// three spatial axes.
	NumDims = 5
	// SpatialDims is the number of spatial axes.
	SpatialDims = 3
)

// ForwardOutputDim returns the convolution output extent along one axis.
func ForwardOutputDim(in, kernel, pad, stride, dilation int) int {
	return 1 + (in+2*pad-((kernel-1)*dilation+1))/stride
}

// ForwardOutputShape returns the output dims [N, K, outX, outY, outZ] of
// convolving x with w under conv. The channel counts of x and w must
// agree, and every output extent must be positive.
func ForwardOutputShape(x TensorDesc, w FilterDesc, conv ConvDesc) ([NumDims]int, error) {
	if x.Channels() != w.InputChannels() {
		return [NumDims]int{}, fmt.Errorf("dnn: input has %d channels, filter wants %d",
			x.Channels(), w.InputChannels())
	}
	out := [NumDims]int{x.Batch(), w.OutputChannels()}
	kernel := w.Kernel()
	pad, stride, dilation := conv.Pad(), conv.Stride(), conv.Dilation()
	for i := 0; i < SpatialDims; i++ {
		ext := ForwardOutputDim(x.dims[2+i], kernel[i], pad[i], stride[i], dilation[i])
		if ext <= 0 {
			return [NumDims]int{}, fmt.Errorf("dnn: non-positive output extent %d on spatial axis %d (input %d, kernel %d, pad %d, stride %d, dilation %d)",
				ext, i, x.dims[2+i], kernel[i], pad[i], stride[i], dilation[i])
		}
		out[2+i] = ext
	}
	return out, nil
}
