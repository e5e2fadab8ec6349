package dnn

import "fmt"

// TensorDesc describes the logical shape and memory layout of a 5-D
// tensor [N, C, X, Y, Z]. The element at logical index (n, c, x, y, z)
// lives at offset n*s[0] + c*s[1] + x*s[2] + y*s[3] + z*s[4] in the
// backing slice.
type TensorDesc struct {
	dims    [NumDims]int
	strides [NumDims]int
}

// NewTensorDesc builds a tensor descriptor. Every dim must be at least 1
// and every stride positive.
func NewTensorDesc(dims, strides [NumDims]int) (TensorDesc, error) {
	for i, d := range dims {
		if d < 1 {
			return TensorDesc{}, fmt.Errorf("dnn: tensor dim %d is %d, want >= 1", i, d)
		}
	}
	for i, s := range strides {
		if s < 1 {
			return TensorDesc{}, fmt.Errorf("dnn: tensor stride %d is %d, want >= 1", i, s)
		}
	}
	return TensorDesc{dims: dims, strides: strides}, nil
}

// Dims returns the logical extents [N, C, X, Y, Z].
func (d TensorDesc) Dims() [NumDims]int { return d.dims }

// Strides returns the per-axis memory strides.
func (d TensorDesc) Strides() [NumDims]int { return d.strides }

// Batch returns the batch extent N.
func (d TensorDesc) Batch() int { return d.dims[0] }

// Channels returns the channel extent C.
func (d TensorDesc) Channels() int { return d.dims[1] }

// Spatial returns the spatial extents [X, Y, Z].
func (d TensorDesc) Spatial() [SpatialDims]int {
	return [SpatialDims]int{d.dims[2], d.dims[3], d.dims[4]}
}

// NumElements returns the number of logical elements.
func (d TensorDesc) NumElements() int {
	n := 1
	for _, v := range d.dims {
		n *= v
	}
	return n
}

// MinStorage returns the minimum backing-slice length that holds every
// addressable element.
func (d TensorDesc) MinStorage() int {
	n := 1
	for i := range d.dims {
		n += (d.dims[i] - 1) * d.strides[i]
	}
	return n
}

// Clone returns a copy of the descriptor.
func (d TensorDesc) Clone() TensorDesc { return d }

// FilterDesc describes a convolution filter bank
// [outputChannels, inputChannels, kX, kY, kZ], always fully packed in that
// order regardless of how activations are laid out.
type FilterDesc struct {
	dims [NumDims]int
}

// NewFilterDesc builds a filter descriptor. Every extent must be at
// least 1.
func NewFilterDesc(outChannels, inChannels, kx, ky, kz int) (FilterDesc, error) {
	dims := [NumDims]int{outChannels, inChannels, kx, ky, kz}
	for i, d := range dims {
		if d < 1 {
			return FilterDesc{}, fmt.Errorf("dnn: filter dim %d is %d, want >= 1", i, d)
		}
	}
	return FilterDesc{dims: dims}, nil
}

// Dims returns [outputChannels, inputChannels, kX, kY, kZ].
func (d FilterDesc) Dims() [NumDims]int { return d.dims }

// OutputChannels returns the number of filters.
func (d FilterDesc) OutputChannels() int { return d.dims[0] }

// InputChannels returns the channel count each filter consumes.
func (d FilterDesc) InputChannels() int { return d.dims[1] }

// Kernel returns the kernel extents [kX, kY, kZ].
func (d FilterDesc) Kernel() [SpatialDims]int {
	return [SpatialDims]int{d.dims[2], d.dims[3], d.dims[4]}
}

// NumElements returns the number of weights in the bank.
func (d FilterDesc) NumElements() int {
	n := 1
	for _, v := range d.dims {
		n *= v
	}
	return n
}

// Clone returns a copy of the descriptor.
func (d FilterDesc) Clone() FilterDesc { return d }

// ConvMode selects whether the kernel is applied flipped.
type ConvMode int

const (
	// CrossCorrelation applies the kernel as stored, with no flipping.
	// This is the mode every component here uses.
	CrossCorrelation ConvMode = iota
	// Convolution flips the kernel along each spatial axis.
	Convolution
)

// ConvDesc describes a convolution: per-axis padding, stride and dilation,
// plus the correlation mode.
type ConvDesc struct {
	pad      [SpatialDims]int
	stride   [SpatialDims]int
	dilation [SpatialDims]int
	mode     ConvMode
}

// NewConvDesc builds a convolution descriptor. Padding must be
// non-negative; stride and dilation at least 1.
func NewConvDesc(pad, stride, dilation [SpatialDims]int, mode ConvMode) (ConvDesc, error) {
	for i := 0; i < SpatialDims; i++ {
		if pad[i] < 0 {
			return ConvDesc{}, fmt.Errorf("dnn: pad %d is %d, want >= 0", i, pad[i])
		}
		if stride[i] < 1 {
			return ConvDesc{}, fmt.Errorf("dnn: stride %d is %d, want >= 1", i, stride[i])
		}
		if dilation[i] < 1 {
			return ConvDesc{}, fmt.Errorf("dnn: dilation %d is %d, want >= 1", i, dilation[i])
		}
	}
	if mode != CrossCorrelation && mode != Convolution {
		return ConvDesc{}, fmt.Errorf("dnn: unknown convolution mode %d", mode)
	}
	return ConvDesc{pad: pad, stride: stride, dilation: dilation, mode: mode}, nil
}

// Pad returns the per-axis padding.
func (d ConvDesc) Pad() [SpatialDims]int { return d.pad }

// Stride returns the per-axis stride.
func (d ConvDesc) Stride() [SpatialDims]int { return d.stride }

// Dilation returns the per-axis dilation.
func (d ConvDesc) Dilation() [SpatialDims]int { return d.dilation }

// Mode returns the correlation mode.
func (d ConvDesc) Mode() ConvMode { return d.mode }

// Clone returns a copy of the descriptor.
func (d ConvDesc) Clone() ConvDesc { return d }
