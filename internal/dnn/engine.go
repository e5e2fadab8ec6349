package dnn

// FwdAlgo selects the implementation of ConvolutionForward.
type FwdAlgo int

const (
	// FwdAlgoImplicitGemm accumulates directly from the strided input and
	// needs no workspace. The safe default.
	FwdAlgoImplicitGemm FwdAlgo = iota
	// FwdAlgoGemm lowers input patches into a workspace matrix and runs
	// one large matrix multiply.
	FwdAlgoGemm
)

// BwdDataAlgo selects the implementation of ConvolutionBackwardData.
type BwdDataAlgo int

const (
	// BwdDataAlgo0 gathers input gradients directly and needs no
	// workspace. The safe default.
	BwdDataAlgo0 BwdDataAlgo = iota
	// BwdDataAlgo1 multiplies into a workspace column matrix, then
	// scatters it back to the input layout.
	BwdDataAlgo1
)

// BwdFilterAlgo selects the implementation of ConvolutionBackwardFilter.
type BwdFilterAlgo int

const (
	// BwdFilterAlgo0 accumulates filter gradients directly and needs no
	// workspace. The safe default.
	BwdFilterAlgo0 BwdFilterAlgo = iota
	// BwdFilterAlgo1 lowers input patches into a workspace matrix and
	// reduces with one matrix multiply.
	BwdFilterAlgo1
)

// Workspace is engine-owned scratch memory for a convolution call.
type Workspace interface {
	// Bytes returns the usable size of the allocation.
	Bytes() int
	// Release frees the allocation. Releasing more than once is a no-op.
	Release()
}

// Engine executes the convolution primitives on some device.
//
// Data arguments are host float32 slices addressed through the matching
// descriptor's strides. Every compute call follows the alpha/beta
// accumulate convention: dst = alpha*op(...) + beta*dst, so beta 0
// overwrites and beta 1 accumulates.
//
// Engines are safe for concurrent use across distinct workspaces; calls
// sharing one workspace must be serialized by the caller.
type Engine interface {
	// Name identifies the engine, e.g. "cpu".
	Name() string

	// ConvolutionForwardWorkspaceSize returns the scratch bytes
	// ConvolutionForward needs for these descriptors and algorithm.
	ConvolutionForwardWorkspaceSize(x TensorDesc, w FilterDesc, conv ConvDesc, y TensorDesc, algo FwdAlgo) (int, error)

	// ConvolutionBackwardDataWorkspaceSize returns the scratch bytes
	// ConvolutionBackwardData needs for these descriptors and algorithm.
	ConvolutionBackwardDataWorkspaceSize(w FilterDesc, dy TensorDesc, conv ConvDesc, dx TensorDesc, algo BwdDataAlgo) (int, error)

	// ConvolutionBackwardFilterWorkspaceSize returns the scratch bytes
	// ConvolutionBackwardFilter needs for these descriptors and algorithm.
	ConvolutionBackwardFilterWorkspaceSize(x TensorDesc, dy TensorDesc, conv ConvDesc, w FilterDesc, algo BwdFilterAlgo) (int, error)

	// AllocWorkspace allocates scratch for the convolution calls. A zero
	// size yields a workspace whose Release is a no-op.
	AllocWorkspace(bytes int) (Workspace, error)

	// ConvolutionForward computes y = alpha*conv(x, w) + beta*y.
	ConvolutionForward(alpha float32, x TensorDesc, xData []float32, w FilterDesc, wData []float32,
		conv ConvDesc, algo FwdAlgo, ws Workspace, beta float32, y TensorDesc, yData []float32) error

	// ConvolutionBackwardData computes dx = alpha*corr(w, dy) + beta*dx,
	// the gradient of the forward pass with respect to its input.
	ConvolutionBackwardData(alpha float32, w FilterDesc, wData []float32, dy TensorDesc, dyData []float32,
		conv ConvDesc, algo BwdDataAlgo, ws Workspace, beta float32, dx TensorDesc, dxData []float32) error

	// ConvolutionBackwardFilter computes dw = alpha*grad_w(x, dy) + beta*dw,
	// the gradient of the forward pass with respect to the filter bank.
	ConvolutionBackwardFilter(alpha float32, x TensorDesc, xData []float32, dy TensorDesc, dyData []float32,
		conv ConvDesc, algo BwdFilterAlgo, ws Workspace, beta float32, w FilterDesc, dwData []float32) error

	// ConvolutionBackwardBias computes db = alpha*sum(dy) + beta*db,
	// summing dy over the batch and spatial axes per channel. db is
	// described as a [1, C, 1, 1, 1] tensor.
	ConvolutionBackwardBias(alpha float32, dy TensorDesc, dyData []float32,
		beta float32, db TensorDesc, dbData []float32) error

	// AddTensor computes y = alpha*broadcast(b) + beta*y, expanding
	// size-1 axes of b across y.
	AddTensor(alpha float32, b TensorDesc, bData []float32, beta float32, y TensorDesc, yData []float32) error

	// TransformTensor computes y = alpha*x + beta*y elementwise over
	// logical indices. x and y must have identical dims; their strides
	// may differ, which is how tensors move between layouts.
	TransformTensor(alpha float32, x TensorDesc, xData []float32, beta float32, y TensorDesc, yData []float32) error
}
