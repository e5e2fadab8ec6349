// Package cpu implements the convolution engine on the host CPU with BLAS
// integration.
//
// The zero-workspace algorithms walk the strided tensors directly. The
// GEMM-family algorithms lower input patches into a caller-provided
// workspace and reduce with one large matrix multiply per batch item.
package cpu

import (
	"fmt"

	"github.com/anandmoghan/kaldi/internal/dnn"
	"github.com/anandmoghan/kaldi/internal/parallel"
)

// Engine implements dnn.Engine on the host CPU. The direct algorithms
// split their outer loops across goroutines; the zero value runs them
// inline.
type Engine struct {
	par parallel.Config
}

// New creates a CPU engine with the worker pool sized to the machine.
func New() *Engine {
	return &Engine{par: parallel.Default()}
}

// Name returns the engine name.
func (e *Engine) Name() string {
	return "CPU"
}

// workspace is host scratch memory.
type workspace struct {
	buf []float32
}

// Bytes returns the usable size of the allocation.
func (w *workspace) Bytes() int {
	return len(w.buf) * 4
}

// Release frees the allocation. Releasing more than once is a no-op.
func (w *workspace) Release() {
	w.buf = nil
}

// AllocWorkspace allocates scratch for the convolution calls.
func (e *Engine) AllocWorkspace(bytes int) (dnn.Workspace, error) {
	if bytes < 0 {
		return nil, fmt.Errorf("cpu: negative workspace size %d", bytes)
	}
	return &workspace{buf: make([]float32, (bytes+3)/4)}, nil
}

// wsFloats returns a float view of ws with room for need floats. A nil ws
// is acceptable when need is zero.
func wsFloats(ws dnn.Workspace, need int) ([]float32, error) {
	if need == 0 {
		return nil, nil
	}
	if ws == nil {
		return nil, fmt.Errorf("cpu: workspace required (%d bytes) but none given", need*4)
	}
	w, ok := ws.(*workspace)
	if !ok {
		return nil, fmt.Errorf("cpu: workspace was not allocated by this engine")
	}
	if len(w.buf) < need {
		return nil, fmt.Errorf("cpu: workspace too small: need %d bytes, have %d", need*4, w.Bytes())
	}
	return w.buf[:need], nil
}

// ConvolutionForwardWorkspaceSize returns the scratch bytes
// ConvolutionForward needs.
func (e *Engine) ConvolutionForwardWorkspaceSize(x dnn.TensorDesc, w dnn.FilterDesc, conv dnn.ConvDesc, y dnn.TensorDesc, algo dnn.FwdAlgo) (int, error) {
	if err := checkForwardShapes(x, w, conv, y); err != nil {
		return 0, err
	}
	switch algo {
	case dnn.FwdAlgoImplicitGemm:
		return 0, nil
	case dnn.FwdAlgoGemm:
		r, m := loweredDims(w, y)
		return (r*m + w.OutputChannels()*m) * 4, nil
	default:
		return 0, fmt.Errorf("cpu: unsupported forward algorithm %d", algo)
	}
}

// ConvolutionBackwardDataWorkspaceSize returns the scratch bytes
// ConvolutionBackwardData needs.
func (e *Engine) ConvolutionBackwardDataWorkspaceSize(w dnn.FilterDesc, dy dnn.TensorDesc, conv dnn.ConvDesc, dx dnn.TensorDesc, algo dnn.BwdDataAlgo) (int, error) {
	if err := checkForwardShapes(dx, w, conv, dy); err != nil {
		return 0, err
	}
	switch algo {
	case dnn.BwdDataAlgo0:
		return 0, nil
	case dnn.BwdDataAlgo1:
		r, m := loweredDims(w, dy)
		return (r*m + w.OutputChannels()*m) * 4, nil
	default:
		return 0, fmt.Errorf("cpu: unsupported backward-data algorithm %d", algo)
	}
}

// ConvolutionBackwardFilterWorkspaceSize returns the scratch bytes
// ConvolutionBackwardFilter needs.
func (e *Engine) ConvolutionBackwardFilterWorkspaceSize(x dnn.TensorDesc, dy dnn.TensorDesc, conv dnn.ConvDesc, w dnn.FilterDesc, algo dnn.BwdFilterAlgo) (int, error) {
	if err := checkForwardShapes(x, w, conv, dy); err != nil {
		return 0, err
	}
	switch algo {
	case dnn.BwdFilterAlgo0:
		return 0, nil
	case dnn.BwdFilterAlgo1:
		r, m := loweredDims(w, dy)
		return (r*m + w.OutputChannels()*m) * 4, nil
	default:
		return 0, fmt.Errorf("cpu: unsupported backward-filter algorithm %d", algo)
	}
}

// loweredDims returns the lowered-matrix dimensions for the GEMM-family
// algorithms: r rows of input patches and m output positions per batch
// item.
func loweredDims(w dnn.FilterDesc, y dnn.TensorDesc) (r, m int) {
	kernel := w.Kernel()
	r = w.InputChannels() * kernel[0] * kernel[1] * kernel[2]
	spatial := y.Spatial()
	m = spatial[0] * spatial[1] * spatial[2]
	return r, m
}

// checkForwardShapes validates that y matches the convolution of x with w.
// The backward passes reuse it with the roles renamed: dx plays x and dy
// plays y.
func checkForwardShapes(x dnn.TensorDesc, w dnn.FilterDesc, conv dnn.ConvDesc, y dnn.TensorDesc) error {
	want, err := dnn.ForwardOutputShape(x, w, conv)
	if err != nil {
		return err
	}
	if y.Dims() != want {
		return fmt.Errorf("cpu: output descriptor %v does not match convolution result %v", y.Dims(), want)
	}
	return nil
}

// checkStorage validates that data can back every element desc addresses.
func checkStorage(name string, desc dnn.TensorDesc, data []float32) error {
	if len(data) < desc.MinStorage() {
		return fmt.Errorf("cpu: %s storage has %d floats, descriptor needs %d", name, len(data), desc.MinStorage())
	}
	return nil
}

// offset5 returns the storage offset of logical index (n, c, x, y, z).
func offset5(s [dnn.NumDims]int, n, c, x, y, z int) int {
	return n*s[0] + c*s[1] + x*s[2] + y*s[3] + z*s[4]
}

// effKernel returns the kernel tap used for input indexing: the tap
// itself for cross-correlation, the flipped tap for convolution proper.
func effKernel(mode dnn.ConvMode, k, extent int) int {
	if mode == dnn.Convolution {
		return extent - 1 - k
	}
	return k
}
