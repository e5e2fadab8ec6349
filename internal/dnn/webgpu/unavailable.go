//go:build !windows

// Package webgpu provides the GPU convolution engine. On platforms without
// the wgpu_native runtime the engine reports itself unavailable and every
// operation fails.
package webgpu

import (
	"errors"

	"github.com/anandmoghan/kaldi/internal/dnn"
)

// ErrUnavailable is returned on platforms without WebGPU support.
var ErrUnavailable = errors.New("webgpu: not available on this platform")

// Engine is a placeholder that satisfies the engine interface so callers can
// compile everywhere and fall back at runtime.
type Engine struct{}

var _ dnn.Engine = (*Engine)(nil)

// New always fails on this platform.
func New() (*Engine, error) {
	return nil, ErrUnavailable
}

// IsAvailable reports whether WebGPU can be used; always false here.
func IsAvailable() bool {
	return false
}

// Name returns the engine name.
func (e *Engine) Name() string {
	return "WebGPU (unavailable)"
}

// Release is a no-op.
func (e *Engine) Release() {}

func (e *Engine) ConvolutionForwardWorkspaceSize(x dnn.TensorDesc, w dnn.FilterDesc, conv dnn.ConvDesc, y dnn.TensorDesc, algo dnn.FwdAlgo) (int, error) {
	return 0, ErrUnavailable
}

func (e *Engine) ConvolutionBackwardDataWorkspaceSize(w dnn.FilterDesc, dy dnn.TensorDesc, conv dnn.ConvDesc, dx dnn.TensorDesc, algo dnn.BwdDataAlgo) (int, error) {
	return 0, ErrUnavailable
}

func (e *Engine) ConvolutionBackwardFilterWorkspaceSize(x dnn.TensorDesc, dy dnn.TensorDesc, conv dnn.ConvDesc, w dnn.FilterDesc, algo dnn.BwdFilterAlgo) (int, error) {
	return 0, ErrUnavailable
}

func (e *Engine) AllocWorkspace(bytes int) (dnn.Workspace, error) {
	return nil, ErrUnavailable
}

func (e *Engine) ConvolutionForward(alpha float32, x dnn.TensorDesc, xData []float32, w dnn.FilterDesc, wData []float32,
	conv dnn.ConvDesc, algo dnn.FwdAlgo, ws dnn.Workspace, beta float32, y dnn.TensorDesc, yData []float32) error {
	return ErrUnavailable
}

func (e *Engine) ConvolutionBackwardData(alpha float32, w dnn.FilterDesc, wData []float32, dy dnn.TensorDesc, dyData []float32,
	conv dnn.ConvDesc, algo dnn.BwdDataAlgo, ws dnn.Workspace, beta float32, dx dnn.TensorDesc, dxData []float32) error {
	return ErrUnavailable
}

func (e *Engine) ConvolutionBackwardFilter(alpha float32, x dnn.TensorDesc, xData []float32, dy dnn.TensorDesc, dyData []float32,
	conv dnn.ConvDesc, algo dnn.BwdFilterAlgo, ws dnn.Workspace, beta float32, w dnn.FilterDesc, dwData []float32) error {
	return ErrUnavailable
}

func (e *Engine) ConvolutionBackwardBias(alpha float32, dy dnn.TensorDesc, dyData []float32,
	beta float32, db dnn.TensorDesc, dbData []float32) error {
	return ErrUnavailable
}

func (e *Engine) AddTensor(alpha float32, b dnn.TensorDesc, bData []float32, beta float32, y dnn.TensorDesc, yData []float32) error {
	return ErrUnavailable
}

func (e *Engine) TransformTensor(alpha float32, x dnn.TensorDesc, xData []float32, beta float32, y dnn.TensorDesc, yData []float32) error {
	return ErrUnavailable
}
