package cpu

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/anandmoghan/kaldi/internal/dnn"
)

// ConvolutionForward computes y = alpha*conv(x, w) + beta*y.
func (e *Engine) ConvolutionForward(alpha float32, x dnn.TensorDesc, xData []float32, w dnn.FilterDesc, wData []float32,
	conv dnn.ConvDesc, algo dnn.FwdAlgo, ws dnn.Workspace, beta float32, y dnn.TensorDesc, yData []float32) error {
	if err := checkForwardShapes(x, w, conv, y); err != nil {
		return err
	}
	if err := checkStorage("input", x, xData); err != nil {
		return err
	}
	if err := checkStorage("output", y, yData); err != nil {
		return err
	}
	if len(wData) < w.NumElements() {
		return fmt.Errorf("cpu: filter storage has %d floats, descriptor needs %d", len(wData), w.NumElements())
	}

	switch algo {
	case dnn.FwdAlgoImplicitGemm:
		e.forwardDirect(alpha, x, xData, w, wData, conv, beta, y, yData)
		return nil
	case dnn.FwdAlgoGemm:
		r, m := loweredDims(w, y)
		buf, err := wsFloats(ws, r*m+w.OutputChannels()*m)
		if err != nil {
			return err
		}
		forwardGemm(alpha, x, xData, w, wData, conv, beta, y, yData, buf[:r*m], buf[r*m:])
		return nil
	default:
		return fmt.Errorf("cpu: unsupported forward algorithm %d", algo)
	}
}

// forwardDirect runs the convolution as strided loops. Distinct (n, k)
// pairs own disjoint output cells, so the outer loops run concurrently.
func (e *Engine) forwardDirect(alpha float32, x dnn.TensorDesc, xData []float32, w dnn.FilterDesc, wData []float32,
	conv dnn.ConvDesc, beta float32, y dnn.TensorDesc, yData []float32) {
	xd, yd := x.Dims(), y.Dims()
	xs, ys := x.Strides(), y.Strides()
	kernel, pad, stride, dil := w.Kernel(), conv.Pad(), conv.Stride(), conv.Dilation()
	mode := conv.Mode()
	inC := w.InputChannels()

	e.par.ForPair(yd[0], yd[1], func(n, k int) {
		for ox := 0; ox < yd[2]; ox++ {
			for oy := 0; oy < yd[3]; oy++ {
				for oz := 0; oz < yd[4]; oz++ {
					var sum float32
					for c := 0; c < inC; c++ {
						for kx := 0; kx < kernel[0]; kx++ {
							ix := ox*stride[0] - pad[0] + effKernel(mode, kx, kernel[0])*dil[0]
							if ix < 0 || ix >= xd[2] {
								continue
							}
							for ky := 0; ky < kernel[1]; ky++ {
								iy := oy*stride[1] - pad[1] + effKernel(mode, ky, kernel[1])*dil[1]
								if iy < 0 || iy >= xd[3] {
									continue
								}
								for kz := 0; kz < kernel[2]; kz++ {
									iz := oz*stride[2] - pad[2] + effKernel(mode, kz, kernel[2])*dil[2]
									if iz < 0 || iz >= xd[4] {
										continue
									}
									wOff := (((k*inC+c)*kernel[0]+kx)*kernel[1]+ky)*kernel[2] + kz
									sum += xData[offset5(xs, n, c, ix, iy, iz)] * wData[wOff]
								}
							}
						}
					}
					yOff := offset5(ys, n, k, ox, oy, oz)
					if beta == 0 {
						yData[yOff] = alpha * sum
					} else {
						yData[yOff] = alpha*sum + beta*yData[yOff]
					}
				}
			}
		}
	})
}

// im2col lowers the patches of batch item n into col, an r x m row-major
// matrix: row ((c*kX + kx)*kY + ky)*kZ + kz holds the input value each
// output position (column (ox*outY + oy)*outZ + oz) reads through that
// kernel tap, with zeros where the tap falls into padding.
func im2col(n int, x dnn.TensorDesc, xData []float32, w dnn.FilterDesc, conv dnn.ConvDesc, y dnn.TensorDesc, col []float32) {
	xd, yd := x.Dims(), y.Dims()
	xs := x.Strides()
	kernel, pad, stride, dil := w.Kernel(), conv.Pad(), conv.Stride(), conv.Dilation()
	mode := conv.Mode()
	m := yd[2] * yd[3] * yd[4]

	row := 0
	for c := 0; c < w.InputChannels(); c++ {
		for kx := 0; kx < kernel[0]; kx++ {
			ekx := effKernel(mode, kx, kernel[0])
			for ky := 0; ky < kernel[1]; ky++ {
				eky := effKernel(mode, ky, kernel[1])
				for kz := 0; kz < kernel[2]; kz++ {
					ekz := effKernel(mode, kz, kernel[2])
					out := col[row*m : (row+1)*m]
					pos := 0
					for ox := 0; ox < yd[2]; ox++ {
						ix := ox*stride[0] - pad[0] + ekx*dil[0]
						for oy := 0; oy < yd[3]; oy++ {
							iy := oy*stride[1] - pad[1] + eky*dil[1]
							for oz := 0; oz < yd[4]; oz++ {
								iz := oz*stride[2] - pad[2] + ekz*dil[2]
								if ix < 0 || ix >= xd[2] || iy < 0 || iy >= xd[3] || iz < 0 || iz >= xd[4] {
									out[pos] = 0
								} else {
									out[pos] = xData[offset5(xs, n, c, ix, iy, iz)]
								}
								pos++
							}
						}
					}
					row++
				}
			}
		}
	}
}

func forwardGemm(alpha float32, x dnn.TensorDesc, xData []float32, w dnn.FilterDesc, wData []float32,
	conv dnn.ConvDesc, beta float32, y dnn.TensorDesc, yData []float32, col, out []float32) {
	yd := y.Dims()
	ys := y.Strides()
	k := w.OutputChannels()
	r, m := loweredDims(w, y)

	a := blas32.General{Rows: k, Cols: r, Stride: r, Data: wData}
	b := blas32.General{Rows: r, Cols: m, Stride: m, Data: col}
	c := blas32.General{Rows: k, Cols: m, Stride: m, Data: out}

	for n := 0; n < yd[0]; n++ {
		im2col(n, x, xData, w, conv, y, col)
		blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, a, b, 0, c)
		for kc := 0; kc < k; kc++ {
			pos := 0
			for ox := 0; ox < yd[2]; ox++ {
				for oy := 0; oy < yd[3]; oy++ {
					for oz := 0; oz < yd[4]; oz++ {
						v := out[kc*m+pos]
						pos++
						yOff := offset5(ys, n, kc, ox, oy, oz)
						if beta == 0 {
							yData[yOff] = alpha * v
						} else {
							yData[yOff] = alpha*v + beta*yData[yOff]
						}
					}
				}
			}
		}
	}
}
