package cpu

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/anandmoghan/kaldi/internal/dnn"
)

// ConvolutionBackwardData computes dx = alpha*conv_bwd_data(w, dy) + beta*dx.
func (e *Engine) ConvolutionBackwardData(alpha float32, w dnn.FilterDesc, wData []float32, dy dnn.TensorDesc, dyData []float32,
	conv dnn.ConvDesc, algo dnn.BwdDataAlgo, ws dnn.Workspace, beta float32, dx dnn.TensorDesc, dxData []float32) error {
	if err := checkForwardShapes(dx, w, conv, dy); err != nil {
		return err
	}
	if err := checkStorage("output gradient", dy, dyData); err != nil {
		return err
	}
	if err := checkStorage("input gradient", dx, dxData); err != nil {
		return err
	}
	if len(wData) < w.NumElements() {
		return fmt.Errorf("cpu: filter storage has %d floats, descriptor needs %d", len(wData), w.NumElements())
	}

	switch algo {
	case dnn.BwdDataAlgo0:
		e.backwardDataDirect(alpha, w, wData, dy, dyData, conv, beta, dx, dxData)
		return nil
	case dnn.BwdDataAlgo1:
		r, m := loweredDims(w, dy)
		buf, err := wsFloats(ws, r*m+w.OutputChannels()*m)
		if err != nil {
			return err
		}
		backwardDataGemm(alpha, w, wData, dy, dyData, conv, beta, dx, dxData, buf[:r*m], buf[r*m:])
		return nil
	default:
		return fmt.Errorf("cpu: unsupported backward data algorithm %d", algo)
	}
}

// backwardDataDirect scatters the output gradient back through the
// filter. Distinct (n, c) pairs own disjoint dx cells.
func (e *Engine) backwardDataDirect(alpha float32, w dnn.FilterDesc, wData []float32, dy dnn.TensorDesc, dyData []float32,
	conv dnn.ConvDesc, beta float32, dx dnn.TensorDesc, dxData []float32) {
	xd, yd := dx.Dims(), dy.Dims()
	xs, ys := dx.Strides(), dy.Strides()
	kernel, pad, stride, dil := w.Kernel(), conv.Pad(), conv.Stride(), conv.Dilation()
	mode := conv.Mode()
	outC := w.OutputChannels()
	inC := w.InputChannels()

	e.par.ForPair(xd[0], xd[1], func(n, c int) {
		for ix := 0; ix < xd[2]; ix++ {
			for iy := 0; iy < xd[3]; iy++ {
				for iz := 0; iz < xd[4]; iz++ {
					var sum float32
					for k := 0; k < outC; k++ {
						for kx := 0; kx < kernel[0]; kx++ {
							tx := ix + pad[0] - effKernel(mode, kx, kernel[0])*dil[0]
							if tx < 0 || tx%stride[0] != 0 || tx/stride[0] >= yd[2] {
								continue
							}
							for ky := 0; ky < kernel[1]; ky++ {
								ty := iy + pad[1] - effKernel(mode, ky, kernel[1])*dil[1]
								if ty < 0 || ty%stride[1] != 0 || ty/stride[1] >= yd[3] {
									continue
								}
								for kz := 0; kz < kernel[2]; kz++ {
									tz := iz + pad[2] - effKernel(mode, kz, kernel[2])*dil[2]
									if tz < 0 || tz%stride[2] != 0 || tz/stride[2] >= yd[4] {
										continue
									}
									wOff := (((k*inC+c)*kernel[0]+kx)*kernel[1]+ky)*kernel[2] + kz
									sum += wData[wOff] * dyData[offset5(ys, n, k, tx/stride[0], ty/stride[1], tz/stride[2])]
								}
							}
						}
					}
					xOff := offset5(xs, n, c, ix, iy, iz)
					if beta == 0 {
						dxData[xOff] = alpha * sum
					} else {
						dxData[xOff] = alpha*sum + beta*dxData[xOff]
					}
				}
			}
		}
	})
}

// backwardDataGemm lowers dy for one batch item into a packed k x m block,
// multiplies by the transposed filter matrix and scatters the resulting
// r x m columns back onto dx (col2im).
func backwardDataGemm(alpha float32, w dnn.FilterDesc, wData []float32, dy dnn.TensorDesc, dyData []float32,
	conv dnn.ConvDesc, beta float32, dx dnn.TensorDesc, dxData []float32, col, dyBuf []float32) {
	xd, yd := dx.Dims(), dy.Dims()
	xs, ys := dx.Strides(), dy.Strides()
	kernel, pad, stride, dil := w.Kernel(), conv.Pad(), conv.Stride(), conv.Dilation()
	mode := conv.Mode()
	k := w.OutputChannels()
	r, m := loweredDims(w, dy)

	a := blas32.General{Rows: k, Cols: r, Stride: r, Data: wData}
	b := blas32.General{Rows: k, Cols: m, Stride: m, Data: dyBuf}
	c := blas32.General{Rows: r, Cols: m, Stride: m, Data: col}

	for n := 0; n < xd[0]; n++ {
		for kc := 0; kc < k; kc++ {
			pos := 0
			for ox := 0; ox < yd[2]; ox++ {
				for oy := 0; oy < yd[3]; oy++ {
					for oz := 0; oz < yd[4]; oz++ {
						dyBuf[kc*m+pos] = dyData[offset5(ys, n, kc, ox, oy, oz)]
						pos++
					}
				}
			}
		}
		blas32.Gemm(blas.Trans, blas.NoTrans, 1, a, b, 0, c)

		for ci := 0; ci < xd[1]; ci++ {
			for ix := 0; ix < xd[2]; ix++ {
				for iy := 0; iy < xd[3]; iy++ {
					for iz := 0; iz < xd[4]; iz++ {
						off := offset5(xs, n, ci, ix, iy, iz)
						if beta == 0 {
							dxData[off] = 0
						} else {
							dxData[off] *= beta
						}
					}
				}
			}
		}
		row := 0
		for ci := 0; ci < xd[1]; ci++ {
			for kx := 0; kx < kernel[0]; kx++ {
				ekx := effKernel(mode, kx, kernel[0])
				for ky := 0; ky < kernel[1]; ky++ {
					eky := effKernel(mode, ky, kernel[1])
					for kz := 0; kz < kernel[2]; kz++ {
						ekz := effKernel(mode, kz, kernel[2])
						src := col[row*m : (row+1)*m]
						pos := 0
						for ox := 0; ox < yd[2]; ox++ {
							ix := ox*stride[0] - pad[0] + ekx*dil[0]
							for oy := 0; oy < yd[3]; oy++ {
								iy := oy*stride[1] - pad[1] + eky*dil[1]
								for oz := 0; oz < yd[4]; oz++ {
									iz := oz*stride[2] - pad[2] + ekz*dil[2]
									if ix >= 0 && ix < xd[2] && iy >= 0 && iy < xd[3] && iz >= 0 && iz < xd[4] {
										dxData[offset5(xs, n, ci, ix, iy, iz)] += alpha * src[pos]
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
}

// ConvolutionBackwardFilter computes dw = alpha*conv_bwd_filter(x, dy) + beta*dw.
func (e *Engine) ConvolutionBackwardFilter(alpha float32, x dnn.TensorDesc, xData []float32, dy dnn.TensorDesc, dyData []float32,
	conv dnn.ConvDesc, algo dnn.BwdFilterAlgo, ws dnn.Workspace, beta float32, w dnn.FilterDesc, dwData []float32) error {
	if err := checkForwardShapes(x, w, conv, dy); err != nil {
		return err
	}
	if err := checkStorage("input", x, xData); err != nil {
		return err
	}
	if err := checkStorage("output gradient", dy, dyData); err != nil {
		return err
	}
	if len(dwData) < w.NumElements() {
		return fmt.Errorf("cpu: filter gradient storage has %d floats, descriptor needs %d", len(dwData), w.NumElements())
	}

	switch algo {
	case dnn.BwdFilterAlgo0:
		e.backwardFilterDirect(alpha, x, xData, dy, dyData, conv, beta, w, dwData)
		return nil
	case dnn.BwdFilterAlgo1:
		r, m := loweredDims(w, dy)
		buf, err := wsFloats(ws, r*m+w.OutputChannels()*m)
		if err != nil {
			return err
		}
		backwardFilterGemm(alpha, x, xData, dy, dyData, conv, beta, w, dwData, buf[:r*m], buf[r*m:])
		return nil
	default:
		return fmt.Errorf("cpu: unsupported backward filter algorithm %d", algo)
	}
}

// backwardFilterDirect correlates the input with the output gradient.
// Each output channel k owns its own rows of dw.
func (e *Engine) backwardFilterDirect(alpha float32, x dnn.TensorDesc, xData []float32, dy dnn.TensorDesc, dyData []float32,
	conv dnn.ConvDesc, beta float32, w dnn.FilterDesc, dwData []float32) {
	xd, yd := x.Dims(), dy.Dims()
	xs, ys := x.Strides(), dy.Strides()
	kernel, pad, stride, dil := w.Kernel(), conv.Pad(), conv.Stride(), conv.Dilation()
	mode := conv.Mode()
	inC := w.InputChannels()

	e.par.For(w.OutputChannels(), func(k int) {
		for c := 0; c < inC; c++ {
			for kx := 0; kx < kernel[0]; kx++ {
				ekx := effKernel(mode, kx, kernel[0])
				for ky := 0; ky < kernel[1]; ky++ {
					eky := effKernel(mode, ky, kernel[1])
					for kz := 0; kz < kernel[2]; kz++ {
						ekz := effKernel(mode, kz, kernel[2])
						var sum float32
						for n := 0; n < yd[0]; n++ {
							for ox := 0; ox < yd[2]; ox++ {
								ix := ox*stride[0] - pad[0] + ekx*dil[0]
								if ix < 0 || ix >= xd[2] {
									continue
								}
								for oy := 0; oy < yd[3]; oy++ {
									iy := oy*stride[1] - pad[1] + eky*dil[1]
									if iy < 0 || iy >= xd[3] {
										continue
									}
									for oz := 0; oz < yd[4]; oz++ {
										iz := oz*stride[2] - pad[2] + ekz*dil[2]
										if iz < 0 || iz >= xd[4] {
											continue
										}
										sum += xData[offset5(xs, n, c, ix, iy, iz)] * dyData[offset5(ys, n, k, ox, oy, oz)]
									}
								}
							}
						}
						wOff := (((k*inC+c)*kernel[0]+kx)*kernel[1]+ky)*kernel[2] + kz
						if beta == 0 {
							dwData[wOff] = alpha * sum
						} else {
							dwData[wOff] = alpha*sum + beta*dwData[wOff]
						}
					}
				}
			}
		}
	})
}

func backwardFilterGemm(alpha float32, x dnn.TensorDesc, xData []float32, dy dnn.TensorDesc, dyData []float32,
	conv dnn.ConvDesc, beta float32, w dnn.FilterDesc, dwData []float32, col, dyBuf []float32) {
	yd := dy.Dims()
	ys := dy.Strides()
	k := w.OutputChannels()
	r, m := loweredDims(w, dy)

	a := blas32.General{Rows: k, Cols: m, Stride: m, Data: dyBuf}
	b := blas32.General{Rows: r, Cols: m, Stride: m, Data: col}
	c := blas32.General{Rows: k, Cols: r, Stride: r, Data: dwData}

	for n := 0; n < yd[0]; n++ {
		im2col(n, x, xData, w, conv, dy, col)
		for kc := 0; kc < k; kc++ {
			pos := 0
			for ox := 0; ox < yd[2]; ox++ {
				for oy := 0; oy < yd[3]; oy++ {
					for oz := 0; oz < yd[4]; oz++ {
						dyBuf[kc*m+pos] = dyData[offset5(ys, n, kc, ox, oy, oz)]
						pos++
					}
				}
			}
		}
		betaN := beta
		if n > 0 {
			betaN = 1
		}
		blas32.Gemm(blas.NoTrans, blas.Trans, alpha, a, b, betaN, c)
	}
}

// ConvolutionBackwardBias computes db = alpha*sum(dy over batch and space) + beta*db.
func (e *Engine) ConvolutionBackwardBias(alpha float32, dy dnn.TensorDesc, dyData []float32,
	beta float32, db dnn.TensorDesc, dbData []float32) error {
	dbd := db.Dims()
	yd := dy.Dims()
	if dbd[0] != 1 || dbd[2] != 1 || dbd[3] != 1 || dbd[4] != 1 {
		return fmt.Errorf("cpu: bias tensor must be [1, c, 1, 1, 1], got %v", dbd)
	}
	if dbd[1] != yd[1] {
		return fmt.Errorf("cpu: bias has %d channels, output gradient has %d", dbd[1], yd[1])
	}
	if err := checkStorage("output gradient", dy, dyData); err != nil {
		return err
	}
	if err := checkStorage("bias gradient", db, dbData); err != nil {
		return err
	}

	ys := dy.Strides()
	cStride := db.Strides()[1]
	e.par.For(yd[1], func(c int) {
		var sum float32
		for n := 0; n < yd[0]; n++ {
			for ox := 0; ox < yd[2]; ox++ {
				for oy := 0; oy < yd[3]; oy++ {
					for oz := 0; oz < yd[4]; oz++ {
						sum += dyData[offset5(ys, n, c, ox, oy, oz)]
					}
				}
			}
		}
		off := c * cStride
		if beta == 0 {
			dbData[off] = alpha * sum
		} else {
			dbData[off] = alpha*sum + beta*dbData[off]
		}
	})
	return nil
}
