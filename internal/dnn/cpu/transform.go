package cpu

import (
	"fmt"

	"github.com/anandmoghan/kaldi/internal/dnn"
)

// AddTensor computes y = alpha*b + beta*y, broadcasting b along every axis
// where its dimension is 1.
func (e *Engine) AddTensor(alpha float32, b dnn.TensorDesc, bData []float32, beta float32, y dnn.TensorDesc, yData []float32) error {
	bd, yd := b.Dims(), y.Dims()
	for i := 0; i < dnn.NumDims; i++ {
		if bd[i] != yd[i] && bd[i] != 1 {
			return fmt.Errorf("cpu: cannot broadcast dims %v onto %v", bd, yd)
		}
	}
	if err := checkStorage("addend", b, bData); err != nil {
		return err
	}
	if err := checkStorage("destination", y, yData); err != nil {
		return err
	}

	bs, ys := b.Strides(), y.Strides()
	bIdx := func(axis, i int) int {
		if bd[axis] == 1 {
			return 0
		}
		return i
	}
	e.par.ForPair(yd[0], yd[1], func(n, c int) {
		for ix := 0; ix < yd[2]; ix++ {
			for iy := 0; iy < yd[3]; iy++ {
				for iz := 0; iz < yd[4]; iz++ {
					v := bData[offset5(bs, bIdx(0, n), bIdx(1, c), bIdx(2, ix), bIdx(3, iy), bIdx(4, iz))]
					off := offset5(ys, n, c, ix, iy, iz)
					if beta == 0 {
						yData[off] = alpha * v
					} else {
						yData[off] = alpha*v + beta*yData[off]
					}
				}
			}
		}
	})
	return nil
}

// TransformTensor computes y = alpha*x + beta*y between two tensors with the
// same dimensions but arbitrary strides. This is the relayout primitive: with
// alpha=1 and beta=0 it copies x into y's memory order.
func (e *Engine) TransformTensor(alpha float32, x dnn.TensorDesc, xData []float32, beta float32, y dnn.TensorDesc, yData []float32) error {
	xd, yd := x.Dims(), y.Dims()
	if xd != yd {
		return fmt.Errorf("cpu: transform requires identical dims, got %v and %v", xd, yd)
	}
	if err := checkStorage("source", x, xData); err != nil {
		return err
	}
	if err := checkStorage("destination", y, yData); err != nil {
		return err
	}

	xs, ys := x.Strides(), y.Strides()
	e.par.ForPair(yd[0], yd[1], func(n, c int) {
		for ix := 0; ix < yd[2]; ix++ {
			for iy := 0; iy < yd[3]; iy++ {
				for iz := 0; iz < yd[4]; iz++ {
					v := xData[offset5(xs, n, c, ix, iy, iz)]
					off := offset5(ys, n, c, ix, iy, iz)
					if beta == 0 {
						yData[off] = alpha * v
					} else {
						yData[off] = alpha*v + beta*yData[off]
					}
				}
			}
		}
	})
	return nil
}
