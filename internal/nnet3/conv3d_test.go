package nnet3

import (
	"bytes"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anandmoghan/kaldi/internal/config"
	"github.com/anandmoghan/kaldi/internal/dnn"
	"github.com/anandmoghan/kaldi/internal/dnn/cpu"
	"github.com/anandmoghan/kaldi/internal/matrix"
	"github.com/anandmoghan/kaldi/internal/serialization"
)

// smallConfig is the canonical gradient-check geometry: 2 input
// channels, a 4x4x4 volume, 3 filters of kernel 2x2x2, unit stride, no
// padding.
const smallConfig = "input-x-dim=4 input-y-dim=4 input-z-dim=4 input-num-filters=2 " +
	"filt-x-dim=2 filt-y-dim=2 filt-z-dim=2 filt-x-step=1 filt-y-step=1 filt-z-step=1 num-filters=3"

// geometryConfig exercises every hyperparameter: asymmetric extents,
// padding, dilation and the yzx activation order.
const geometryConfig = "input-x-dim=5 input-y-dim=6 input-z-dim=7 input-num-filters=2 " +
	"filt-x-dim=3 filt-y-dim=2 filt-z-dim=2 filt-x-step=2 filt-y-step=1 filt-z-step=3 " +
	"pad-x-dim=1 pad-z-dim=2 upscale-y-dim=2 input-vectorization-order=yzx num-filters=2"

func parseConfig(t *testing.T, line string) *config.Line {
	t.Helper()
	cfl, err := config.ParseLine(line)
	require.NoError(t, err)
	return cfl
}

func newTestConv3D(t *testing.T, line string) *Conv3DComponent {
	t.Helper()
	c := NewConv3D(cpu.New())
	require.NoError(t, c.InitFromConfig(parseConfig(t, line)))
	t.Cleanup(c.Release)
	return c
}

func packedMatrix(rows, cols int) *matrix.Matrix {
	return matrix.NewMatrix(rows, cols, matrix.StrideEqualNumCols)
}

func matDot(a, b *matrix.Matrix) float64 {
	var s float64
	for r := 0; r < a.NumRows(); r++ {
		ra, rb := a.Row(r), b.Row(r)
		for i := range ra {
			s += float64(ra[i]) * float64(rb[i])
		}
	}
	return s
}

func vectorized(t *testing.T, c *Conv3DComponent) []float32 {
	t.Helper()
	v := matrix.NewVector(c.NumParameters())
	require.NoError(t, c.Vectorize(v))
	return v.Data()
}

func TestInitFromConfigDefaults(t *testing.T) {
	c := newTestConv3D(t, smallConfig)

	require.Equal(t, 2*4*4*4, c.InputDim())
	require.Equal(t, 3, c.outputX)
	require.Equal(t, 3, c.outputY)
	require.Equal(t, 3, c.outputZ)
	require.Equal(t, 3*27, c.OutputDim())
	require.Equal(t, 3*16+3, c.NumParameters())
	require.Equal(t, VectorizeZyx, c.vectorization)
	require.Equal(t, float32(0.001), c.LearningRate())
	require.False(t, c.IsGradient())

	require.Equal(t, [dnn.SpatialDims]int{1, 1, 1}, c.convDesc.Stride())
	require.Equal(t, [dnn.SpatialDims]int{0, 0, 0}, c.convDesc.Pad())
	require.Equal(t, [dnn.SpatialDims]int{1, 1, 1}, c.convDesc.Dilation())
	require.Equal(t, dnn.CrossCorrelation, c.convDesc.Mode())
	require.Equal(t, 3, c.filterDesc.OutputChannels())
	require.Equal(t, 2, c.filterDesc.InputChannels())
}

func TestInitFromConfigGeometry(t *testing.T) {
	c := newTestConv3D(t, geometryConfig)

	require.Equal(t, VectorizeYzx, c.vectorization)
	require.Equal(t, [dnn.SpatialDims]int{2, 1, 3}, c.convDesc.Stride())
	require.Equal(t, [dnn.SpatialDims]int{1, 0, 2}, c.convDesc.Pad())
	require.Equal(t, [dnn.SpatialDims]int{1, 2, 1}, c.convDesc.Dilation())

	// x: 1+(5+2-3)/2, y: 1+(6-3)/1, z: 1+(7+4-2)/3.
	require.Equal(t, 3, c.outputX)
	require.Equal(t, 4, c.outputY)
	require.Equal(t, 4, c.outputZ)
	require.Equal(t, 2*3*4*4, c.OutputDim())
}

func TestInitFromConfigErrors(t *testing.T) {
	cases := []struct {
		name string
		line string
		want string
	}{
		{
			"missing required key",
			"input-x-dim=4 input-y-dim=4 input-z-dim=4 filt-x-dim=2 filt-y-dim=2 filt-z-dim=2 " +
				"filt-x-step=1 filt-y-step=1 num-filters=3",
			"filt-z-step",
		},
		{"unknown key", smallConfig + " frobnicate=1", "could not process"},
		{"bad vectorization", smallConfig + " input-vectorization-order=xyz", "input-vectorization-order"},
		{"negative stddev", smallConfig + " param-stddev=-0.5", "negative stddev"},
		{"kernel does not fit",
			"input-x-dim=4 input-y-dim=4 input-z-dim=4 filt-x-dim=9 filt-y-dim=2 filt-z-dim=2 " +
				"filt-x-step=1 filt-y-step=1 filt-z-step=1 num-filters=3", "output"},
		{
			"missing num-filters",
			"input-x-dim=4 input-y-dim=4 input-z-dim=4 filt-x-dim=2 filt-y-dim=2 filt-z-dim=2 " +
				"filt-x-step=1 filt-y-step=1 filt-z-step=1",
			"num-filters",
		},
		{"matrix excludes num-filters", smallConfig + " matrix=/no/such/file", "could not process"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewConv3D(cpu.New())
			err := c.InitFromConfig(parseConfig(t, tc.line))
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestInitFromMatrix(t *testing.T) {
	// 2 filters over 2 channels of 2x2x2 kernels: 16 weights plus one
	// bias column.
	src := matrix.NewMatrix(2, 17, matrix.DefaultStride)
	for r := 0; r < src.NumRows(); r++ {
		for col := 0; col < src.NumCols(); col++ {
			src.Set(r, col, float32(100*r+col))
		}
	}
	path := filepath.Join(t.TempDir(), "params.mat")
	require.NoError(t, matrix.WriteMatrixFile(path, src, true))

	line := "input-x-dim=4 input-y-dim=4 input-z-dim=4 input-num-filters=2 " +
		"filt-x-dim=2 filt-y-dim=2 filt-z-dim=2 filt-x-step=1 filt-y-step=1 filt-z-step=1 matrix=" + path
	c := newTestConv3D(t, line)

	require.Equal(t, 2, c.numFilters)
	for r := 0; r < 2; r++ {
		require.Equal(t, src.Row(r)[:16], c.filterParams.Row(r))
		require.Equal(t, src.At(r, 16), c.biasParams.At(r))
	}
}

func TestInitFromMatrixBadColumns(t *testing.T) {
	src := matrix.NewMatrix(2, 10, matrix.DefaultStride)
	path := filepath.Join(t.TempDir(), "params.mat")
	require.NoError(t, matrix.WriteMatrixFile(path, src, true))

	line := "input-x-dim=4 input-y-dim=4 input-z-dim=4 input-num-filters=2 " +
		"filt-x-dim=2 filt-y-dim=2 filt-z-dim=2 filt-x-step=1 filt-y-step=1 filt-z-step=1 matrix=" + path
	c := NewConv3D(cpu.New())
	err := c.InitFromConfig(parseConfig(t, line))
	require.Error(t, err)
	require.Contains(t, err.Error(), "columns")
}

func TestPropagateKnownValues(t *testing.T) {
	c := newTestConv3D(t, "input-x-dim=1 input-y-dim=1 input-z-dim=3 "+
		"filt-x-dim=1 filt-y-dim=1 filt-z-dim=2 filt-x-step=1 filt-y-step=1 filt-z-step=1 num-filters=1")

	params := matrix.NewVector(3)
	params.Set(0, 1) // weight at kz=0
	params.Set(1, 2) // weight at kz=1
	params.Set(2, 0.5)
	require.NoError(t, c.UnVectorize(params))

	in := packedMatrix(1, 3)
	copy(in.Row(0), []float32{1, 2, 3})
	out := packedMatrix(1, 2)

	require.NoError(t, c.Propagate(in, out))
	require.Equal(t, []float32{5.5, 8.5}, out.Row(0))

	// Propagate adds into the output.
	require.NoError(t, c.Propagate(in, out))
	require.Equal(t, []float32{11, 17}, out.Row(0))
}

func TestPropagateValidation(t *testing.T) {
	c := newTestConv3D(t, smallConfig)
	in := packedMatrix(2, c.InputDim())
	out := packedMatrix(2, c.OutputDim())

	err := c.Propagate(packedMatrix(2, c.InputDim()-1), out)
	require.Error(t, err)
	require.Contains(t, err.Error(), "input")

	err = c.Propagate(in, packedMatrix(2, c.OutputDim()+1))
	require.Error(t, err)
	require.Contains(t, err.Error(), "output")

	err = c.Propagate(in, packedMatrix(3, c.OutputDim()))
	require.Error(t, err)
	require.Contains(t, err.Error(), "rows")

	c.filterParams.Set(0, 0, float32(math.NaN()))
	err = c.Propagate(in, out)
	require.Error(t, err)
	require.Contains(t, err.Error(), "NaN")
}

func TestBackpropRejectsForeignUpdateTarget(t *testing.T) {
	c := newTestConv3D(t, smallConfig)
	in := packedMatrix(1, c.InputDim())
	outDeriv := packedMatrix(1, c.OutputDim())

	err := c.Backprop(in, outDeriv, &fakeComponent{}, nil)
	var mismatch *ComponentMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, "Backprop update", mismatch.Op)
}

func TestVectorizeRoundTrip(t *testing.T) {
	for _, order := range []string{"zyx", "yzx"} {
		t.Run(order, func(t *testing.T) {
			line := smallConfig + " input-vectorization-order=" + order
			c := newTestConv3D(t, line)
			v := matrix.NewVector(c.NumParameters())
			require.NoError(t, c.Vectorize(v))

			c2 := newTestConv3D(t, line)
			require.NoError(t, c2.UnVectorize(v))
			require.Equal(t, v.Data(), vectorized(t, c2))
		})
	}

	c := newTestConv3D(t, smallConfig)
	require.Error(t, c.Vectorize(matrix.NewVector(5)))
	require.Error(t, c.UnVectorize(matrix.NewVector(5)))
}

func TestScaleAddDotProduct(t *testing.T) {
	c := newTestConv3D(t, smallConfig)
	c.Scale(0)
	d, err := c.DotProduct(c)
	require.NoError(t, err)
	require.Equal(t, float32(0), d)

	c2 := newTestConv3D(t, smallConfig)
	neg := c2.Copy().(*Conv3DComponent)
	neg.Scale(-1)
	require.NoError(t, c2.Add(1, neg))
	for _, v := range vectorized(t, c2) {
		require.Equal(t, float32(0), v)
	}
}

func TestSetZeroGradientMode(t *testing.T) {
	c := newTestConv3D(t, smallConfig)
	c.SetLearningRate(0.125)

	c.SetZero(false)
	require.False(t, c.IsGradient())
	require.Equal(t, float32(0.125), c.LearningRate())

	c.SetZero(true)
	require.True(t, c.IsGradient())
	require.Equal(t, float32(1), c.LearningRate())
	for _, v := range vectorized(t, c) {
		require.Equal(t, float32(0), v)
	}
}

func TestCopyIsIndependent(t *testing.T) {
	c := newTestConv3D(t, smallConfig)
	c.SetLearningRate(0.25)
	clone := c.Copy().(*Conv3DComponent)
	t.Cleanup(clone.Release)

	require.Equal(t, vectorized(t, c), vectorized(t, clone))
	require.Equal(t, float32(0.25), clone.LearningRate())
	require.True(t, c.engine == clone.engine)
	require.Nil(t, clone.workspace)

	c.Scale(2)
	require.NotEqual(t, vectorized(t, c), vectorized(t, clone))
}

func TestPerturbParamsChangesEveryParameter(t *testing.T) {
	c := newTestConv3D(t, smallConfig)
	before := append([]float32(nil), vectorized(t, c)...)
	c.PerturbParams(0.1)
	after := vectorized(t, c)
	changed := 0
	for i := range before {
		if before[i] != after[i] {
			changed++
		}
	}
	// Allow one value to tie by rounding; more than that means the
	// perturbation skipped a tensor.
	require.GreaterOrEqual(t, changed, len(before)-1)
}

func TestSerializationRoundTrip(t *testing.T) {
	for _, mode := range []struct {
		name   string
		binary bool
	}{{"binary", true}, {"text", false}} {
		t.Run(mode.name, func(t *testing.T) {
			c := newTestConv3D(t, geometryConfig)
			c.SetLearningRate(0.25)
			c.isGradient = true

			var buf bytes.Buffer
			w := serialization.NewWriter(&buf, mode.binary)
			require.NoError(t, c.Write(w))
			require.NoError(t, w.Flush())

			got, err := ReadComponent(serialization.NewReader(&buf, mode.binary), cpu.New())
			require.NoError(t, err)
			c2 := got.(*Conv3DComponent)
			t.Cleanup(c2.Release)

			require.Equal(t, c.InputDim(), c2.InputDim())
			require.Equal(t, c.OutputDim(), c2.OutputDim())
			require.Equal(t, c.vectorization, c2.vectorization)
			require.Equal(t, c.LearningRate(), c2.LearningRate())
			require.True(t, c2.IsGradient())
			require.Equal(t, c.filterDesc, c2.filterDesc)
			require.Equal(t, c.convDesc, c2.convDesc)
			require.Equal(t, c.biasDesc, c2.biasDesc)
			require.Equal(t, vectorized(t, c), vectorized(t, c2))
		})
	}
}

func TestReadRejectsBadVectorization(t *testing.T) {
	c := newTestConv3D(t, smallConfig)
	c.vectorization = TensorVectorization(7)

	var buf bytes.Buffer
	w := serialization.NewWriter(&buf, true)
	require.NoError(t, c.Write(w))
	require.NoError(t, w.Flush())

	_, err := ReadComponent(serialization.NewReader(&buf, true), cpu.New())
	require.Error(t, err)
	require.Contains(t, err.Error(), "vectorization")
}

func TestUpdateAccumulatesAcrossMinibatches(t *testing.T) {
	c := newTestConv3D(t, smallConfig)
	in := packedMatrix(2, c.InputDim())
	in.SetRandn()
	outDeriv := packedMatrix(2, c.OutputDim())
	outDeriv.SetRandn()

	grad := c.Copy().(*Conv3DComponent)
	t.Cleanup(grad.Release)
	grad.SetZero(true)

	require.NoError(t, c.Backprop(in, outDeriv, grad, nil))
	once := append([]float32(nil), vectorized(t, grad)...)
	require.NoError(t, c.Backprop(in, outDeriv, grad, nil))
	twice := vectorized(t, grad)

	for i := range once {
		require.InDelta(t, 2*once[i], twice[i], 1e-5+1e-5*math.Abs(float64(once[i])))
	}
}

func TestUpdateScalesByTargetLearningRate(t *testing.T) {
	c := newTestConv3D(t, smallConfig)
	in := packedMatrix(1, c.InputDim())
	in.SetRandn()
	outDeriv := packedMatrix(1, c.OutputDim())
	outDeriv.SetRandn()

	grad := c.Copy().(*Conv3DComponent)
	t.Cleanup(grad.Release)
	grad.SetZero(true)
	require.NoError(t, c.Backprop(in, outDeriv, grad, nil))

	sgd := c.Copy().(*Conv3DComponent)
	t.Cleanup(sgd.Release)
	sgd.SetLearningRate(0.5)
	require.NoError(t, c.Backprop(in, outDeriv, sgd, nil))

	base := vectorized(t, c)
	g := vectorized(t, grad)
	got := vectorized(t, sgd)
	for i := range got {
		want := base[i] + 0.5*g[i]
		require.InDelta(t, want, got[i], 1e-4+1e-4*math.Abs(float64(want)))
	}
}

// The objective sum(out .* outDeriv) is linear in both the parameters
// and the input, so the symmetric finite difference must match the
// backpropagated directional derivative almost exactly.
func TestGradientCheck(t *testing.T) {
	c := newTestConv3D(t, smallConfig)
	const n = 2
	in := packedMatrix(n, c.InputDim())
	in.SetRandn()
	outDeriv := packedMatrix(n, c.OutputDim())
	outDeriv.SetRandn()

	objf := func(comp *Conv3DComponent, input *matrix.Matrix) float64 {
		out := packedMatrix(n, comp.OutputDim())
		require.NoError(t, comp.Propagate(input, out))
		return matDot(out, outDeriv)
	}

	const eps = 1e-3

	t.Run("parameters", func(t *testing.T) {
		grad := c.Copy().(*Conv3DComponent)
		t.Cleanup(grad.Release)
		grad.SetZero(true)
		require.NoError(t, c.Backprop(in, outDeriv, grad, nil))

		direction := c.Copy().(*Conv3DComponent)
		t.Cleanup(direction.Release)
		direction.SetZero(false)
		direction.PerturbParams(1)

		predicted, err := grad.DotProduct(direction)
		require.NoError(t, err)

		plus := c.Copy().(*Conv3DComponent)
		t.Cleanup(plus.Release)
		require.NoError(t, plus.Add(eps, direction))
		minus := c.Copy().(*Conv3DComponent)
		t.Cleanup(minus.Release)
		require.NoError(t, minus.Add(-eps, direction))

		measured := (objf(plus, in) - objf(minus, in)) / (2 * eps)
		require.InDelta(t, float64(predicted), measured, 1e-2*(1+math.Abs(float64(predicted))))
	})

	t.Run("input", func(t *testing.T) {
		inDeriv := packedMatrix(n, c.InputDim())
		require.NoError(t, c.Backprop(in, outDeriv, nil, inDeriv))

		direction := packedMatrix(n, c.InputDim())
		direction.SetRandn()
		predicted := matDot(inDeriv, direction)

		plus := in.Clone()
		plus.AddMat(eps, direction)
		minus := in.Clone()
		minus.AddMat(-eps, direction)

		measured := (objf(c, plus) - objf(c, minus)) / (2 * eps)
		require.InDelta(t, predicted, measured, 1e-2*(1+math.Abs(predicted)))
	})
}

// Identical logical inputs under the two activation orders must produce
// identical outputs, and the backward pass must honor each order's
// strides.
func TestVectorizationOrderIndependence(t *testing.T) {
	base := "input-x-dim=3 input-y-dim=4 input-z-dim=5 input-num-filters=2 " +
		"filt-x-dim=2 filt-y-dim=3 filt-z-dim=2 filt-x-step=1 filt-y-step=1 filt-z-step=1 " +
		"pad-y-dim=1 num-filters=2"
	cZyx := newTestConv3D(t, base+" input-vectorization-order=zyx")
	cYzx := newTestConv3D(t, base+" input-vectorization-order=yzx")

	shared := matrix.NewVector(cZyx.NumParameters())
	require.NoError(t, cZyx.Vectorize(shared))
	require.NoError(t, cYzx.UnVectorize(shared))

	const n = 2
	dims := [dnn.NumDims]int{n, 2, 3, 4, 5}
	sZyx := inputStrides(VectorizeZyx, dims)
	sYzx := inputStrides(VectorizeYzx, dims)
	offset := func(s [dnn.NumDims]int, b, ch, x, y, z int) int {
		return b*s[0] + ch*s[1] + x*s[2] + y*s[3] + z*s[4]
	}

	inZyx := packedMatrix(n, cZyx.InputDim())
	inYzx := packedMatrix(n, cYzx.InputDim())
	for b := 0; b < n; b++ {
		for ch := 0; ch < 2; ch++ {
			for x := 0; x < 3; x++ {
				for y := 0; y < 4; y++ {
					for z := 0; z < 5; z++ {
						v := float32(b) - 0.3*float32(ch) + 0.07*float32(x) - 0.11*float32(y) + 0.013*float32(z)
						inZyx.Data()[offset(sZyx, b, ch, x, y, z)] = v
						inYzx.Data()[offset(sYzx, b, ch, x, y, z)] = v
					}
				}
			}
		}
	}

	// Outputs always use the engine's channel-innermost layout, so they
	// compare element for element.
	outZyx := packedMatrix(n, cZyx.OutputDim())
	outYzx := packedMatrix(n, cYzx.OutputDim())
	require.NoError(t, cZyx.Propagate(inZyx, outZyx))
	require.NoError(t, cYzx.Propagate(inYzx, outYzx))
	for r := 0; r < n; r++ {
		a, b := outZyx.Row(r), outYzx.Row(r)
		for i := range a {
			require.InDelta(t, a[i], b[i], 1e-5)
		}
	}

	// Input derivatives come back in each component's own order; compare
	// them logically through the strides.
	outDeriv := packedMatrix(n, cZyx.OutputDim())
	outDeriv.SetRandn()
	derivZyx := packedMatrix(n, cZyx.InputDim())
	derivYzx := packedMatrix(n, cYzx.InputDim())
	require.NoError(t, cZyx.Backprop(inZyx, outDeriv, nil, derivZyx))
	require.NoError(t, cYzx.Backprop(inYzx, outDeriv, nil, derivYzx))
	for b := 0; b < n; b++ {
		for ch := 0; ch < 2; ch++ {
			for x := 0; x < 3; x++ {
				for y := 0; y < 4; y++ {
					for z := 0; z < 5; z++ {
						require.InDelta(t,
							derivZyx.Data()[offset(sZyx, b, ch, x, y, z)],
							derivYzx.Data()[offset(sYzx, b, ch, x, y, z)],
							1e-5)
					}
				}
			}
		}
	}
}

func TestWorkspaceLifecycle(t *testing.T) {
	c := newTestConv3D(t, smallConfig)
	in := packedMatrix(1, c.InputDim())
	out := packedMatrix(1, c.OutputDim())

	// The default algorithms need no scratch.
	require.NoError(t, c.Propagate(in, out))
	require.Nil(t, c.workspace)
	require.Zero(t, c.workspaceBytes)

	c.fwdAlgo = dnn.FwdAlgoGemm
	c.bwdDataAlgo = dnn.BwdDataAlgo1
	c.bwdFilterAlgo = dnn.BwdFilterAlgo1
	require.NoError(t, c.Propagate(in, out))
	require.NotNil(t, c.workspace)
	require.Positive(t, c.workspaceBytes)
	sized := c.workspaceBytes

	// A second call reuses the cached buffer.
	require.NoError(t, c.Propagate(in, out))
	require.Equal(t, sized, c.workspaceBytes)

	c.Release()
	require.Nil(t, c.workspace)
	require.Zero(t, c.workspaceBytes)
	c.Release()
}

func TestGemmAlgorithmsMatchDefaults(t *testing.T) {
	c := newTestConv3D(t, geometryConfig)
	in := packedMatrix(2, c.InputDim())
	in.SetRandn()

	outDirect := packedMatrix(2, c.OutputDim())
	require.NoError(t, c.Propagate(in, outDirect))

	c.fwdAlgo = dnn.FwdAlgoGemm
	outGemm := packedMatrix(2, c.OutputDim())
	require.NoError(t, c.Propagate(in, outGemm))

	for r := 0; r < 2; r++ {
		a, b := outDirect.Row(r), outGemm.Row(r)
		for i := range a {
			require.InDelta(t, a[i], b[i], 1e-4)
		}
	}
}

func TestInfo(t *testing.T) {
	require.Contains(t, NewConv3D(cpu.New()).Info(), "uninitialized")

	c := newTestConv3D(t, geometryConfig)
	info := c.Info()
	for _, want := range []string{
		"Conv3DComponent, input-dim=420, output-dim=96",
		"input-x-dim=5, input-y-dim=6, input-z-dim=7",
		"filt-x-dim=3, filt-y-dim=2, filt-z-dim=2",
		"filt-x-step=2, filt-y-step=1, filt-z-step=3",
		"x-zero-pad=1, y-zero-pad=0, z-zero-pad=2",
		"x-upscale=1, y-upscale=2, z-upscale=1",
		"input-vectorization=yzx",
		"input-num-filters=2, num-filters=2",
		"filter-params-rms=",
		"bias-params-mean=",
	} {
		require.Contains(t, info, want)
	}
}
