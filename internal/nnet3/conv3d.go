package nnet3

import (
	"fmt"
	"math"
	"strings"

	"github.com/anandmoghan/kaldi/internal/config"
	"github.com/anandmoghan/kaldi/internal/dnn"
	"github.com/anandmoghan/kaldi/internal/matrix"
	"github.com/anandmoghan/kaldi/internal/serialization"
)

const conv3DTypeName = "Conv3DComponent"

// defaultLearningRate applies until the trainer overrides it.
const defaultLearningRate = 0.001

func init() {
	RegisterComponent(conv3DTypeName, func(e dnn.Engine) Component { return NewConv3D(e) })
}

// Conv3DComponent is a trainable 3-dimensional convolution. Each input
// row holds one example: a [C, X, Y, Z] volume flattened in the
// configured vectorization order. Each output row holds the convolved
// volume [K, X', Y', Z'] in the engine's channel-innermost order, where
// K is the number of filters and the primed extents follow from kernel
// size, stride, zero padding and dilation.
//
// The heavy lifting runs on a dnn.Engine passed at construction; the
// component owns the descriptors, the filter and bias parameters, and a
// cached scratch workspace sized to the largest of the forward,
// backward-data and backward-filter requirements.
type Conv3DComponent struct {
	engine dnn.Engine

	learningRate float32
	isGradient   bool

	inputX, inputY, inputZ int
	inputNumFilters        int
	numFilters             int
	vectorization          TensorVectorization

	outputX, outputY, outputZ int

	filterDesc dnn.FilterDesc
	biasDesc   dnn.TensorDesc
	convDesc   dnn.ConvDesc

	// filterParams has one row per output filter, laid out
	// [inputChannel][kx][ky][kz] and packed with no row padding, which
	// is the layout filterDesc promises the engine.
	filterParams *matrix.Matrix
	biasParams   *matrix.Vector

	fwdAlgo       dnn.FwdAlgo
	bwdDataAlgo   dnn.BwdDataAlgo
	bwdFilterAlgo dnn.BwdFilterAlgo

	workspace      dnn.Workspace
	workspaceBytes int
}

var _ UpdatableComponent = (*Conv3DComponent)(nil)

// NewConv3D returns an empty component bound to an engine. It must be
// initialized through InitFromConfig or Read before use. The algorithm
// choices default to the workspace-free variants; they stay fixed for
// the life of the component rather than being re-benchmarked per call.
func NewConv3D(e dnn.Engine) *Conv3DComponent {
	return &Conv3DComponent{
		engine:        e,
		learningRate:  defaultLearningRate,
		vectorization: VectorizeZyx,
		fwdAlgo:       dnn.FwdAlgoImplicitGemm,
		bwdDataAlgo:   dnn.BwdDataAlgo0,
		bwdFilterAlgo: dnn.BwdFilterAlgo0,
	}
}

func (c *Conv3DComponent) Type() string { return conv3DTypeName }

// Properties reports that forward and backward both accumulate into
// their destinations, and that Backprop needs the forward input.
func (c *Conv3DComponent) Properties() ComponentProperties {
	return SimpleComponent | UpdatableComponentFlag | PropagateAdds |
		BackpropAdds | BackpropNeedsInput
}

// InputDim returns the flattened per-example input width.
func (c *Conv3DComponent) InputDim() int {
	return c.inputNumFilters * c.inputX * c.inputY * c.inputZ
}

// OutputDim returns the flattened per-example output width.
func (c *Conv3DComponent) OutputDim() int {
	return c.numFilters * c.outputX * c.outputY * c.outputZ
}

func (c *Conv3DComponent) LearningRate() float32      { return c.learningRate }
func (c *Conv3DComponent) SetLearningRate(lr float32) { c.learningRate = lr }

// IsGradient reports whether the parameters hold an accumulated gradient
// rather than live weights.
func (c *Conv3DComponent) IsGradient() bool { return c.isGradient }

// InitFromConfig configures and initializes the component from one
// key=value line. Parameters come either from a matrix file named by the
// matrix key, or from a Gaussian draw governed by num-filters,
// param-stddev and bias-stddev. Keys the component does not consume make
// the whole line invalid.
func (c *Conv3DComponent) InitFromConfig(cfl *config.Line) error {
	var (
		kernel, stride, pad, dilation [dnn.SpatialDims]int
	)
	required := []struct {
		key string
		dst *int
	}{
		{"input-x-dim", &c.inputX},
		{"input-y-dim", &c.inputY},
		{"input-z-dim", &c.inputZ},
		{"filt-x-dim", &kernel[0]},
		{"filt-y-dim", &kernel[1]},
		{"filt-z-dim", &kernel[2]},
		{"filt-x-step", &stride[0]},
		{"filt-y-step", &stride[1]},
		{"filt-z-step", &stride[2]},
	}
	for _, p := range required {
		v, err := cfl.RequiredInt(p.key)
		if err != nil {
			return badInitializer(cfl, err)
		}
		*p.dst = v
	}
	optional := []struct {
		key string
		def int
		dst *int
	}{
		{"input-num-filters", 1, &c.inputNumFilters},
		{"upscale-x-dim", 1, &dilation[0]},
		{"upscale-y-dim", 1, &dilation[1]},
		{"upscale-z-dim", 1, &dilation[2]},
		{"pad-x-dim", 0, &pad[0]},
		{"pad-y-dim", 0, &pad[1]},
		{"pad-z-dim", 0, &pad[2]},
	}
	for _, p := range optional {
		v, err := cfl.OptionalInt(p.key, p.def)
		if err != nil {
			return badInitializer(cfl, err)
		}
		*p.dst = v
	}
	order, err := ParseVectorization(cfl.OptionalString("input-vectorization-order", "zyx"))
	if err != nil {
		return badInitializer(cfl, err)
	}
	c.vectorization = order

	matrixPath, haveMatrix := cfl.Value("matrix")
	var (
		numFilters              int
		paramStddev, biasStddev float32
	)
	if !haveMatrix {
		if numFilters, err = cfl.RequiredInt("num-filters"); err != nil {
			return badInitializer(cfl, err)
		}
		// The historical fan-in default mixes the x and y kernel extents
		// with the full input z extent. Kept verbatim: trained models
		// depend on it.
		def := float32(1.0 / math.Sqrt(float64(kernel[0])*float64(kernel[1])*float64(c.inputZ)))
		if paramStddev, err = cfl.OptionalFloat("param-stddev", def); err != nil {
			return badInitializer(cfl, err)
		}
		if biasStddev, err = cfl.OptionalFloat("bias-stddev", 1.0); err != nil {
			return badInitializer(cfl, err)
		}
	}
	if cfl.HasUnusedValues() {
		return fmt.Errorf("nnet3: could not process these elements in initializer: %s", cfl.UnusedValues())
	}
	if haveMatrix {
		return c.initFromMatrix(matrixPath, kernel, stride, pad, dilation)
	}
	return c.initRandom(numFilters, paramStddev, biasStddev, kernel, stride, pad, dilation)
}

func badInitializer(cfl *config.Line, err error) error {
	return fmt.Errorf("nnet3: bad initializer %q: %w", cfl.Whole(), err)
}

// initRandom draws the filter and bias from zero-mean Gaussians.
func (c *Conv3DComponent) initRandom(numFilters int, paramStddev, biasStddev float32,
	kernel, stride, pad, dilation [dnn.SpatialDims]int) error {
	if paramStddev < 0 || biasStddev < 0 {
		return fmt.Errorf("nnet3: negative stddev in initializer (param-stddev=%v, bias-stddev=%v)",
			paramStddev, biasStddev)
	}
	c.numFilters = numFilters
	if err := c.initDescriptors(kernel, stride, pad, dilation); err != nil {
		return err
	}
	filterDim := c.inputNumFilters * kernel[0] * kernel[1] * kernel[2]
	c.filterParams = matrix.NewMatrix(numFilters, filterDim, matrix.StrideEqualNumCols)
	c.filterParams.SetRandn()
	c.filterParams.Scale(paramStddev)
	c.biasParams = matrix.NewVector(numFilters)
	c.biasParams.SetRandn()
	c.biasParams.Scale(biasStddev)
	return nil
}

// initFromMatrix loads pre-trained parameters: one row per output
// filter, the filter weights followed by a final bias column.
func (c *Conv3DComponent) initFromMatrix(path string,
	kernel, stride, pad, dilation [dnn.SpatialDims]int) error {
	mat, err := matrix.ReadMatrixFile(path)
	if err != nil {
		return fmt.Errorf("failed to read parameter matrix %s: %w", path, err)
	}
	filterDim := c.inputNumFilters * kernel[0] * kernel[1] * kernel[2]
	if mat.NumCols() != filterDim+1 {
		return fmt.Errorf("nnet3: parameter matrix %s has %d columns, expected filter dim %d plus one bias column",
			path, mat.NumCols(), filterDim)
	}
	c.numFilters = mat.NumRows()
	if err := c.initDescriptors(kernel, stride, pad, dilation); err != nil {
		return err
	}
	c.filterParams = matrix.NewMatrix(c.numFilters, filterDim, matrix.StrideEqualNumCols)
	for r := 0; r < c.numFilters; r++ {
		copy(c.filterParams.Row(r), mat.Row(r)[:filterDim])
	}
	c.biasParams = matrix.NewVector(c.numFilters)
	c.biasParams.CopyColFromMat(mat, filterDim)
	return nil
}

// initDescriptors rebuilds the descriptor set from the channel fields
// and the given geometry, then recomputes the output extents. Everything
// that can make Propagate impossible fails here instead.
func (c *Conv3DComponent) initDescriptors(kernel, stride, pad, dilation [dnn.SpatialDims]int) error {
	var err error
	c.filterDesc, err = dnn.NewFilterDesc(c.numFilters, c.inputNumFilters, kernel[0], kernel[1], kernel[2])
	if err != nil {
		return fmt.Errorf("failed to build filter descriptor: %w", err)
	}
	c.convDesc, err = dnn.NewConvDesc(pad, stride, dilation, dnn.CrossCorrelation)
	if err != nil {
		return fmt.Errorf("failed to build convolution descriptor: %w", err)
	}
	biasDims := [dnn.NumDims]int{1, c.numFilters, 1, 1, 1}
	c.biasDesc, err = dnn.NewTensorDesc(biasDims, inputStrides(c.vectorization, biasDims))
	if err != nil {
		return fmt.Errorf("failed to build bias descriptor: %w", err)
	}
	return c.refreshOutputShape()
}

// refreshOutputShape probes the engine-side shape rule with a
// single-example input descriptor and caches the spatial extents. A
// kernel that does not fit the padded input fails here.
func (c *Conv3DComponent) refreshOutputShape() error {
	inDims := [dnn.NumDims]int{1, c.inputNumFilters, c.inputX, c.inputY, c.inputZ}
	probe, err := dnn.NewTensorDesc(inDims, inputStrides(c.vectorization, inDims))
	if err != nil {
		return fmt.Errorf("failed to build probe input descriptor: %w", err)
	}
	out, err := dnn.ForwardOutputShape(probe, c.filterDesc, c.convDesc)
	if err != nil {
		return fmt.Errorf("failed to infer output shape: %w", err)
	}
	if out[0] != 1 || out[1] != c.numFilters {
		return fmt.Errorf("nnet3: inferred output shape has batch %d and %d channels, want 1 and %d",
			out[0], out[1], c.numFilters)
	}
	c.outputX, c.outputY, c.outputZ = out[2], out[3], out[4]
	return nil
}

func (c *Conv3DComponent) inputDesc(batch int) (dnn.TensorDesc, error) {
	dims := [dnn.NumDims]int{batch, c.inputNumFilters, c.inputX, c.inputY, c.inputZ}
	d, err := dnn.NewTensorDesc(dims, inputStrides(c.vectorization, dims))
	if err != nil {
		return dnn.TensorDesc{}, fmt.Errorf("failed to build input descriptor: %w", err)
	}
	return d, nil
}

func (c *Conv3DComponent) outputDesc(batch int) (dnn.TensorDesc, error) {
	dims := [dnn.NumDims]int{batch, c.numFilters, c.outputX, c.outputY, c.outputZ}
	d, err := dnn.NewTensorDesc(dims, outputStrides(dims))
	if err != nil {
		return dnn.TensorDesc{}, fmt.Errorf("failed to build output descriptor: %w", err)
	}
	return d, nil
}

func (c *Conv3DComponent) packedOutputDesc(batch int) (dnn.TensorDesc, error) {
	dims := [dnn.NumDims]int{batch, c.numFilters, c.outputX, c.outputY, c.outputZ}
	d, err := dnn.NewTensorDesc(dims, stridesNCXYZ(dims))
	if err != nil {
		return dnn.TensorDesc{}, fmt.Errorf("failed to build packed output descriptor: %w", err)
	}
	return d, nil
}

// ensureWorkspace grows the cached scratch buffer to the largest of the
// three per-operation requirements for this batch shape. One buffer
// serves all three operations because Propagate, Backprop and the update
// never overlap on a single instance.
func (c *Conv3DComponent) ensureWorkspace(inDesc dnn.TensorDesc) error {
	outDesc, err := c.outputDesc(inDesc.Batch())
	if err != nil {
		return err
	}
	packed, err := c.packedOutputDesc(inDesc.Batch())
	if err != nil {
		return err
	}
	fwd, err := c.engine.ConvolutionForwardWorkspaceSize(inDesc, c.filterDesc, c.convDesc, outDesc, c.fwdAlgo)
	if err != nil {
		return fmt.Errorf("failed to size forward workspace: %w", err)
	}
	bwdData, err := c.engine.ConvolutionBackwardDataWorkspaceSize(c.filterDesc, packed, c.convDesc, inDesc, c.bwdDataAlgo)
	if err != nil {
		return fmt.Errorf("failed to size backward-data workspace: %w", err)
	}
	bwdFilter, err := c.engine.ConvolutionBackwardFilterWorkspaceSize(inDesc, packed, c.convDesc, c.filterDesc, c.bwdFilterAlgo)
	if err != nil {
		return fmt.Errorf("failed to size backward-filter workspace: %w", err)
	}
	need := fwd
	if bwdData > need {
		need = bwdData
	}
	if bwdFilter > need {
		need = bwdFilter
	}
	if need <= c.workspaceBytes {
		return nil
	}
	if c.workspace != nil {
		c.workspace.Release()
		c.workspace = nil
		c.workspaceBytes = 0
	}
	ws, err := c.engine.AllocWorkspace(need)
	if err != nil {
		return fmt.Errorf("failed to allocate %d byte workspace: %w", need, err)
	}
	c.workspace = ws
	c.workspaceBytes = need
	return nil
}

// Release frees the cached workspace. Safe on a component that never
// allocated one, and safe to call more than once.
func (c *Conv3DComponent) Release() {
	if c.workspace != nil {
		c.workspace.Release()
		c.workspace = nil
		c.workspaceBytes = 0
	}
}

// checkParamsFinite rejects NaN parameters before they can poison an
// entire minibatch. A NaN here is an optimizer or caller bug.
func (c *Conv3DComponent) checkParamsFinite() error {
	if n := c.filterParams.FrobeniusNorm(); math.IsNaN(float64(n)) {
		return fmt.Errorf("nnet3: %s filter parameters contain NaN", conv3DTypeName)
	}
	if s := c.biasParams.Sum(); math.IsNaN(float64(s)) {
		return fmt.Errorf("nnet3: %s bias parameters contain NaN", conv3DTypeName)
	}
	return nil
}

func checkActivations(name string, m *matrix.Matrix, wantCols int) error {
	if m.NumCols() != m.Stride() {
		return fmt.Errorf("nnet3: %s matrix must be packed, got %d cols with stride %d",
			name, m.NumCols(), m.Stride())
	}
	if m.NumCols() != wantCols {
		return fmt.Errorf("nnet3: %s matrix has %d cols, want %d", name, m.NumCols(), wantCols)
	}
	return nil
}

// Propagate computes out += conv(in, filter) + bias for a minibatch with
// one example per row. The output is added to, so callers start from a
// zeroed matrix unless they want the accumulation.
func (c *Conv3DComponent) Propagate(in, out *matrix.Matrix) error {
	if err := c.checkParamsFinite(); err != nil {
		return err
	}
	if err := checkActivations("input", in, c.InputDim()); err != nil {
		return err
	}
	if err := checkActivations("output", out, c.OutputDim()); err != nil {
		return err
	}
	if out.NumRows() != in.NumRows() {
		return fmt.Errorf("nnet3: input has %d rows, output has %d", in.NumRows(), out.NumRows())
	}
	inDesc, err := c.inputDesc(in.NumRows())
	if err != nil {
		return err
	}
	outDesc, err := c.outputDesc(in.NumRows())
	if err != nil {
		return err
	}
	if err := c.ensureWorkspace(inDesc); err != nil {
		return err
	}
	if err := c.engine.ConvolutionForward(1, inDesc, in.Data(), c.filterDesc, c.filterParams.Data(),
		c.convDesc, c.fwdAlgo, c.workspace, 1, outDesc, out.Data()); err != nil {
		return fmt.Errorf("failed to run forward convolution: %w", err)
	}
	if err := c.engine.AddTensor(1, c.biasDesc, c.biasParams.Data(), 1, outDesc, out.Data()); err != nil {
		return fmt.Errorf("failed to add bias: %w", err)
	}
	return nil
}

// Backprop propagates outDeriv back through the component. outDeriv
// arrives in the engine's output layout; the backward kernels only take
// fully packed derivatives, so it is re-strided into a fresh buffer
// first. inDeriv, when non-nil, is accumulated into. toUpdate, when
// non-nil, receives the parameter-gradient contribution scaled by its
// own learning rate; passing the component itself gives plain SGD.
func (c *Conv3DComponent) Backprop(inValue, outDeriv *matrix.Matrix, toUpdate Component, inDeriv *matrix.Matrix) error {
	if err := c.checkParamsFinite(); err != nil {
		return err
	}
	if err := checkActivations("output derivative", outDeriv, c.OutputDim()); err != nil {
		return err
	}
	if err := checkActivations("input value", inValue, c.InputDim()); err != nil {
		return err
	}
	n := outDeriv.NumRows()
	if inValue.NumRows() != n {
		return fmt.Errorf("nnet3: input value has %d rows, output derivative has %d", inValue.NumRows(), n)
	}
	if inDeriv != nil {
		if err := checkActivations("input derivative", inDeriv, c.InputDim()); err != nil {
			return err
		}
		if inDeriv.NumRows() != n {
			return fmt.Errorf("nnet3: input derivative has %d rows, output derivative has %d", inDeriv.NumRows(), n)
		}
	}
	outDesc, err := c.outputDesc(n)
	if err != nil {
		return err
	}
	packedDesc, err := c.packedOutputDesc(n)
	if err != nil {
		return err
	}
	inDesc, err := c.inputDesc(n)
	if err != nil {
		return err
	}
	packedDeriv := matrix.NewMatrix(n, c.OutputDim(), matrix.StrideEqualNumCols)
	if err := c.engine.TransformTensor(1, outDesc, outDeriv.Data(), 0, packedDesc, packedDeriv.Data()); err != nil {
		return fmt.Errorf("failed to relayout output derivative: %w", err)
	}
	if inDeriv != nil {
		if err := c.ensureWorkspace(inDesc); err != nil {
			return err
		}
		if err := c.engine.ConvolutionBackwardData(1, c.filterDesc, c.filterParams.Data(),
			packedDesc, packedDeriv.Data(), c.convDesc, c.bwdDataAlgo, c.workspace,
			1, inDesc, inDeriv.Data()); err != nil {
			return fmt.Errorf("failed to run backward-data convolution: %w", err)
		}
	}
	if toUpdate != nil {
		peer, ok := toUpdate.(*Conv3DComponent)
		if !ok {
			return &ComponentMismatchError{Op: "Backprop update", Want: conv3DTypeName, Got: toUpdate.Type()}
		}
		if err := peer.update(inValue, packedDeriv, inDesc, packedDesc); err != nil {
			return err
		}
	}
	return nil
}

// update folds one minibatch's parameter gradient into the receiver,
// scaled by its learning rate. In gradient mode the learning rate is 1
// and the parameters are a pure accumulator. Always add-in-place:
// several minibatches may accumulate before an optimizer reads the
// result.
func (c *Conv3DComponent) update(inValue, packedDeriv *matrix.Matrix, inDesc, packedDesc dnn.TensorDesc) error {
	if err := c.ensureWorkspace(inDesc); err != nil {
		return err
	}
	if err := c.engine.ConvolutionBackwardFilter(c.learningRate, inDesc, inValue.Data(),
		packedDesc, packedDeriv.Data(), c.convDesc, c.bwdFilterAlgo, c.workspace,
		1, c.filterDesc, c.filterParams.Data()); err != nil {
		return fmt.Errorf("failed to run backward-filter convolution: %w", err)
	}
	if err := c.engine.ConvolutionBackwardBias(c.learningRate, packedDesc, packedDeriv.Data(),
		1, c.biasDesc, c.biasParams.Data()); err != nil {
		return fmt.Errorf("failed to run backward-bias reduction: %w", err)
	}
	return nil
}

// Copy returns a deep copy sharing only the engine handle. The clone
// starts without a workspace; it is sized lazily on first use, so clones
// never share scratch memory with the original.
func (c *Conv3DComponent) Copy() Component {
	clone := &Conv3DComponent{
		engine:          c.engine,
		learningRate:    c.learningRate,
		isGradient:      c.isGradient,
		inputX:          c.inputX,
		inputY:          c.inputY,
		inputZ:          c.inputZ,
		inputNumFilters: c.inputNumFilters,
		numFilters:      c.numFilters,
		vectorization:   c.vectorization,
		outputX:         c.outputX,
		outputY:         c.outputY,
		outputZ:         c.outputZ,
		filterDesc:      c.filterDesc,
		biasDesc:        c.biasDesc.Clone(),
		convDesc:        c.convDesc,
		fwdAlgo:         c.fwdAlgo,
		bwdDataAlgo:     c.bwdDataAlgo,
		bwdFilterAlgo:   c.bwdFilterAlgo,
	}
	if c.filterParams != nil {
		clone.filterParams = c.filterParams.Clone()
	}
	if c.biasParams != nil {
		clone.biasParams = c.biasParams.Clone()
	}
	return clone
}

// SetZero clears the parameters. With treatAsGradient set the component
// becomes a gradient accumulator: the learning rate is forced to 1 so
// updates add raw gradients.
func (c *Conv3DComponent) SetZero(treatAsGradient bool) {
	if treatAsGradient {
		c.learningRate = 1
		c.isGradient = true
	}
	c.filterParams.SetZero()
	c.biasParams.SetZero()
}

// Scale multiplies every parameter by alpha.
func (c *Conv3DComponent) Scale(alpha float32) {
	c.filterParams.Scale(alpha)
	c.biasParams.Scale(alpha)
}

// Add accumulates alpha times other's parameters into the receiver.
func (c *Conv3DComponent) Add(alpha float32, other Component) error {
	peer, ok := other.(*Conv3DComponent)
	if !ok {
		return &ComponentMismatchError{Op: "Add", Want: conv3DTypeName, Got: other.Type()}
	}
	c.filterParams.AddMat(alpha, peer.filterParams)
	c.biasParams.AddVec(alpha, peer.biasParams)
	return nil
}

// DotProduct returns the inner product of the two parameter vectors.
func (c *Conv3DComponent) DotProduct(other Component) (float32, error) {
	peer, ok := other.(*Conv3DComponent)
	if !ok {
		return 0, &ComponentMismatchError{Op: "DotProduct", Want: conv3DTypeName, Got: other.Type()}
	}
	return matrix.TraceMatMat(c.filterParams, peer.filterParams) +
		matrix.VecVec(c.biasParams, peer.biasParams), nil
}

// PerturbParams adds zero-mean Gaussian noise scaled by stddev to the
// filter and bias in place.
func (c *Conv3DComponent) PerturbParams(stddev float32) {
	noise := c.filterParams.Clone()
	noise.SetRandn()
	c.filterParams.AddMat(stddev, noise)
	biasNoise := c.biasParams.Clone()
	biasNoise.SetRandn()
	c.biasParams.AddVec(stddev, biasNoise)
}

// NumParameters returns the trainable parameter count, filter plus bias.
func (c *Conv3DComponent) NumParameters() int {
	return c.filterParams.NumRows()*c.filterParams.NumCols() + c.biasParams.Dim()
}

// Vectorize copies the parameters into params: filter rows first, in
// order, then the bias.
func (c *Conv3DComponent) Vectorize(params *matrix.Vector) error {
	if params.Dim() != c.NumParameters() {
		return fmt.Errorf("nnet3: parameter vector has dim %d, component has %d parameters",
			params.Dim(), c.NumParameters())
	}
	dst := params.Data()
	for r := 0; r < c.filterParams.NumRows(); r++ {
		n := copy(dst, c.filterParams.Row(r))
		dst = dst[n:]
	}
	copy(dst, c.biasParams.Data())
	return nil
}

// UnVectorize replaces the parameters from params, inverting Vectorize.
func (c *Conv3DComponent) UnVectorize(params *matrix.Vector) error {
	if params.Dim() != c.NumParameters() {
		return fmt.Errorf("nnet3: parameter vector has dim %d, component has %d parameters",
			params.Dim(), c.NumParameters())
	}
	src := params.Data()
	for r := 0; r < c.filterParams.NumRows(); r++ {
		n := copy(c.filterParams.Row(r), src)
		src = src[n:]
	}
	copy(c.biasParams.Data(), src)
	return nil
}

// conv3DIntTags lists the integer hyperparameter tags in stream order,
// shared by Read and Write so the two cannot fall out of step.
var conv3DIntTags = []string{
	"<InputXDim>", "<InputYDim>", "<InputZDim>",
	"<InputNumFilters>", "<OutputNumFilters>",
	"<FilterXDim>", "<FilterYDim>", "<FilterZDim>",
	"<FilterXPadding>", "<FilterYPadding>", "<FilterZPadding>",
	"<FilterXStride>", "<FilterYStride>", "<FilterZStride>",
	"<FilterXUpscale>", "<FilterYUpscale>", "<FilterZUpscale>",
}

// Read replaces the component's state from a model stream and rebuilds
// the descriptors from the hyperparameters just read.
func (c *Conv3DComponent) Read(r *serialization.Reader) error {
	if err := r.ExpectOneOrTwoTokens("<"+conv3DTypeName+">", "<LearningRate>"); err != nil {
		return err
	}
	lr, err := r.ReadFloat32()
	if err != nil {
		return fmt.Errorf("failed to read learning rate: %w", err)
	}
	c.learningRate = lr

	var kernel, stride, pad, dilation [dnn.SpatialDims]int
	dsts := []*int{
		&c.inputX, &c.inputY, &c.inputZ,
		&c.inputNumFilters, &c.numFilters,
		&kernel[0], &kernel[1], &kernel[2],
		&pad[0], &pad[1], &pad[2],
		&stride[0], &stride[1], &stride[2],
		&dilation[0], &dilation[1], &dilation[2],
	}
	for i, tag := range conv3DIntTags {
		if err := r.ExpectToken(tag); err != nil {
			return err
		}
		v, err := r.ReadInt32()
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", tag, err)
		}
		*dsts[i] = int(v)
	}

	if err := r.ExpectToken("<InputVectorization>"); err != nil {
		return err
	}
	rawOrder, err := r.ReadInt32()
	if err != nil {
		return fmt.Errorf("failed to read <InputVectorization>: %w", err)
	}
	order := TensorVectorization(rawOrder)
	if order != VectorizeZyx && order != VectorizeYzx {
		return fmt.Errorf("nnet3: bad input vectorization %d in model stream", rawOrder)
	}
	c.vectorization = order

	if err := r.ExpectToken("<FilterParams>"); err != nil {
		return err
	}
	var fm matrix.Matrix
	if err := fm.Read(r); err != nil {
		return fmt.Errorf("failed to read filter params: %w", err)
	}
	if err := r.ExpectToken("<BiasParams>"); err != nil {
		return err
	}
	var bv matrix.Vector
	if err := bv.Read(r); err != nil {
		return fmt.Errorf("failed to read bias params: %w", err)
	}
	if err := r.ExpectToken("<IsGradient>"); err != nil {
		return err
	}
	if c.isGradient, err = r.ReadBool(); err != nil {
		return fmt.Errorf("failed to read <IsGradient>: %w", err)
	}
	if err := r.ExpectToken("</" + conv3DTypeName + ">"); err != nil {
		return err
	}

	filterDim := c.inputNumFilters * kernel[0] * kernel[1] * kernel[2]
	if fm.NumRows() != c.numFilters || fm.NumCols() != filterDim {
		return fmt.Errorf("nnet3: filter params are %dx%d, stream header wants %dx%d",
			fm.NumRows(), fm.NumCols(), c.numFilters, filterDim)
	}
	if bv.Dim() != c.numFilters {
		return fmt.Errorf("nnet3: bias params have dim %d, stream header wants %d", bv.Dim(), c.numFilters)
	}
	// Repack: the engine addresses filter rows with no padding between
	// them.
	c.filterParams = matrix.NewMatrix(fm.NumRows(), fm.NumCols(), matrix.StrideEqualNumCols)
	c.filterParams.CopyFromMat(&fm)
	c.biasParams = bv.Clone()
	return c.initDescriptors(kernel, stride, pad, dilation)
}

// Write emits the component. The geometry is re-derived from the live
// descriptors and checked against the channel fields, so a descriptor
// that drifted from the cached state fails the save instead of
// persisting silently wrong values.
func (c *Conv3DComponent) Write(w *serialization.Writer) error {
	if c.filterDesc.OutputChannels() != c.numFilters || c.filterDesc.InputChannels() != c.inputNumFilters {
		return fmt.Errorf("nnet3: filter descriptor %dx%d channels disagree with component %dx%d",
			c.filterDesc.OutputChannels(), c.filterDesc.InputChannels(), c.numFilters, c.inputNumFilters)
	}
	if c.convDesc.Mode() != dnn.CrossCorrelation {
		return fmt.Errorf("nnet3: convolution descriptor mode is %d, want cross-correlation", c.convDesc.Mode())
	}
	kernel := c.filterDesc.Kernel()
	pad, stride, dilation := c.convDesc.Pad(), c.convDesc.Stride(), c.convDesc.Dilation()
	if err := w.WriteToken("<" + conv3DTypeName + ">"); err != nil {
		return err
	}
	if err := w.WriteToken("<LearningRate>"); err != nil {
		return err
	}
	if err := w.WriteFloat32(c.learningRate); err != nil {
		return err
	}
	vals := []int{
		c.inputX, c.inputY, c.inputZ,
		c.inputNumFilters, c.numFilters,
		kernel[0], kernel[1], kernel[2],
		pad[0], pad[1], pad[2],
		stride[0], stride[1], stride[2],
		dilation[0], dilation[1], dilation[2],
	}
	for i, tag := range conv3DIntTags {
		if err := w.WriteToken(tag); err != nil {
			return err
		}
		if err := w.WriteInt32(int32(vals[i])); err != nil {
			return err
		}
	}
	if err := w.WriteToken("<InputVectorization>"); err != nil {
		return err
	}
	if err := w.WriteInt32(int32(c.vectorization)); err != nil {
		return err
	}
	if err := w.WriteToken("<FilterParams>"); err != nil {
		return err
	}
	if err := c.filterParams.Write(w); err != nil {
		return fmt.Errorf("failed to write filter params: %w", err)
	}
	if err := w.WriteToken("<BiasParams>"); err != nil {
		return err
	}
	if err := c.biasParams.Write(w); err != nil {
		return fmt.Errorf("failed to write bias params: %w", err)
	}
	if err := w.WriteToken("<IsGradient>"); err != nil {
		return err
	}
	if err := w.WriteBool(c.isGradient); err != nil {
		return err
	}
	return w.WriteToken("</" + conv3DTypeName + ">")
}

// Info returns a one-line summary of the hyperparameters and parameter
// statistics, suitable for logs and the info tool.
func (c *Conv3DComponent) Info() string {
	if c.filterParams == nil {
		return fmt.Sprintf("%s, uninitialized", conv3DTypeName)
	}
	kernel := c.filterDesc.Kernel()
	pad, stride, dilation := c.convDesc.Pad(), c.convDesc.Stride(), c.convDesc.Dilation()
	var b strings.Builder
	fmt.Fprintf(&b, "%s, input-dim=%d, output-dim=%d, learning-rate=%g",
		conv3DTypeName, c.InputDim(), c.OutputDim(), c.learningRate)
	fmt.Fprintf(&b, ", input-x-dim=%d, input-y-dim=%d, input-z-dim=%d", c.inputX, c.inputY, c.inputZ)
	fmt.Fprintf(&b, ", filt-x-dim=%d, filt-y-dim=%d, filt-z-dim=%d", kernel[0], kernel[1], kernel[2])
	fmt.Fprintf(&b, ", filt-x-step=%d, filt-y-step=%d, filt-z-step=%d", stride[0], stride[1], stride[2])
	fmt.Fprintf(&b, ", x-zero-pad=%d, y-zero-pad=%d, z-zero-pad=%d", pad[0], pad[1], pad[2])
	fmt.Fprintf(&b, ", x-upscale=%d, y-upscale=%d, z-upscale=%d", dilation[0], dilation[1], dilation[2])
	fmt.Fprintf(&b, ", input-vectorization=%s", c.vectorization)
	fmt.Fprintf(&b, ", input-num-filters=%d, num-filters=%d", c.inputNumFilters, c.numFilters)
	printMatrixStats(&b, "filter-params", c.filterParams)
	printVectorStats(&b, "bias-params", c.biasParams)
	return b.String()
}

func printMatrixStats(b *strings.Builder, name string, m *matrix.Matrix) {
	dim := m.NumRows() * m.NumCols()
	if dim == 0 {
		return
	}
	rms := math.Sqrt(float64(matrix.TraceMatMat(m, m)) / float64(dim))
	fmt.Fprintf(b, ", %s-rms=%.4g", name, rms)
}

func printVectorStats(b *strings.Builder, name string, v *matrix.Vector) {
	dim := v.Dim()
	if dim == 0 {
		return
	}
	mean := float64(v.Sum()) / float64(dim)
	variance := float64(matrix.VecVec(v, v))/float64(dim) - mean*mean
	if variance < 0 {
		variance = 0
	}
	fmt.Fprintf(b, ", %s-mean=%.4g, %s-stddev=%.4g", name, mean, name, math.Sqrt(variance))
}
