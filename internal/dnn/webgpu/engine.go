//go:build windows

package webgpu

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/anandmoghan/kaldi/internal/dnn"
)

// Engine runs the convolution primitives on a GPU through WebGPU.
// Every call uploads its operands, dispatches a compute kernel and reads the
// result back, so host slices stay the single source of truth.
type Engine struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	// Shader and pipeline cache
	shaders   map[string]*wgpu.ShaderModule
	pipelines map[string]*wgpu.ComputePipeline
	mu        sync.RWMutex

	adapterInfo *wgpu.AdapterInfo
}

var _ dnn.Engine = (*Engine)(nil)

// New creates a WebGPU engine.
// Returns an error if WebGPU is not available or initialization fails.
func New() (engine *Engine, err error) {
	// Recover from panic if wgpu_native library is not found.
	defer func() {
		if r := recover(); r != nil {
			engine = nil
			err = fmt.Errorf("webgpu: native library not available: %v", r)
		}
	}()

	instance := wgpu.CreateInstance(nil)
	adapter, adapterErr := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if adapterErr != nil {
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to request adapter: %w", adapterErr)
	}

	adapterInfo := adapter.GetInfo()

	device, deviceErr := adapter.RequestDevice(nil)
	if deviceErr != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to request device: %w", deviceErr)
	}

	queue := device.GetQueue()
	if queue == nil {
		device.Release()
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to get queue")
	}

	return &Engine{
		instance:    instance,
		adapter:     adapter,
		device:      device,
		queue:       queue,
		shaders:     make(map[string]*wgpu.ShaderModule),
		pipelines:   make(map[string]*wgpu.ComputePipeline),
		adapterInfo: &adapterInfo,
	}, nil
}

// IsAvailable checks if WebGPU is available on this system.
func IsAvailable() (available bool) {
	// Recover from panic if wgpu_native library is not found.
	defer func() {
		if r := recover(); r != nil {
			available = false
		}
	}()

	instance := wgpu.CreateInstance(nil)
	defer instance.Release()

	adapter, err := instance.RequestAdapter(nil)
	if err != nil {
		return false
	}
	adapter.Release()

	return true
}

// Name returns the engine name with the adapter it runs on.
func (e *Engine) Name() string {
	if e.adapterInfo != nil {
		return fmt.Sprintf("WebGPU (%s %s)", e.adapterInfo.Name, e.adapterInfo.VendorName)
	}
	return "WebGPU"
}

// Release releases all WebGPU resources.
// Must be called when the engine is no longer needed.
func (e *Engine) Release() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, p := range e.pipelines {
		p.Release()
	}
	e.pipelines = nil

	for _, s := range e.shaders {
		s.Release()
	}
	e.shaders = nil

	if e.queue != nil {
		e.queue.Release()
		e.queue = nil
	}
	if e.device != nil {
		e.device.Release()
		e.device = nil
	}
	if e.adapter != nil {
		e.adapter.Release()
		e.adapter = nil
	}
	if e.instance != nil {
		e.instance.Release()
		e.instance = nil
	}
}

// compileShader compiles WGSL shader code into a ShaderModule.
// Results are cached in the Engine's shaders map.
func (e *Engine) compileShader(name, code string) *wgpu.ShaderModule {
	e.mu.RLock()
	if shader, exists := e.shaders[name]; exists {
		e.mu.RUnlock()
		return shader
	}
	e.mu.RUnlock()

	shader := e.device.CreateShaderModuleWGSL(code)

	e.mu.Lock()
	e.shaders[name] = shader
	e.mu.Unlock()

	return shader
}

// getOrCreatePipeline returns a cached ComputePipeline or creates a new one.
func (e *Engine) getOrCreatePipeline(name, code string) *wgpu.ComputePipeline {
	e.mu.RLock()
	if pipeline, exists := e.pipelines[name]; exists {
		e.mu.RUnlock()
		return pipeline
	}
	e.mu.RUnlock()

	shader := e.compileShader(name, code)

	// Create compute pipeline with auto layout (nil layout)
	pipeline := e.device.CreateComputePipelineSimple(nil, shader, "main")

	e.mu.Lock()
	e.pipelines[name] = pipeline
	e.mu.Unlock()

	return pipeline
}

// createBuffer creates a GPU buffer and uploads initial data.
func (e *Engine) createBuffer(data []byte, usage wgpu.BufferUsage) *wgpu.Buffer {
	size := uint64(len(data))

	buffer := e.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            usage,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})

	mappedPtr := buffer.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	mappedSlice := unsafe.Slice((*byte)(mappedPtr), size)
	copy(mappedSlice, data)
	buffer.Unmap()

	return buffer
}

// createUniformBuffer creates a uniform buffer with proper alignment.
// Uniform buffers require 16-byte alignment for struct fields.
func (e *Engine) createUniformBuffer(data []byte) (*wgpu.Buffer, uint64) {
	size := uint64(len(data))
	alignedSize := (size + 15) &^ 15 // Round up to 16-byte boundary

	buffer := e.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		Size:             alignedSize,
		MappedAtCreation: wgpu.True,
	})

	mappedPtr := buffer.GetMappedRange(0, alignedSize)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	mappedSlice := unsafe.Slice((*byte)(mappedPtr), alignedSize)
	copy(mappedSlice, data)
	buffer.Unmap()

	return buffer, alignedSize
}

// readBuffer reads data back from a GPU buffer to CPU memory.
// Uses a staging buffer since storage buffers can't be mapped directly.
func (e *Engine) readBuffer(srcBuffer *wgpu.Buffer, size uint64) ([]byte, error) {
	stagingBuffer := e.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
	defer stagingBuffer.Release()

	encoder := e.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(srcBuffer, 0, stagingBuffer, 0, size)
	cmdBuffer := encoder.Finish(nil)
	e.queue.Submit(cmdBuffer)

	err := stagingBuffer.MapAsync(e.device, wgpu.MapModeRead, 0, size)
	if err != nil {
		return nil, fmt.Errorf("failed to map staging buffer: %w", err)
	}

	mappedPtr := stagingBuffer.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	mappedSlice := unsafe.Slice((*byte)(mappedPtr), size)
	result := make([]byte, size)
	copy(result, mappedSlice)

	stagingBuffer.Unmap()

	return result, nil
}

func floatBytes(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy conversion between float32 and byte views
	return unsafe.Slice((*byte)(unsafe.Pointer(&v[0])), len(v)*4)
}

// paramsBuf accumulates uniform fields in declaration order and pads the
// result to the 16-byte boundary uniform buffers require.
type paramsBuf struct {
	b []byte
}

func (p *paramsBuf) u32(v int) {
	var tmp [4]byte
	//nolint:gosec // G115: descriptor extents and strides are non-negative
	binary.LittleEndian.PutUint32(tmp[:], uint32(v))
	p.b = append(p.b, tmp[:]...)
}

func (p *paramsBuf) f32(v float32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], math.Float32bits(v))
	p.b = append(p.b, tmp[:]...)
}

func (p *paramsBuf) bytes() []byte {
	for len(p.b)%16 != 0 {
		p.b = append(p.b, 0)
	}
	return p.b
}

// packConvParams fills the uniform block shared by the three convolution
// kernels. The field order must match the Params struct in the shaders.
func packConvParams(w dnn.FilterDesc, conv dnn.ConvDesc, in, out dnn.TensorDesc, alpha, beta float32) []byte {
	kernel, pad, stride, dil := w.Kernel(), conv.Pad(), conv.Stride(), conv.Dilation()
	inD, outD := in.Dims(), out.Dims()
	inS, outS := in.Strides(), out.Strides()

	var p paramsBuf
	p.u32(inD[0])
	p.u32(w.OutputChannels())
	p.u32(w.InputChannels())
	p.u32(int(conv.Mode()))
	p.u32(inD[2])
	p.u32(inD[3])
	p.u32(inD[4])
	p.u32(kernel[0])
	p.u32(kernel[1])
	p.u32(kernel[2])
	p.u32(outD[2])
	p.u32(outD[3])
	p.u32(outD[4])
	p.u32(pad[0])
	p.u32(pad[1])
	p.u32(pad[2])
	p.u32(stride[0])
	p.u32(stride[1])
	p.u32(stride[2])
	p.u32(dil[0])
	p.u32(dil[1])
	p.u32(dil[2])
	for _, s := range inS {
		p.u32(s)
	}
	for _, s := range outS {
		p.u32(s)
	}
	p.f32(alpha)
	p.f32(beta)
	return p.bytes()
}

// workspace is a plain GPU buffer. The engine's kernels are all direct and
// never touch it, but callers may still size and allocate one through the
// usual queries.
type workspace struct {
	buf  *wgpu.Buffer
	size int
}

func (w *workspace) Bytes() int {
	return w.size
}

func (w *workspace) Release() {
	if w.buf != nil {
		w.buf.Release()
		w.buf = nil
	}
	w.size = 0
}

// AllocWorkspace allocates a scratch buffer in GPU memory.
func (e *Engine) AllocWorkspace(bytes int) (dnn.Workspace, error) {
	if bytes < 0 {
		return nil, fmt.Errorf("webgpu: negative workspace size %d", bytes)
	}
	if bytes == 0 {
		return &workspace{}, nil
	}
	buf := e.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage,
		//nolint:gosec // G115: bytes checked non-negative above
		Size: uint64(bytes),
	})
	return &workspace{buf: buf, size: bytes}, nil
}

// ConvolutionForwardWorkspaceSize reports the scratch space the forward pass
// needs. The direct kernels run in place for every algorithm, so the answer
// is always zero.
func (e *Engine) ConvolutionForwardWorkspaceSize(x dnn.TensorDesc, w dnn.FilterDesc, conv dnn.ConvDesc, y dnn.TensorDesc, algo dnn.FwdAlgo) (int, error) {
	if err := checkShapes(x, w, conv, y); err != nil {
		return 0, err
	}
	return 0, nil
}

// ConvolutionBackwardDataWorkspaceSize reports the scratch space for the
// backward data pass; always zero for this engine.
func (e *Engine) ConvolutionBackwardDataWorkspaceSize(w dnn.FilterDesc, dy dnn.TensorDesc, conv dnn.ConvDesc, dx dnn.TensorDesc, algo dnn.BwdDataAlgo) (int, error) {
	if err := checkShapes(dx, w, conv, dy); err != nil {
		return 0, err
	}
	return 0, nil
}

// ConvolutionBackwardFilterWorkspaceSize reports the scratch space for the
// backward filter pass; always zero for this engine.
func (e *Engine) ConvolutionBackwardFilterWorkspaceSize(x dnn.TensorDesc, dy dnn.TensorDesc, conv dnn.ConvDesc, w dnn.FilterDesc, algo dnn.BwdFilterAlgo) (int, error) {
	if err := checkShapes(x, w, conv, dy); err != nil {
		return 0, err
	}
	return 0, nil
}

func checkShapes(x dnn.TensorDesc, w dnn.FilterDesc, conv dnn.ConvDesc, y dnn.TensorDesc) error {
	want, err := dnn.ForwardOutputShape(x, w, conv)
	if err != nil {
		return err
	}
	if y.Dims() != want {
		return fmt.Errorf("webgpu: output dims %v do not match expected %v", y.Dims(), want)
	}
	return nil
}

func checkStorage(name string, desc dnn.TensorDesc, data []float32) error {
	if len(data) < desc.MinStorage() {
		return fmt.Errorf("webgpu: %s storage has %d floats, descriptor needs %d", name, len(data), desc.MinStorage())
	}
	return nil
}
