//go:build windows

package webgpu

import (
	"fmt"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/anandmoghan/kaldi/internal/dnn"
)

// ConvolutionForward computes y = alpha*conv(x, w) + beta*y on the GPU.
// The algo hint is accepted for interface compatibility; every algorithm runs
// the same direct kernel.
func (e *Engine) ConvolutionForward(alpha float32, x dnn.TensorDesc, xData []float32, w dnn.FilterDesc, wData []float32,
	conv dnn.ConvDesc, algo dnn.FwdAlgo, ws dnn.Workspace, beta float32, y dnn.TensorDesc, yData []float32) error {
	if err := checkShapes(x, w, conv, y); err != nil {
		return err
	}
	if err := checkStorage("input", x, xData); err != nil {
		return err
	}
	if err := checkStorage("output", y, yData); err != nil {
		return err
	}

	pipeline := e.getOrCreatePipeline("conv3d_forward", conv3dForwardShader)

	xSize := uint64(x.MinStorage() * 4)
	bufX := e.createBuffer(floatBytes(xData[:x.MinStorage()]), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufX.Release()

	wSize := uint64(w.NumElements() * 4)
	bufW := e.createBuffer(floatBytes(wData[:w.NumElements()]), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufW.Release()

	// The destination is uploaded too so beta can blend with prior contents.
	ySize := uint64(y.MinStorage() * 4)
	bufY := e.createBuffer(floatBytes(yData[:y.MinStorage()]), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc|wgpu.BufferUsageCopyDst)
	defer bufY.Release()

	bufParams, paramsSize := e.createUniformBuffer(packConvParams(w, conv, x, y, alpha, beta))
	defer bufParams.Release()

	bindGroupLayout := pipeline.GetBindGroupLayout(0)
	bindGroup := e.device.CreateBindGroupSimple(bindGroupLayout, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, bufX, 0, xSize),
		wgpu.BufferBindingEntry(1, bufW, 0, wSize),
		wgpu.BufferBindingEntry(2, bufY, 0, ySize),
		wgpu.BufferBindingEntry(3, bufParams, 0, paramsSize),
	})
	defer bindGroup.Release()

	e.execute(pipeline, bindGroup, y.NumElements())

	resultData, err := e.readBuffer(bufY, ySize)
	if err != nil {
		return err
	}
	copy(floatBytes(yData[:y.MinStorage()]), resultData)
	return nil
}

// ConvolutionBackwardData computes dx = alpha*bwd_data(w, dy) + beta*dx on the GPU.
func (e *Engine) ConvolutionBackwardData(alpha float32, w dnn.FilterDesc, wData []float32, dy dnn.TensorDesc, dyData []float32,
	conv dnn.ConvDesc, algo dnn.BwdDataAlgo, ws dnn.Workspace, beta float32, dx dnn.TensorDesc, dxData []float32) error {
	if err := checkShapes(dx, w, conv, dy); err != nil {
		return err
	}
	if err := checkStorage("output gradient", dy, dyData); err != nil {
		return err
	}
	if err := checkStorage("input gradient", dx, dxData); err != nil {
		return err
	}

	pipeline := e.getOrCreatePipeline("conv3d_backward_data", conv3dBackwardDataShader)

	wSize := uint64(w.NumElements() * 4)
	bufW := e.createBuffer(floatBytes(wData[:w.NumElements()]), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufW.Release()

	dySize := uint64(dy.MinStorage() * 4)
	bufDy := e.createBuffer(floatBytes(dyData[:dy.MinStorage()]), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufDy.Release()

	dxSize := uint64(dx.MinStorage() * 4)
	bufDx := e.createBuffer(floatBytes(dxData[:dx.MinStorage()]), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc|wgpu.BufferUsageCopyDst)
	defer bufDx.Release()

	bufParams, paramsSize := e.createUniformBuffer(packConvParams(w, conv, dx, dy, alpha, beta))
	defer bufParams.Release()

	bindGroupLayout := pipeline.GetBindGroupLayout(0)
	bindGroup := e.device.CreateBindGroupSimple(bindGroupLayout, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, bufW, 0, wSize),
		wgpu.BufferBindingEntry(1, bufDy, 0, dySize),
		wgpu.BufferBindingEntry(2, bufDx, 0, dxSize),
		wgpu.BufferBindingEntry(3, bufParams, 0, paramsSize),
	})
	defer bindGroup.Release()

	e.execute(pipeline, bindGroup, dx.NumElements())

	resultData, err := e.readBuffer(bufDx, dxSize)
	if err != nil {
		return err
	}
	copy(floatBytes(dxData[:dx.MinStorage()]), resultData)
	return nil
}

// ConvolutionBackwardFilter computes dw = alpha*bwd_filter(x, dy) + beta*dw on the GPU.
func (e *Engine) ConvolutionBackwardFilter(alpha float32, x dnn.TensorDesc, xData []float32, dy dnn.TensorDesc, dyData []float32,
	conv dnn.ConvDesc, algo dnn.BwdFilterAlgo, ws dnn.Workspace, beta float32, w dnn.FilterDesc, dwData []float32) error {
	if err := checkShapes(x, w, conv, dy); err != nil {
		return err
	}
	if err := checkStorage("input", x, xData); err != nil {
		return err
	}
	if err := checkStorage("output gradient", dy, dyData); err != nil {
		return err
	}

	pipeline := e.getOrCreatePipeline("conv3d_backward_filter", conv3dBackwardFilterShader)

	xSize := uint64(x.MinStorage() * 4)
	bufX := e.createBuffer(floatBytes(xData[:x.MinStorage()]), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufX.Release()

	dySize := uint64(dy.MinStorage() * 4)
	bufDy := e.createBuffer(floatBytes(dyData[:dy.MinStorage()]), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufDy.Release()

	dwSize := uint64(w.NumElements() * 4)
	bufDw := e.createBuffer(floatBytes(dwData[:w.NumElements()]), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc|wgpu.BufferUsageCopyDst)
	defer bufDw.Release()

	bufParams, paramsSize := e.createUniformBuffer(packConvParams(w, conv, x, dy, alpha, beta))
	defer bufParams.Release()

	bindGroupLayout := pipeline.GetBindGroupLayout(0)
	bindGroup := e.device.CreateBindGroupSimple(bindGroupLayout, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, bufX, 0, xSize),
		wgpu.BufferBindingEntry(1, bufDy, 0, dySize),
		wgpu.BufferBindingEntry(2, bufDw, 0, dwSize),
		wgpu.BufferBindingEntry(3, bufParams, 0, paramsSize),
	})
	defer bindGroup.Release()

	e.execute(pipeline, bindGroup, w.NumElements())

	resultData, err := e.readBuffer(bufDw, dwSize)
	if err != nil {
		return err
	}
	copy(floatBytes(dwData[:w.NumElements()]), resultData)
	return nil
}

// ConvolutionBackwardBias computes db = alpha*sum(dy) + beta*db on the GPU.
func (e *Engine) ConvolutionBackwardBias(alpha float32, dy dnn.TensorDesc, dyData []float32,
	beta float32, db dnn.TensorDesc, dbData []float32) error {
	dbd, yd := db.Dims(), dy.Dims()
	if dbd[0] != 1 || dbd[2] != 1 || dbd[3] != 1 || dbd[4] != 1 {
		return fmt.Errorf("webgpu: bias tensor must be [1, c, 1, 1, 1], got %v", dbd)
	}
	if dbd[1] != yd[1] {
		return fmt.Errorf("webgpu: bias has %d channels, output gradient has %d", dbd[1], yd[1])
	}
	if err := checkStorage("output gradient", dy, dyData); err != nil {
		return err
	}
	if err := checkStorage("bias gradient", db, dbData); err != nil {
		return err
	}

	pipeline := e.getOrCreatePipeline("conv3d_backward_bias", conv3dBackwardBiasShader)

	dySize := uint64(dy.MinStorage() * 4)
	bufDy := e.createBuffer(floatBytes(dyData[:dy.MinStorage()]), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufDy.Release()

	dbSize := uint64(db.MinStorage() * 4)
	bufDb := e.createBuffer(floatBytes(dbData[:db.MinStorage()]), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc|wgpu.BufferUsageCopyDst)
	defer bufDb.Release()

	ys := dy.Strides()
	var p paramsBuf
	p.u32(yd[0])
	p.u32(yd[1])
	p.u32(yd[2])
	p.u32(yd[3])
	p.u32(yd[4])
	for _, s := range ys {
		p.u32(s)
	}
	p.u32(db.Strides()[1])
	p.f32(alpha)
	p.f32(beta)
	bufParams, paramsSize := e.createUniformBuffer(p.bytes())
	defer bufParams.Release()

	bindGroupLayout := pipeline.GetBindGroupLayout(0)
	bindGroup := e.device.CreateBindGroupSimple(bindGroupLayout, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, bufDy, 0, dySize),
		wgpu.BufferBindingEntry(1, bufDb, 0, dbSize),
		wgpu.BufferBindingEntry(2, bufParams, 0, paramsSize),
	})
	defer bindGroup.Release()

	e.execute(pipeline, bindGroup, yd[1])

	resultData, err := e.readBuffer(bufDb, dbSize)
	if err != nil {
		return err
	}
	copy(floatBytes(dbData[:db.MinStorage()]), resultData)
	return nil
}

// AddTensor computes y = alpha*b + beta*y on the GPU, broadcasting b along
// every axis where its dimension is 1.
func (e *Engine) AddTensor(alpha float32, b dnn.TensorDesc, bData []float32, beta float32, y dnn.TensorDesc, yData []float32) error {
	bd, yd := b.Dims(), y.Dims()
	for i := 0; i < dnn.NumDims; i++ {
		if bd[i] != yd[i] && bd[i] != 1 {
			return fmt.Errorf("webgpu: cannot broadcast dims %v onto %v", bd, yd)
		}
	}
	if err := checkStorage("addend", b, bData); err != nil {
		return err
	}
	if err := checkStorage("destination", y, yData); err != nil {
		return err
	}

	pipeline := e.getOrCreatePipeline("add_tensor", addTensorShader)

	bSize := uint64(b.MinStorage() * 4)
	bufB := e.createBuffer(floatBytes(bData[:b.MinStorage()]), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufB.Release()

	ySize := uint64(y.MinStorage() * 4)
	bufY := e.createBuffer(floatBytes(yData[:y.MinStorage()]), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc|wgpu.BufferUsageCopyDst)
	defer bufY.Release()

	var p paramsBuf
	for _, d := range yd {
		p.u32(d)
	}
	for _, d := range bd {
		p.u32(d)
	}
	for _, s := range b.Strides() {
		p.u32(s)
	}
	for _, s := range y.Strides() {
		p.u32(s)
	}
	p.f32(alpha)
	p.f32(beta)
	bufParams, paramsSize := e.createUniformBuffer(p.bytes())
	defer bufParams.Release()

	bindGroupLayout := pipeline.GetBindGroupLayout(0)
	bindGroup := e.device.CreateBindGroupSimple(bindGroupLayout, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, bufB, 0, bSize),
		wgpu.BufferBindingEntry(1, bufY, 0, ySize),
		wgpu.BufferBindingEntry(2, bufParams, 0, paramsSize),
	})
	defer bindGroup.Release()

	e.execute(pipeline, bindGroup, y.NumElements())

	resultData, err := e.readBuffer(bufY, ySize)
	if err != nil {
		return err
	}
	copy(floatBytes(yData[:y.MinStorage()]), resultData)
	return nil
}

// TransformTensor computes y = alpha*x + beta*y between two tensors with the
// same dimensions but arbitrary strides.
func (e *Engine) TransformTensor(alpha float32, x dnn.TensorDesc, xData []float32, beta float32, y dnn.TensorDesc, yData []float32) error {
	xd, yd := x.Dims(), y.Dims()
	if xd != yd {
		return fmt.Errorf("webgpu: transform requires identical dims, got %v and %v", xd, yd)
	}
	if err := checkStorage("source", x, xData); err != nil {
		return err
	}
	if err := checkStorage("destination", y, yData); err != nil {
		return err
	}

	pipeline := e.getOrCreatePipeline("transform_tensor", transformTensorShader)

	xSize := uint64(x.MinStorage() * 4)
	bufX := e.createBuffer(floatBytes(xData[:x.MinStorage()]), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufX.Release()

	ySize := uint64(y.MinStorage() * 4)
	bufY := e.createBuffer(floatBytes(yData[:y.MinStorage()]), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc|wgpu.BufferUsageCopyDst)
	defer bufY.Release()

	var p paramsBuf
	for _, d := range yd {
		p.u32(d)
	}
	for _, s := range x.Strides() {
		p.u32(s)
	}
	for _, s := range y.Strides() {
		p.u32(s)
	}
	p.f32(alpha)
	p.f32(beta)
	bufParams, paramsSize := e.createUniformBuffer(p.bytes())
	defer bufParams.Release()

	bindGroupLayout := pipeline.GetBindGroupLayout(0)
	bindGroup := e.device.CreateBindGroupSimple(bindGroupLayout, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, bufX, 0, xSize),
		wgpu.BufferBindingEntry(1, bufY, 0, ySize),
		wgpu.BufferBindingEntry(2, bufParams, 0, paramsSize),
	})
	defer bindGroup.Release()

	e.execute(pipeline, bindGroup, y.NumElements())

	resultData, err := e.readBuffer(bufY, ySize)
	if err != nil {
		return err
	}
	copy(floatBytes(yData[:y.MinStorage()]), resultData)
	return nil
}

// execute dispatches one compute pass with enough workgroups to cover total
// threads and submits it.
func (e *Engine) execute(pipeline *wgpu.ComputePipeline, bindGroup *wgpu.BindGroup, total int) {
	encoder := e.device.CreateCommandEncoder(nil)
	computePass := encoder.BeginComputePass(nil)

	computePass.SetPipeline(pipeline)
	computePass.SetBindGroup(0, bindGroup, nil)

	//nolint:gosec // G115: workgroup count is non-negative
	workgroups := uint32((total + workgroupSize - 1) / workgroupSize)
	computePass.DispatchWorkgroups(workgroups, 1, 1)
	computePass.End()

	cmdBuffer := encoder.Finish(nil)
	e.queue.Submit(cmdBuffer)
}
