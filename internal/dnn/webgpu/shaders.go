//go:build windows

// Package webgpu provides embedded WGSL compute shaders for the convolution kernels.
package webgpu

// WGSL compute shaders for the 3-D convolution primitives.
// Using string constants instead of embed for simplicity.

// workgroupSize is the default number of threads per workgroup.
const workgroupSize = 256

// convParams is the uniform block shared by the three convolution kernels.
// The input-side fields describe x (forward), dx (backward data) or x
// (backward filter); the output-side fields describe y or dy.
const convParams = `
struct Params {
    batch: u32,
    out_channels: u32,
    in_channels: u32,
    mode: u32,
    in_x: u32,
    in_y: u32,
    in_z: u32,
    k_x: u32,
    k_y: u32,
    k_z: u32,
    out_x: u32,
    out_y: u32,
    out_z: u32,
    pad_x: u32,
    pad_y: u32,
    pad_z: u32,
    str_x: u32,
    str_y: u32,
    str_z: u32,
    dil_x: u32,
    dil_y: u32,
    dil_z: u32,
    in_s0: u32,
    in_s1: u32,
    in_s2: u32,
    in_s3: u32,
    in_s4: u32,
    out_s0: u32,
    out_s1: u32,
    out_s2: u32,
    out_s3: u32,
    out_s4: u32,
    alpha: f32,
    beta: f32,
}
`

// conv3dForwardShader computes y = alpha*conv(x, w) + beta*y with one thread
// per output element. The filter is packed [K, C, kX, kY, kZ]; x and y are
// addressed through their strides so any layout works.
const conv3dForwardShader = `
@group(0) @binding(0) var<storage, read> x: array<f32>;
@group(0) @binding(1) var<storage, read> w: array<f32>;
@group(0) @binding(2) var<storage, read_write> result: array<f32>;
` + convParams + `
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    let total = params.batch * params.out_channels * params.out_x * params.out_y * params.out_z;
    if (idx >= total) {
        return;
    }

    var rem = idx;
    let oz = rem % params.out_z; rem = rem / params.out_z;
    let oy = rem % params.out_y; rem = rem / params.out_y;
    let ox = rem % params.out_x; rem = rem / params.out_x;
    let k = rem % params.out_channels;
    let n = rem / params.out_channels;

    var sum: f32 = 0.0;
    for (var c: u32 = 0u; c < params.in_channels; c = c + 1u) {
        for (var kx: u32 = 0u; kx < params.k_x; kx = kx + 1u) {
            var ekx = kx;
            if (params.mode == 1u) { ekx = params.k_x - 1u - kx; }
            let ix = i32(ox * params.str_x + ekx * params.dil_x) - i32(params.pad_x);
            if (ix < 0 || ix >= i32(params.in_x)) {
                continue;
            }
            for (var ky: u32 = 0u; ky < params.k_y; ky = ky + 1u) {
                var eky = ky;
                if (params.mode == 1u) { eky = params.k_y - 1u - ky; }
                let iy = i32(oy * params.str_y + eky * params.dil_y) - i32(params.pad_y);
                if (iy < 0 || iy >= i32(params.in_y)) {
                    continue;
                }
                for (var kz: u32 = 0u; kz < params.k_z; kz = kz + 1u) {
                    var ekz = kz;
                    if (params.mode == 1u) { ekz = params.k_z - 1u - kz; }
                    let iz = i32(oz * params.str_z + ekz * params.dil_z) - i32(params.pad_z);
                    if (iz < 0 || iz >= i32(params.in_z)) {
                        continue;
                    }
                    let x_off = n * params.in_s0 + c * params.in_s1 +
                        u32(ix) * params.in_s2 + u32(iy) * params.in_s3 + u32(iz) * params.in_s4;
                    let w_off = (((k * params.in_channels + c) * params.k_x + kx) * params.k_y + ky) * params.k_z + kz;
                    sum = sum + x[x_off] * w[w_off];
                }
            }
        }
    }

    let y_off = n * params.out_s0 + k * params.out_s1 +
        ox * params.out_s2 + oy * params.out_s3 + oz * params.out_s4;
    if (params.beta == 0.0) {
        result[y_off] = params.alpha * sum;
    } else {
        result[y_off] = params.alpha * sum + params.beta * result[y_off];
    }
}
`

// conv3dBackwardDataShader computes dx = alpha*bwd_data(w, dy) + beta*dx with
// one thread per input element. An output position contributes when the
// input index lands exactly on its stride grid.
const conv3dBackwardDataShader = `
@group(0) @binding(0) var<storage, read> w: array<f32>;
@group(0) @binding(1) var<storage, read> dy: array<f32>;
@group(0) @binding(2) var<storage, read_write> result: array<f32>;
` + convParams + `
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    let total = params.batch * params.in_channels * params.in_x * params.in_y * params.in_z;
    if (idx >= total) {
        return;
    }

    var rem = idx;
    let iz = rem % params.in_z; rem = rem / params.in_z;
    let iy = rem % params.in_y; rem = rem / params.in_y;
    let ix = rem % params.in_x; rem = rem / params.in_x;
    let c = rem % params.in_channels;
    let n = rem / params.in_channels;

    var sum: f32 = 0.0;
    for (var k: u32 = 0u; k < params.out_channels; k = k + 1u) {
        for (var kx: u32 = 0u; kx < params.k_x; kx = kx + 1u) {
            var ekx = kx;
            if (params.mode == 1u) { ekx = params.k_x - 1u - kx; }
            let tx = i32(ix + params.pad_x) - i32(ekx * params.dil_x);
            if (tx < 0 || u32(tx) % params.str_x != 0u) {
                continue;
            }
            let ox = u32(tx) / params.str_x;
            if (ox >= params.out_x) {
                continue;
            }
            for (var ky: u32 = 0u; ky < params.k_y; ky = ky + 1u) {
                var eky = ky;
                if (params.mode == 1u) { eky = params.k_y - 1u - ky; }
                let ty = i32(iy + params.pad_y) - i32(eky * params.dil_y);
                if (ty < 0 || u32(ty) % params.str_y != 0u) {
                    continue;
                }
                let oy = u32(ty) / params.str_y;
                if (oy >= params.out_y) {
                    continue;
                }
                for (var kz: u32 = 0u; kz < params.k_z; kz = kz + 1u) {
                    var ekz = kz;
                    if (params.mode == 1u) { ekz = params.k_z - 1u - kz; }
                    let tz = i32(iz + params.pad_z) - i32(ekz * params.dil_z);
                    if (tz < 0 || u32(tz) % params.str_z != 0u) {
                        continue;
                    }
                    let oz = u32(tz) / params.str_z;
                    if (oz >= params.out_z) {
                        continue;
                    }
                    let w_off = (((k * params.in_channels + c) * params.k_x + kx) * params.k_y + ky) * params.k_z + kz;
                    let dy_off = n * params.out_s0 + k * params.out_s1 +
                        ox * params.out_s2 + oy * params.out_s3 + oz * params.out_s4;
                    sum = sum + w[w_off] * dy[dy_off];
                }
            }
        }
    }

    let dx_off = n * params.in_s0 + c * params.in_s1 +
        ix * params.in_s2 + iy * params.in_s3 + iz * params.in_s4;
    if (params.beta == 0.0) {
        result[dx_off] = params.alpha * sum;
    } else {
        result[dx_off] = params.alpha * sum + params.beta * result[dx_off];
    }
}
`

// conv3dBackwardFilterShader computes dw = alpha*bwd_filter(x, dy) + beta*dw
// with one thread per filter element; the thread sums x*dy over the batch and
// every output position its kernel tap touches.
const conv3dBackwardFilterShader = `
@group(0) @binding(0) var<storage, read> x: array<f32>;
@group(0) @binding(1) var<storage, read> dy: array<f32>;
@group(0) @binding(2) var<storage, read_write> result: array<f32>;
` + convParams + `
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    let total = params.out_channels * params.in_channels * params.k_x * params.k_y * params.k_z;
    if (idx >= total) {
        return;
    }

    var rem = idx;
    let kz = rem % params.k_z; rem = rem / params.k_z;
    let ky = rem % params.k_y; rem = rem / params.k_y;
    let kx = rem % params.k_x; rem = rem / params.k_x;
    let c = rem % params.in_channels;
    let k = rem / params.in_channels;

    var ekx = kx;
    var eky = ky;
    var ekz = kz;
    if (params.mode == 1u) {
        ekx = params.k_x - 1u - kx;
        eky = params.k_y - 1u - ky;
        ekz = params.k_z - 1u - kz;
    }

    var sum: f32 = 0.0;
    for (var n: u32 = 0u; n < params.batch; n = n + 1u) {
        for (var ox: u32 = 0u; ox < params.out_x; ox = ox + 1u) {
            let ix = i32(ox * params.str_x + ekx * params.dil_x) - i32(params.pad_x);
            if (ix < 0 || ix >= i32(params.in_x)) {
                continue;
            }
            for (var oy: u32 = 0u; oy < params.out_y; oy = oy + 1u) {
                let iy = i32(oy * params.str_y + eky * params.dil_y) - i32(params.pad_y);
                if (iy < 0 || iy >= i32(params.in_y)) {
                    continue;
                }
                for (var oz: u32 = 0u; oz < params.out_z; oz = oz + 1u) {
                    let iz = i32(oz * params.str_z + ekz * params.dil_z) - i32(params.pad_z);
                    if (iz < 0 || iz >= i32(params.in_z)) {
                        continue;
                    }
                    let x_off = n * params.in_s0 + c * params.in_s1 +
                        u32(ix) * params.in_s2 + u32(iy) * params.in_s3 + u32(iz) * params.in_s4;
                    let dy_off = n * params.out_s0 + k * params.out_s1 +
                        ox * params.out_s2 + oy * params.out_s3 + oz * params.out_s4;
                    sum = sum + x[x_off] * dy[dy_off];
                }
            }
        }
    }

    if (params.beta == 0.0) {
        result[idx] = params.alpha * sum;
    } else {
        result[idx] = params.alpha * sum + params.beta * result[idx];
    }
}
`

// conv3dBackwardBiasShader sums dy over batch and space into one value per
// channel: db = alpha*sum + beta*db.
const conv3dBackwardBiasShader = `
@group(0) @binding(0) var<storage, read> dy: array<f32>;
@group(0) @binding(1) var<storage, read_write> result: array<f32>;

struct Params {
    batch: u32,
    channels: u32,
    out_x: u32,
    out_y: u32,
    out_z: u32,
    dy_s0: u32,
    dy_s1: u32,
    dy_s2: u32,
    dy_s3: u32,
    dy_s4: u32,
    db_s1: u32,
    alpha: f32,
    beta: f32,
}
@group(0) @binding(2) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let c = global_id.x;
    if (c >= params.channels) {
        return;
    }

    var sum: f32 = 0.0;
    for (var n: u32 = 0u; n < params.batch; n = n + 1u) {
        for (var ox: u32 = 0u; ox < params.out_x; ox = ox + 1u) {
            for (var oy: u32 = 0u; oy < params.out_y; oy = oy + 1u) {
                for (var oz: u32 = 0u; oz < params.out_z; oz = oz + 1u) {
                    let off = n * params.dy_s0 + c * params.dy_s1 +
                        ox * params.dy_s2 + oy * params.dy_s3 + oz * params.dy_s4;
                    sum = sum + dy[off];
                }
            }
        }
    }

    let out = c * params.db_s1;
    if (params.beta == 0.0) {
        result[out] = params.alpha * sum;
    } else {
        result[out] = params.alpha * sum + params.beta * result[out];
    }
}
`

// addTensorShader computes y = alpha*b + beta*y, broadcasting b along every
// axis whose extent is 1.
const addTensorShader = `
@group(0) @binding(0) var<storage, read> b: array<f32>;
@group(0) @binding(1) var<storage, read_write> result: array<f32>;

struct Params {
    d0: u32,
    d1: u32,
    d2: u32,
    d3: u32,
    d4: u32,
    b_d0: u32,
    b_d1: u32,
    b_d2: u32,
    b_d3: u32,
    b_d4: u32,
    b_s0: u32,
    b_s1: u32,
    b_s2: u32,
    b_s3: u32,
    b_s4: u32,
    y_s0: u32,
    y_s1: u32,
    y_s2: u32,
    y_s3: u32,
    y_s4: u32,
    alpha: f32,
    beta: f32,
}
@group(0) @binding(2) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    let total = params.d0 * params.d1 * params.d2 * params.d3 * params.d4;
    if (idx >= total) {
        return;
    }

    var rem = idx;
    let i4 = rem % params.d4; rem = rem / params.d4;
    let i3 = rem % params.d3; rem = rem / params.d3;
    let i2 = rem % params.d2; rem = rem / params.d2;
    let i1 = rem % params.d1;
    let i0 = rem / params.d1;

    var b0 = i0; if (params.b_d0 == 1u) { b0 = 0u; }
    var b1 = i1; if (params.b_d1 == 1u) { b1 = 0u; }
    var b2 = i2; if (params.b_d2 == 1u) { b2 = 0u; }
    var b3 = i3; if (params.b_d3 == 1u) { b3 = 0u; }
    var b4 = i4; if (params.b_d4 == 1u) { b4 = 0u; }

    let b_off = b0 * params.b_s0 + b1 * params.b_s1 + b2 * params.b_s2 + b3 * params.b_s3 + b4 * params.b_s4;
    let y_off = i0 * params.y_s0 + i1 * params.y_s1 + i2 * params.y_s2 + i3 * params.y_s3 + i4 * params.y_s4;
    if (params.beta == 0.0) {
        result[y_off] = params.alpha * b[b_off];
    } else {
        result[y_off] = params.alpha * b[b_off] + params.beta * result[y_off];
    }
}
`

// transformTensorShader computes y = alpha*x + beta*y between two tensors of
// identical dimensions but different strides.
const transformTensorShader = `
@group(0) @binding(0) var<storage, read> x: array<f32>;
@group(0) @binding(1) var<storage, read_write> result: array<f32>;

struct Params {
    d0: u32,
    d1: u32,
    d2: u32,
    d3: u32,
    d4: u32,
    x_s0: u32,
    x_s1: u32,
    x_s2: u32,
    x_s3: u32,
    x_s4: u32,
    y_s0: u32,
    y_s1: u32,
    y_s2: u32,
    y_s3: u32,
    y_s4: u32,
    alpha: f32,
    beta: f32,
}
@group(0) @binding(2) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    let total = params.d0 * params.d1 * params.d2 * params.d3 * params.d4;
    if (idx >= total) {
        return;
    }

    var rem = idx;
    let i4 = rem % params.d4; rem = rem / params.d4;
    let i3 = rem % params.d3; rem = rem / params.d3;
    let i2 = rem % params.d2; rem = rem / params.d2;
    let i1 = rem % params.d1;
    let i0 = rem / params.d1;

    let x_off = i0 * params.x_s0 + i1 * params.x_s1 + i2 * params.x_s2 + i3 * params.x_s3 + i4 * params.x_s4;
    let y_off = i0 * params.y_s0 + i1 * params.y_s1 + i2 * params.y_s2 + i3 * params.y_s3 + i4 * params.y_s4;
    if (params.beta == 0.0) {
        result[y_off] = params.alpha * x[x_off];
    } else {
        result[y_off] = params.alpha * x[x_off] + params.beta * result[y_off];
    }
}
`
