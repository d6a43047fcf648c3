// Package cpu implements the pure-Go CPU backend used for conversion and
// verification forward passes.
package cpu

import (
	"fmt"

	"github.com/reweave-ml/reweave/internal/parallel"
	"github.com/reweave-ml/reweave/internal/tensor"
)

// CPUBackend implements tensor operations on CPU.
// Convolution and pooling loops are spread over a worker pool.
type CPUBackend struct {
	device   tensor.Device
	parallel parallel.Config
}

// New creates a new CPU backend.
func New() *CPUBackend {
	return &CPUBackend{
		device:   tensor.CPU,
		parallel: parallel.DefaultConfig(),
	}
}

// NewSequential creates a CPU backend that never spawns workers.
// Useful for deterministic profiling and small test inputs.
func NewSequential() *CPUBackend {
	return &CPUBackend{
		device:   tensor.CPU,
		parallel: parallel.Config{Enabled: false},
	}
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Device returns the compute device.
func (cpu *CPUBackend) Device() tensor.Device {
	return cpu.device
}

// Add performs element-wise addition. The second operand may broadcast:
// every dimension of b must equal the matching dimension of a or be 1
// (after left-padding b's shape with 1s).
func (cpu *CPUBackend) Add(a, b *tensor.RawTensor) *tensor.RawTensor {
	out := mustNewRaw(a.Shape(), a.DType(), cpu.device)

	av := a.AsFloat32()
	ov := out.AsFloat32()

	if a.Shape().Equal(b.Shape()) {
		bv := b.AsFloat32()
		for i := range av {
			ov[i] = av[i] + bv[i]
		}
		return out
	}

	bShape := padShape(b.Shape(), len(a.Shape()))
	for i, dim := range bShape {
		if dim != 1 && dim != a.Shape()[i] {
			panic(fmt.Sprintf("add: cannot broadcast %v to %v", b.Shape(), a.Shape()))
		}
	}

	bv := b.AsFloat32()
	aStrides := a.Shape().ComputeStrides()
	bStrides := bShape.ComputeStrides()

	for i := range av {
		// Map the flat output index to the broadcast source index.
		bIdx := 0
		rem := i
		for d := range aStrides {
			coord := rem / aStrides[d]
			rem %= aStrides[d]
			if bShape[d] != 1 {
				bIdx += coord * bStrides[d]
			}
		}
		ov[i] = av[i] + bv[bIdx]
	}
	return out
}

// Reshape returns a view of t with a new shape.
// The element count must be preserved.
func (cpu *CPUBackend) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	if newShape.NumElements() != t.NumElements() {
		panic(fmt.Sprintf("reshape: cannot reshape %v (%d elements) to %v (%d elements)",
			t.Shape(), t.NumElements(), newShape, newShape.NumElements()))
	}
	out := mustNewRaw(newShape, t.DType(), cpu.device)
	copy(out.Data(), t.Data())
	return out
}

// Transpose swaps the axes of a 2D tensor.
func (cpu *CPUBackend) Transpose(t *tensor.RawTensor) *tensor.RawTensor {
	shape := t.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("transpose: expected 2D tensor, got %dD", len(shape)))
	}
	rows, cols := shape[0], shape[1]

	out := mustNewRaw(tensor.Shape{cols, rows}, t.DType(), cpu.device)
	tv := t.AsFloat32()
	ov := out.AsFloat32()
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			ov[c*rows+r] = tv[r*cols+c]
		}
	}
	return out
}

// ReLU applies max(0, x) element-wise.
func (cpu *CPUBackend) ReLU(x *tensor.RawTensor) *tensor.RawTensor {
	out := mustNewRaw(x.Shape(), x.DType(), cpu.device)
	xv := x.AsFloat32()
	ov := out.AsFloat32()
	for i := range xv {
		if xv[i] > 0 {
			ov[i] = xv[i]
		}
	}
	return out
}

// mustNewRaw allocates an output tensor, panicking on an invalid shape.
// Backend ops panic on shape errors; callers validate inputs.
func mustNewRaw(shape tensor.Shape, dtype tensor.DataType, device tensor.Device) *tensor.RawTensor {
	if dtype != tensor.Float32 {
		panic(fmt.Sprintf("cpu: unsupported dtype %s (only float32 inference is implemented)", dtype))
	}
	out, err := tensor.NewRaw(shape, dtype, device)
	if err != nil {
		panic(fmt.Sprintf("cpu: failed to allocate output tensor: %v", err))
	}
	return out
}

// padShape left-pads a shape with 1s up to rank n.
func padShape(s tensor.Shape, n int) tensor.Shape {
	if len(s) >= n {
		return s
	}
	padded := make(tensor.Shape, n)
	for i := range padded {
		padded[i] = 1
	}
	copy(padded[n-len(s):], s)
	return padded
}
