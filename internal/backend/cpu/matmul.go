package cpu

import (
	"fmt"

	"github.com/reweave-ml/reweave/internal/parallel"
	"github.com/reweave-ml/reweave/internal/tensor"
)

// MatMul performs 2D matrix multiplication: [M, K] @ [K, N] -> [M, N].
// Rows of the output are computed independently across workers.
func (cpu *CPUBackend) MatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	aShape, bShape := a.Shape(), b.Shape()
	if len(aShape) != 2 || len(bShape) != 2 {
		panic(fmt.Sprintf("matmul: expected 2D tensors, got %dD and %dD", len(aShape), len(bShape)))
	}
	if aShape[1] != bShape[0] {
		panic(fmt.Sprintf("matmul: inner dimensions do not match: %v @ %v", aShape, bShape))
	}

	m, k, n := aShape[0], aShape[1], bShape[1]
	out := mustNewRaw(tensor.Shape{m, n}, a.DType(), cpu.device)

	av := a.AsFloat32()
	bv := b.AsFloat32()
	ov := out.AsFloat32()

	parallel.For(m, func(i int) {
		aRow := av[i*k : (i+1)*k]
		oRow := ov[i*n : (i+1)*n]
		for kk := 0; kk < k; kk++ {
			aik := aRow[kk]
			if aik == 0 {
				continue
			}
			bRow := bv[kk*n : (kk+1)*n]
			for j := 0; j < n; j++ {
				oRow[j] += aik * bRow[j]
			}
		}
	}, cpu.parallel)

	return out
}
