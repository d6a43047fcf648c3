package cpu

import (
	"fmt"
	"math"

	"github.com/reweave-ml/reweave/internal/parallel"
	"github.com/reweave-ml/reweave/internal/tensor"
)

// BatchNorm2D applies inference-mode batch normalization over the channel
// dimension of a [N, C, H, W] input:
//
//	y = weight * (x - mean) / sqrt(variance + eps) + bias
//
// mean and variance are the recorded running statistics, not batch
// statistics: the converter only ever evaluates frozen pretrained models.
func (cpu *CPUBackend) BatchNorm2D(input, weight, bias, mean, variance *tensor.RawTensor, eps float32) *tensor.RawTensor {
	inputShape := input.Shape()
	if len(inputShape) != 4 {
		panic(fmt.Sprintf("batchnorm2d: expected 4D input [N,C,H,W], got %dD", len(inputShape)))
	}

	n, c, h, w := inputShape[0], inputShape[1], inputShape[2], inputShape[3]
	for name, t := range map[string]*tensor.RawTensor{
		"weight": weight, "bias": bias, "mean": mean, "variance": variance,
	} {
		if !t.Shape().Equal(tensor.Shape{c}) {
			panic(fmt.Sprintf("batchnorm2d: %s shape %v does not match %d channels", name, t.Shape(), c))
		}
	}

	output := mustNewRaw(inputShape, input.DType(), cpu.device)

	in := input.AsFloat32()
	out := output.AsFloat32()
	wv := weight.AsFloat32()
	bv := bias.AsFloat32()
	mv := mean.AsFloat32()
	vv := variance.AsFloat32()

	planeSize := h * w
	parallel.ForBatch(n, c, func(b, ch int) {
		// Fold the affine transform into one multiply-add per element.
		invStd := float32(1.0 / math.Sqrt(float64(vv[ch])+float64(eps)))
		scale := wv[ch] * invStd
		shift := bv[ch] - mv[ch]*scale

		offset := (b*c + ch) * planeSize
		inPlane := in[offset : offset+planeSize]
		outPlane := out[offset : offset+planeSize]
		for i, v := range inPlane {
			outPlane[i] = v*scale + shift
		}
	}, cpu.parallel)

	return output
}
