package cpu

import (
	"fmt"
	"math"

	"github.com/reweave-ml/reweave/internal/parallel"
	"github.com/reweave-ml/reweave/internal/tensor"
)

// MaxPool2D performs 2D max pooling with implicit -inf padding.
//
// Input shape:  [batch, channels, height, width]
// Output shape: [batch, channels, out_height, out_width]
//
// Where:
//
//	out_height = (height + 2*padding - kernelSize) / stride + 1
//	out_width = (width + 2*padding - kernelSize) / stride + 1
//
// ResNet stems use a padded 3x3 pool (kernel=3, stride=2, padding=1).
func (cpu *CPUBackend) MaxPool2D(input *tensor.RawTensor, kernelSize, stride, padding int) *tensor.RawTensor {
	inputShape := input.Shape()
	if len(inputShape) != 4 {
		panic(fmt.Sprintf("maxpool2d: expected 4D input [N,C,H,W], got %dD", len(inputShape)))
	}
	if kernelSize <= 0 || stride <= 0 || padding < 0 {
		panic(fmt.Sprintf("maxpool2d: invalid kernel=%d stride=%d padding=%d", kernelSize, stride, padding))
	}

	n, c, h, w := inputShape[0], inputShape[1], inputShape[2], inputShape[3]

	hOut := (h+2*padding-kernelSize)/stride + 1
	wOut := (w+2*padding-kernelSize)/stride + 1
	if hOut <= 0 || wOut <= 0 {
		panic(fmt.Sprintf("maxpool2d: invalid output dimensions %dx%d (kernel=%d, stride=%d, input=%dx%d)",
			hOut, wOut, kernelSize, stride, h, w))
	}

	output := mustNewRaw(tensor.Shape{n, c, hOut, wOut}, input.DType(), cpu.device)

	in := input.AsFloat32()
	out := output.AsFloat32()

	parallel.ForBatch(n, c, func(b, ch int) {
		inPlane := in[(b*c+ch)*h*w:]
		outPlane := out[(b*c+ch)*hOut*wOut:]
		for oh := 0; oh < hOut; oh++ {
			for ow := 0; ow < wOut; ow++ {
				maxVal := float32(math.Inf(-1))
				hStart := oh*stride - padding
				wStart := ow*stride - padding
				for ki := 0; ki < kernelSize; ki++ {
					ih := hStart + ki
					if ih < 0 || ih >= h {
						continue
					}
					for kj := 0; kj < kernelSize; kj++ {
						iw := wStart + kj
						if iw < 0 || iw >= w {
							continue
						}
						if v := inPlane[ih*w+iw]; v > maxVal {
							maxVal = v
						}
					}
				}
				outPlane[oh*wOut+ow] = maxVal
			}
		}
	}, cpu.parallel)

	return output
}

// GlobalAvgPool2D averages each channel plane down to 1x1.
//
// Input shape:  [batch, channels, height, width]
// Output shape: [batch, channels, 1, 1]
func (cpu *CPUBackend) GlobalAvgPool2D(input *tensor.RawTensor) *tensor.RawTensor {
	inputShape := input.Shape()
	if len(inputShape) != 4 {
		panic(fmt.Sprintf("globalavgpool2d: expected 4D input [N,C,H,W], got %dD", len(inputShape)))
	}

	n, c, h, w := inputShape[0], inputShape[1], inputShape[2], inputShape[3]
	output := mustNewRaw(tensor.Shape{n, c, 1, 1}, input.DType(), cpu.device)

	in := input.AsFloat32()
	out := output.AsFloat32()
	planeSize := h * w

	parallel.ForBatch(n, c, func(b, ch int) {
		plane := in[(b*c+ch)*planeSize : (b*c+ch+1)*planeSize]
		var sum float64
		for _, v := range plane {
			sum += float64(v)
		}
		out[b*c+ch] = float32(sum / float64(planeSize))
	}, cpu.parallel)

	return output
}
