package cpu

import (
	"fmt"

	"github.com/reweave-ml/reweave/internal/parallel"
	"github.com/reweave-ml/reweave/internal/tensor"
)

// Conv2D performs 2D convolution with zero padding.
//
// Input shape:  [batch, in_channels, height, width]
// Kernel shape: [out_channels, in_channels, kernel_h, kernel_w]
// Output shape: [batch, out_channels, out_h, out_w]
//
// Where:
//
//	out_h = (height + 2*padding - kernel_h) / stride + 1
//	out_w = (width + 2*padding - kernel_w) / stride + 1
//
// The (batch, out_channel) grid is spread over the worker pool; each
// worker computes a full output plane.
func (cpu *CPUBackend) Conv2D(input, kernel *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	inputShape := input.Shape()
	kernelShape := kernel.Shape()

	if len(inputShape) != 4 {
		panic(fmt.Sprintf("conv2d: input must be 4D [N,C,H,W], got %dD", len(inputShape)))
	}
	if len(kernelShape) != 4 {
		panic(fmt.Sprintf("conv2d: kernel must be 4D [C_out,C_in,K_h,K_w], got %dD", len(kernelShape)))
	}
	if stride <= 0 {
		panic(fmt.Sprintf("conv2d: invalid stride %d", stride))
	}
	if padding < 0 {
		panic(fmt.Sprintf("conv2d: invalid padding %d", padding))
	}

	n := inputShape[0]
	cIn := inputShape[1]
	h := inputShape[2]
	w := inputShape[3]
	cOut := kernelShape[0]
	kh := kernelShape[2]
	kw := kernelShape[3]

	if cIn != kernelShape[1] {
		panic(fmt.Sprintf("conv2d: input channels %d != kernel channels %d", cIn, kernelShape[1]))
	}

	hOut := (h+2*padding-kh)/stride + 1
	wOut := (w+2*padding-kw)/stride + 1
	if hOut <= 0 || wOut <= 0 {
		panic(fmt.Sprintf("conv2d: invalid output dimensions %dx%d (check stride/padding)", hOut, wOut))
	}

	output := mustNewRaw(tensor.Shape{n, cOut, hOut, wOut}, input.DType(), cpu.device)

	in := input.AsFloat32()
	ker := kernel.AsFloat32()
	out := output.AsFloat32()

	parallel.ForBatch(n, cOut, func(b, oc int) {
		outPlane := out[(b*cOut+oc)*hOut*wOut:]
		for oh := 0; oh < hOut; oh++ {
			for ow := 0; ow < wOut; ow++ {
				var acc float32
				hStart := oh*stride - padding
				wStart := ow*stride - padding
				for ic := 0; ic < cIn; ic++ {
					inPlane := in[(b*cIn+ic)*h*w:]
					kerPlane := ker[(oc*cIn+ic)*kh*kw:]
					for ki := 0; ki < kh; ki++ {
						ih := hStart + ki
						if ih < 0 || ih >= h {
							continue
						}
						for kj := 0; kj < kw; kj++ {
							iw := wStart + kj
							if iw < 0 || iw >= w {
								continue
							}
							acc += inPlane[ih*w+iw] * kerPlane[ki*kw+kj]
						}
					}
				}
				outPlane[oh*wOut+ow] = acc
			}
		}
	}, cpu.parallel)

	return output
}
