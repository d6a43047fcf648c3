package nn

import (
	"fmt"

	"github.com/reweave-ml/reweave/internal/tensor"
)

// MaxPool2D is a 2D max pooling layer with zero-free (-inf) padding.
// No learnable parameters.
//
// Input shape:  [batch, channels, height, width]
// Output shape: [batch, channels, out_height, out_width]
type MaxPool2D[B tensor.Backend] struct {
	kernelSize int
	stride     int
	padding    int
	backend    B
}

// NewMaxPool2D creates a 2D max pooling layer.
// The ResNet stem uses NewMaxPool2D(3, 2, 1, backend).
func NewMaxPool2D[B tensor.Backend](kernelSize, stride, padding int, backend B) *MaxPool2D[B] {
	if kernelSize <= 0 {
		panic(fmt.Sprintf("maxpool2d: invalid kernel size %d", kernelSize))
	}
	if stride <= 0 {
		panic(fmt.Sprintf("maxpool2d: invalid stride %d", stride))
	}
	if padding < 0 {
		panic(fmt.Sprintf("maxpool2d: invalid padding %d", padding))
	}

	return &MaxPool2D[B]{
		kernelSize: kernelSize,
		stride:     stride,
		padding:    padding,
		backend:    backend,
	}
}

// Forward performs the forward pass.
func (m *MaxPool2D[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	if len(input.Shape()) != 4 {
		panic(fmt.Sprintf("maxpool2d: expected 4D input [N,C,H,W], got %dD", len(input.Shape())))
	}
	outputRaw := m.backend.MaxPool2D(input.Raw(), m.kernelSize, m.stride, m.padding)
	return tensor.New[float32, B](outputRaw, m.backend)
}

// Kind returns KindMaxPool2D.
func (m *MaxPool2D[B]) Kind() Kind {
	return KindMaxPool2D
}

// Children returns nil: MaxPool2D is a leaf.
func (m *MaxPool2D[B]) Children() []Module[B] {
	return nil
}

// Parameters returns nil (MaxPool2D has no learnable parameters).
func (m *MaxPool2D[B]) Parameters() []*Parameter[B] {
	return nil
}

// StateDict returns an empty map.
func (m *MaxPool2D[B]) StateDict() map[string]*tensor.RawTensor {
	return map[string]*tensor.RawTensor{}
}

// LoadStateDict is a no-op for MaxPool2D.
func (m *MaxPool2D[B]) LoadStateDict(map[string]*tensor.RawTensor) error {
	return nil
}

// String returns a string representation of the layer.
func (m *MaxPool2D[B]) String() string {
	return fmt.Sprintf("MaxPool2D(kernel_size=%d, stride=%d, padding=%d)", m.kernelSize, m.stride, m.padding)
}

// AdaptiveAvgPool2D pools each channel plane down to 1x1 (global average).
// No learnable parameters.
//
// Input shape:  [batch, channels, height, width]
// Output shape: [batch, channels, 1, 1]
type AdaptiveAvgPool2D[B tensor.Backend] struct {
	backend B
}

// NewAdaptiveAvgPool2D creates a global average pooling layer.
func NewAdaptiveAvgPool2D[B tensor.Backend](backend B) *AdaptiveAvgPool2D[B] {
	return &AdaptiveAvgPool2D[B]{backend: backend}
}

// Forward performs the forward pass.
func (a *AdaptiveAvgPool2D[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	if len(input.Shape()) != 4 {
		panic(fmt.Sprintf("avgpool2d: expected 4D input [N,C,H,W], got %dD", len(input.Shape())))
	}
	return tensor.New[float32, B](a.backend.GlobalAvgPool2D(input.Raw()), a.backend)
}

// Kind returns KindAvgPool2D.
func (a *AdaptiveAvgPool2D[B]) Kind() Kind {
	return KindAvgPool2D
}

// Children returns nil: AdaptiveAvgPool2D is a leaf.
func (a *AdaptiveAvgPool2D[B]) Children() []Module[B] {
	return nil
}

// Parameters returns nil (AdaptiveAvgPool2D has no learnable parameters).
func (a *AdaptiveAvgPool2D[B]) Parameters() []*Parameter[B] {
	return nil
}

// StateDict returns an empty map.
func (a *AdaptiveAvgPool2D[B]) StateDict() map[string]*tensor.RawTensor {
	return map[string]*tensor.RawTensor{}
}

// LoadStateDict is a no-op for AdaptiveAvgPool2D.
func (a *AdaptiveAvgPool2D[B]) LoadStateDict(map[string]*tensor.RawTensor) error {
	return nil
}

// String returns a string representation of the layer.
func (a *AdaptiveAvgPool2D[B]) String() string {
	return "AdaptiveAvgPool2D(output_size=1)"
}
