package nn

import (
	"fmt"

	"github.com/reweave-ml/reweave/internal/tensor"
)

// Flatten collapses all dimensions after the batch dimension:
// [N, C, H, W] -> [N, C*H*W].
type Flatten[B tensor.Backend] struct{}

// NewFlatten creates a Flatten module.
func NewFlatten[B tensor.Backend]() *Flatten[B] {
	return &Flatten[B]{}
}

// Forward reshapes the input to [batch, features].
func (f *Flatten[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	if len(shape) < 2 {
		panic(fmt.Sprintf("flatten: expected at least 2D input, got shape %v", shape))
	}
	features := 1
	for _, dim := range shape[1:] {
		features *= dim
	}
	return input.Reshape(shape[0], features)
}

// Kind returns KindFlatten.
func (f *Flatten[B]) Kind() Kind {
	return KindFlatten
}

// Children returns nil: Flatten is a leaf.
func (f *Flatten[B]) Children() []Module[B] {
	return nil
}

// Parameters returns nil (Flatten has no learnable parameters).
func (f *Flatten[B]) Parameters() []*Parameter[B] {
	return nil
}

// StateDict returns an empty map.
func (f *Flatten[B]) StateDict() map[string]*tensor.RawTensor {
	return map[string]*tensor.RawTensor{}
}

// LoadStateDict is a no-op for Flatten.
func (f *Flatten[B]) LoadStateDict(map[string]*tensor.RawTensor) error {
	return nil
}

// String returns a string representation of the layer.
func (f *Flatten[B]) String() string {
	return "Flatten()"
}

// Identity passes its input through unchanged. It stands in for optional
// shortcut branches so both ResNet layouts keep a fixed tree shape.
type Identity[B tensor.Backend] struct{}

// NewIdentity creates an Identity module.
func NewIdentity[B tensor.Backend]() *Identity[B] {
	return &Identity[B]{}
}

// Forward returns the input unchanged.
func (i *Identity[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return input
}

// Kind returns KindIdentity.
func (i *Identity[B]) Kind() Kind {
	return KindIdentity
}

// Children returns nil: Identity is a leaf.
func (i *Identity[B]) Children() []Module[B] {
	return nil
}

// Parameters returns nil (Identity has no learnable parameters).
func (i *Identity[B]) Parameters() []*Parameter[B] {
	return nil
}

// StateDict returns an empty map.
func (i *Identity[B]) StateDict() map[string]*tensor.RawTensor {
	return map[string]*tensor.RawTensor{}
}

// LoadStateDict is a no-op for Identity.
func (i *Identity[B]) LoadStateDict(map[string]*tensor.RawTensor) error {
	return nil
}

// String returns a string representation of the layer.
func (i *Identity[B]) String() string {
	return "Identity()"
}
