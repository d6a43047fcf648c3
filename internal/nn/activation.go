package nn

import (
	"github.com/reweave-ml/reweave/internal/tensor"
)

// ReLU is a rectified linear unit activation module: f(x) = max(0, x).
// It carries no parameters and never enters a transfer plan.
type ReLU[B tensor.Backend] struct{}

// NewReLU creates a new ReLU activation module.
func NewReLU[B tensor.Backend]() *ReLU[B] {
	return &ReLU[B]{}
}

// Forward applies ReLU element-wise.
func (r *ReLU[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	backend := input.Backend()
	return tensor.New[float32, B](backend.ReLU(input.Raw()), backend)
}

// Kind returns KindReLU.
func (r *ReLU[B]) Kind() Kind {
	return KindReLU
}

// Children returns nil: ReLU is a leaf.
func (r *ReLU[B]) Children() []Module[B] {
	return nil
}

// Parameters returns nil (ReLU has no learnable parameters).
func (r *ReLU[B]) Parameters() []*Parameter[B] {
	return nil
}

// StateDict returns an empty map.
func (r *ReLU[B]) StateDict() map[string]*tensor.RawTensor {
	return map[string]*tensor.RawTensor{}
}

// LoadStateDict is a no-op for ReLU.
func (r *ReLU[B]) LoadStateDict(map[string]*tensor.RawTensor) error {
	return nil
}

// String returns a string representation of the layer.
func (r *ReLU[B]) String() string {
	return "ReLU()"
}
