package nn

import (
	"github.com/reweave-ml/reweave/internal/tensor"
)

// Parameter represents a learnable parameter of a module: a named tensor.
// The converter never trains, so there is no gradient plumbing here;
// parameters exist to be counted, copied and serialized.
type Parameter[B tensor.Backend] struct {
	name   string
	tensor *tensor.Tensor[float32, B]
}

// NewParameter creates a new parameter.
//
// Parameters:
//   - name: parameter name within its module (e.g. "weight", "bias")
//   - t: the initialized parameter tensor
func NewParameter[B tensor.Backend](name string, t *tensor.Tensor[float32, B]) *Parameter[B] {
	return &Parameter[B]{
		name:   name,
		tensor: t,
	}
}

// Name returns the parameter name.
func (p *Parameter[B]) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter[B]) Tensor() *tensor.Tensor[float32, B] {
	return p.tensor
}
