package nn

import (
	"fmt"

	"github.com/reweave-ml/reweave/internal/tensor"
)

// BatchNorm2D applies inference-mode batch normalization over the channel
// dimension of a [N, C, H, W] input:
//
//	y = weight * (x - running_mean) / sqrt(running_var + eps) + bias
//
// weight and bias are learnable; running_mean and running_var are
// non-learnable buffers recorded during the source model's training.
// Both appear in the state dict: a transplant that moved only the affine
// parameters would be structurally valid but numerically wrong, so the
// running statistics travel with them.
type BatchNorm2D[B tensor.Backend] struct {
	numFeatures int
	eps         float32

	weight *Parameter[B] // [num_features], initialized to ones
	bias   *Parameter[B] // [num_features], initialized to zeros

	runningMean *tensor.RawTensor // [num_features], initialized to zeros
	runningVar  *tensor.RawTensor // [num_features], initialized to ones

	backend B
}

// NewBatchNorm2D creates a BatchNorm2D layer for numFeatures channels.
func NewBatchNorm2D[B tensor.Backend](numFeatures int, eps float32, backend B) *BatchNorm2D[B] {
	if numFeatures <= 0 {
		panic(fmt.Sprintf("batchnorm2d: invalid feature count %d", numFeatures))
	}

	shape := tensor.Shape{numFeatures}
	return &BatchNorm2D[B]{
		numFeatures: numFeatures,
		eps:         eps,
		weight:      NewParameter("weight", Ones(shape, backend)),
		bias:        NewParameter("bias", Zeros(shape, backend)),
		runningMean: Zeros(shape, backend).Raw(),
		runningVar:  Ones(shape, backend).Raw(),
		backend:     backend,
	}
}

// Forward normalizes the input with the running statistics.
//
// Input: [batch, num_features, height, width], same output shape.
func (bn *BatchNorm2D[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	inputShape := input.Shape()
	if len(inputShape) != 4 {
		panic(fmt.Sprintf("batchnorm2d: expected 4D input [N,C,H,W], got %dD", len(inputShape)))
	}
	if inputShape[1] != bn.numFeatures {
		panic(fmt.Sprintf("batchnorm2d: input channels %d != expected %d", inputShape[1], bn.numFeatures))
	}

	outputRaw := bn.backend.BatchNorm2D(
		input.Raw(),
		bn.weight.Tensor().Raw(),
		bn.bias.Tensor().Raw(),
		bn.runningMean,
		bn.runningVar,
		bn.eps,
	)
	return tensor.New[float32, B](outputRaw, bn.backend)
}

// Kind returns KindBatchNorm2D.
func (bn *BatchNorm2D[B]) Kind() Kind {
	return KindBatchNorm2D
}

// Children returns nil: BatchNorm2D is a leaf.
func (bn *BatchNorm2D[B]) Children() []Module[B] {
	return nil
}

// Parameters returns the learnable affine parameters.
func (bn *BatchNorm2D[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{bn.weight, bn.bias}
}

// StateDict returns the affine parameters and the running statistics.
func (bn *BatchNorm2D[B]) StateDict() map[string]*tensor.RawTensor {
	return map[string]*tensor.RawTensor{
		"weight":       bn.weight.Tensor().Raw(),
		"bias":         bn.bias.Tensor().Raw(),
		"running_mean": bn.runningMean,
		"running_var":  bn.runningVar,
	}
}

// LoadStateDict loads the affine parameters and running statistics.
func (bn *BatchNorm2D[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	if err := loadInto(bn.weight.Tensor().Raw(), stateDict, "weight"); err != nil {
		return err
	}
	if err := loadInto(bn.bias.Tensor().Raw(), stateDict, "bias"); err != nil {
		return err
	}
	if err := loadInto(bn.runningMean, stateDict, "running_mean"); err != nil {
		return err
	}
	return loadInto(bn.runningVar, stateDict, "running_var")
}

// String returns a string representation of the layer.
func (bn *BatchNorm2D[B]) String() string {
	return fmt.Sprintf("BatchNorm2D(num_features=%d, eps=%g)", bn.numFeatures, bn.eps)
}

// NumFeatures returns the number of normalized channels.
func (bn *BatchNorm2D[B]) NumFeatures() int {
	return bn.numFeatures
}
