// Package nn implements the neural network module tree for the reweave
// converter.
//
// This package provides the building blocks both ResNet layouts are made of:
//   - Module interface: base interface for all components
//   - Parameter: named weight tensors
//   - Conv2D, BatchNorm2D, Linear: parametrized layers
//   - ReLU, MaxPool2D, AdaptiveAvgPool2D, Flatten, Identity: structural layers
//   - Sequential: container for stacking layers
//
// Modules form a tree: containers own their children, leaves own their
// parameters. Weight transplantation walks these trees.
package nn

import (
	"fmt"

	"github.com/reweave-ml/reweave/internal/tensor"
)

// Kind identifies a module's runtime kind. Tracing classifies leaves by
// kind and the transplanter filters by it, so every module declares one.
type Kind string

// Kinds of the built-in modules. Model packages declare additional
// container kinds on top of these.
const (
	KindConv2D      Kind = "conv2d"
	KindBatchNorm2D Kind = "batchnorm2d"
	KindLinear      Kind = "linear"
	KindReLU        Kind = "relu"
	KindMaxPool2D   Kind = "maxpool2d"
	KindAvgPool2D   Kind = "avgpool2d"
	KindFlatten     Kind = "flatten"
	KindIdentity    Kind = "identity"
	KindSequential  Kind = "sequential"
)

// Module is the base interface for all neural network components.
//
// Forward computes the module's output for one input; shape errors panic
// and are not recovered. Children returns sub-modules in the order they
// execute during Forward: structural order and execution order must agree,
// which holds for the sequential/residual stacks this converter handles.
type Module[B tensor.Backend] interface {
	// Forward computes the output of the module given an input tensor.
	Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B]

	// Kind returns the module's runtime kind.
	Kind() Kind

	// Children returns direct sub-modules in execution order.
	// Leaf modules return nil.
	Children() []Module[B]

	// Parameters returns all learnable parameters of this module,
	// including nested module parameters.
	Parameters() []*Parameter[B]

	// StateDict returns the module's weights keyed by parameter name.
	// For normalization layers this includes the non-learnable running
	// statistics: a state dict must be sufficient to reproduce the
	// module's inference behavior.
	StateDict() map[string]*tensor.RawTensor

	// LoadStateDict copies weights from a state dictionary into the
	// module, validating shapes and dtypes.
	LoadStateDict(stateDict map[string]*tensor.RawTensor) error

	// String returns a short human-readable description.
	String() string
}

// loadInto copies stateDict[key] into dst after validating presence,
// shape and dtype. Shared by every leaf LoadStateDict.
func loadInto(dst *tensor.RawTensor, stateDict map[string]*tensor.RawTensor, key string) error {
	raw, ok := stateDict[key]
	if !ok {
		return fmt.Errorf("missing %s in state dict", key)
	}
	if !raw.Shape().Equal(dst.Shape()) {
		return fmt.Errorf("%s shape mismatch: expected %v, got %v", key, dst.Shape(), raw.Shape())
	}
	if raw.DType() != dst.DType() {
		return fmt.Errorf("%s dtype mismatch: expected %v, got %v", key, dst.DType(), raw.DType())
	}
	copy(dst.Data(), raw.Data())
	return nil
}

// Child pairs a name with a sub-module. Containers with named fields use
// it to build prefixed state dicts.
type Child[B tensor.Backend] struct {
	Name   string
	Module Module[B]
}

// CollectStateDict merges the state dicts of named children, prefixing
// each key with the child's name ("conv.weight" style).
func CollectStateDict[B tensor.Backend](children []Child[B]) map[string]*tensor.RawTensor {
	stateDict := make(map[string]*tensor.RawTensor)
	for _, c := range children {
		for name, raw := range c.Module.StateDict() {
			stateDict[c.Name+"."+name] = raw
		}
	}
	return stateDict
}

// LoadChildren splits a prefixed state dict back out to named children.
// Children without any matching keys are skipped (stateless modules).
func LoadChildren[B tensor.Backend](children []Child[B], stateDict map[string]*tensor.RawTensor) error {
	for _, c := range children {
		prefix := c.Name + "."
		sub := make(map[string]*tensor.RawTensor)
		for key, raw := range stateDict {
			if len(key) > len(prefix) && key[:len(prefix)] == prefix {
				sub[key[len(prefix):]] = raw
			}
		}
		if len(sub) == 0 {
			continue
		}
		if err := c.Module.LoadStateDict(sub); err != nil {
			return fmt.Errorf("failed to load %s: %w", c.Name, err)
		}
	}
	return nil
}

// ChildModules extracts the module slice from named children,
// preserving order.
func ChildModules[B tensor.Backend](children []Child[B]) []Module[B] {
	modules := make([]Module[B], len(children))
	for i, c := range children {
		modules[i] = c.Module
	}
	return modules
}

// CollectParameters gathers parameters of named children in order.
func CollectParameters[B tensor.Backend](children []Child[B]) []*Parameter[B] {
	var params []*Parameter[B]
	for _, c := range children {
		params = append(params, c.Module.Parameters()...)
	}
	return params
}
