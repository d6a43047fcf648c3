// Package trace records the ordered leaf units of a module tree and
// transplants weights between two trees by positional alignment.
package trace

import (
	"github.com/reweave-ml/reweave/internal/nn"
	"github.com/reweave-ml/reweave/internal/tensor"
)

// Trace is the ordered sequence of leaf units visited during one forward
// evaluation of a module tree.
//
// A leaf unit is a module with no children, or one whose kind is treated
// as atomic regardless of internal structure: convolution and
// normalization units.
//
// The order comes from a depth-first walk over Children(). This matches
// execution order as long as every container constructs its children in
// the order it runs them, which holds for the sequential and residual
// stacks this converter handles. It is an assumption about model
// construction, not a guarantee enforced by the module interface.
type Trace[B tensor.Backend] struct {
	traced []nn.Module[B]
}

// atomicKinds are treated as leaves even if an implementation nests
// sub-modules inside them.
var atomicKinds = map[nn.Kind]bool{
	nn.KindConv2D:      true,
	nn.KindBatchNorm2D: true,
}

// Run evaluates module once with sampleInput and returns its leaf trace.
// The forward output is discarded; evaluation failures (shape panics)
// propagate uncaught; tracing performs no error recovery. The tree is
// left uninstrumented: a Trace is plain data, safe to keep or drop.
func Run[B tensor.Backend](module nn.Module[B], sampleInput *tensor.Tensor[float32, B]) *Trace[B] {
	module.Forward(sampleInput)

	t := &Trace[B]{}
	t.visit(module)
	return t
}

// visit walks the tree depth-first, recording leaf units.
func (t *Trace[B]) visit(module nn.Module[B]) {
	children := module.Children()
	if len(children) == 0 || atomicKinds[module.Kind()] {
		t.traced = append(t.traced, module)
		return
	}
	for _, child := range children {
		t.visit(child)
	}
}

// Leaves returns every recorded leaf unit in order.
func (t *Trace[B]) Leaves() []nn.Module[B] {
	return t.traced
}

// Parametrized returns the recorded leaves that own at least one weight,
// preserving order. Purely structural units (activations, pooling,
// flatten) never appear here.
func (t *Trace[B]) Parametrized() []nn.Module[B] {
	var out []nn.Module[B]
	for _, m := range t.traced {
		if len(m.StateDict()) > 0 {
			out = append(out, m)
		}
	}
	return out
}
