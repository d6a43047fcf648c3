// Package transplant provides the public API for tracing module trees
// and transplanting weights between architecturally equivalent models.
//
// Two module trees that express the same computation often nest their
// sub-modules differently, so their state dict keys never line up. This
// package ignores names entirely: it traces both trees with the same
// input, keeps the leaves that carry weights, and copies weights across
// by position.
//
// Example:
//
//	backend := cpu.New()
//	x := tensor.Randn[float32](tensor.Shape{1, 3, 224, 224}, backend)
//
//	transfer := transplant.Transfer[*cpu.CPUBackend]{Src: src, Dest: dest}
//	if err := transfer.Run(x); err != nil {
//	    log.Fatal(err)
//	}
package transplant

import (
	"github.com/reweave-ml/reweave/internal/nn"
	"github.com/reweave-ml/reweave/internal/tensor"
	"github.com/reweave-ml/reweave/internal/trace"
)

// Trace is the recorded leaf sequence of one traced module tree.
type Trace[B tensor.Backend] = trace.Trace[B]

// Transfer copies weights from Src into Dest by positional alignment of
// their traced parametrized leaves.
type Transfer[B tensor.Backend] = trace.Transfer[B]

// StructuralMismatchError reports differing parametrized-leaf counts;
// it carries both counts and means nothing was copied.
type StructuralMismatchError = trace.StructuralMismatchError

// ParameterShapeMismatchError reports a positional leaf pair whose
// weight shapes disagree.
type ParameterShapeMismatchError = trace.ParameterShapeMismatchError

// Run evaluates module once on sampleInput and records its leaf units
// in execution order.
func Run[B tensor.Backend](module nn.Module[B], sampleInput *tensor.Tensor[float32, B]) *Trace[B] {
	return trace.Run(module, sampleInput)
}
