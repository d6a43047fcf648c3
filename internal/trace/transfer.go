package trace

import (
	"k8s.io/klog/v2"

	"github.com/reweave-ml/reweave/internal/nn"
	"github.com/reweave-ml/reweave/internal/tensor"
)

// Transfer copies the weights of Src into Dest by tracing both modules
// with the same input and pairing their parametrized leaves positionally.
//
// No name-based matching is ever performed across the two trees:
// correctness rests entirely on both architectures executing their
// parametrized operations in the same relative order for the same input.
// A leaf pair is only checked for weight-shape compatibility, not kind
// compatibility: a same-count, differently-ordered pair of trees whose
// shapes happen to line up would transfer without complaint.
type Transfer[B tensor.Backend] struct {
	Src  nn.Module[B]
	Dest nn.Module[B]

	// SrcSkip and DestSkip drop leaves of the given kinds from the
	// respective traces before alignment. Used when one implementation
	// counts a unit the other does not have.
	SrcSkip  []nn.Kind
	DestSkip []nn.Kind

	// Verbose logs every (source, destination) pairing transferred.
	Verbose bool
}

// Run performs the transfer, mutating Dest's weights in place.
//
// Returns *StructuralMismatchError if the filtered leaf sequences differ
// in length (nothing is copied), or *ParameterShapeMismatchError if a
// paired leaf rejects the source weights (leaves before it have already
// been written).
func (t *Transfer[B]) Run(x *tensor.Tensor[float32, B]) error {
	destTraced := Run(t.Dest, x).Parametrized()
	srcTraced := Run(t.Src, x).Parametrized()

	srcTraced = dropKinds(srcTraced, t.SrcSkip)
	destTraced = dropKinds(destTraced, t.DestSkip)

	if len(destTraced) != len(srcTraced) {
		return &StructuralMismatchError{
			SrcOps:  len(srcTraced),
			DestOps: len(destTraced),
		}
	}

	for i := range srcTraced {
		srcLeaf, destLeaf := srcTraced[i], destTraced[i]
		if err := destLeaf.LoadStateDict(srcLeaf.StateDict()); err != nil {
			return &ParameterShapeMismatchError{
				Index: i,
				Src:   srcLeaf.String(),
				Dest:  destLeaf.String(),
				Cause: err,
			}
		}
		if t.Verbose {
			klog.Infof("Transferred from=%s to=%s", srcLeaf, destLeaf)
		}
	}
	return nil
}

// dropKinds filters out leaves whose kind is in skip, preserving order.
func dropKinds[B tensor.Backend](leaves []nn.Module[B], skip []nn.Kind) []nn.Module[B] {
	if len(skip) == 0 {
		return leaves
	}
	skipSet := make(map[nn.Kind]bool, len(skip))
	for _, k := range skip {
		skipSet[k] = true
	}

	out := leaves[:0:0]
	for _, m := range leaves {
		if !skipSet[m.Kind()] {
			out = append(out, m)
		}
	}
	return out
}
