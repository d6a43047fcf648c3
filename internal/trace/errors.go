package trace

import "fmt"

// StructuralMismatchError reports that the filtered parametrized-leaf
// sequences of the source and destination modules have different lengths.
// Positional transfer has no way to pair them, so nothing is copied.
type StructuralMismatchError struct {
	SrcOps  int // parametrized leaf count on the source side, after filtering
	DestOps int // parametrized leaf count on the destination side, after filtering
}

func (e *StructuralMismatchError) Error() string {
	return fmt.Sprintf(
		"numbers of operations are different: source module has %d operations while destination module has %d",
		e.SrcOps, e.DestOps)
}

// ParameterShapeMismatchError reports that a positionally paired leaf
// could not accept the source leaf's weights.
type ParameterShapeMismatchError struct {
	Index int    // position in the transfer plan
	Src   string // source leaf description
	Dest  string // destination leaf description
	Cause error
}

func (e *ParameterShapeMismatchError) Error() string {
	return fmt.Sprintf("transfer at position %d from %s to %s: %v", e.Index, e.Src, e.Dest, e.Cause)
}

// Unwrap returns the underlying load error.
func (e *ParameterShapeMismatchError) Unwrap() error {
	return e.Cause
}
