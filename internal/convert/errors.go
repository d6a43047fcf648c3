package convert

import "fmt"

// OutputMismatchError reports a conversion whose transplanted model
// disagrees with the source model on the verification input. The
// checkpoint is not published.
type OutputMismatchError struct {
	Architecture string
	MaxAbsDiff   float64
}

func (e *OutputMismatchError) Error() string {
	return fmt.Sprintf("%s: the model logits don't match the original one (max abs diff %g)",
		e.Architecture, e.MaxAbsDiff)
}
