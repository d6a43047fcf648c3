package loader

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/reweave-ml/reweave/internal/nn"
	"github.com/reweave-ml/reweave/internal/tensor"
)

// WeightMapper translates a checkpoint's weight names into the keys a
// module tree expects, dropping entries the tree has no home for.
type WeightMapper interface {
	// MapName converts a checkpoint weight name to a module state dict
	// key. Returns false when the entry should be skipped entirely.
	MapName(name string) (string, bool)

	// Source returns the checkpoint vocabulary name (e.g. "timm").
	Source() string
}

// TimmMapper maps timm ResNet checkpoint names.
//
// timm checkpoints use the same key vocabulary as the source module
// tree (conv1.weight, layer1.0.bn2.bias, downsample.0.weight, ...), so
// the mapping is the identity. The one exception is the batch norm step
// counter num_batches_tracked, an int64 bookkeeping scalar that plays
// no role in inference and is dropped.
type TimmMapper struct{}

// NewTimmMapper creates a timm weight mapper.
func NewTimmMapper() *TimmMapper {
	return &TimmMapper{}
}

// MapName passes timm names through unchanged, dropping step counters.
func (m *TimmMapper) MapName(name string) (string, bool) {
	if strings.HasSuffix(name, ".num_batches_tracked") {
		return "", false
	}
	return name, true
}

// Source returns "timm".
func (m *TimmMapper) Source() string {
	return "timm"
}

// LoadPretrained reads a SafeTensors checkpoint into a module tree.
// Weight names are translated by the mapper; shapes and dtypes are
// validated by the module's LoadStateDict.
func LoadPretrained[B tensor.Backend](path string, module nn.Module[B], mapper WeightMapper, backend B) error {
	reader, err := NewSafeTensorsReader(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s checkpoint %s", mapper.Source(), path)
	}
	defer reader.Close()

	stateDict, err := reader.LoadStateDict(mapper, backend)
	if err != nil {
		return errors.Wrapf(err, "failed to read %s checkpoint %s", mapper.Source(), path)
	}
	if err := module.LoadStateDict(stateDict); err != nil {
		return errors.Wrapf(err, "failed to load %s checkpoint %s", mapper.Source(), path)
	}
	return nil
}
