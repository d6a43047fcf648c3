// Package convert orchestrates checkpoint conversions: fetch a
// pretrained source checkpoint, transplant its weights into a freshly
// built destination model, verify both models agree, and publish.
package convert

import (
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/reweave-ml/reweave/internal/loader"
	"github.com/reweave-ml/reweave/internal/models/resnet"
	"github.com/reweave-ml/reweave/internal/models/timm"
	"github.com/reweave-ml/reweave/internal/nn"
	"github.com/reweave-ml/reweave/internal/tensor"
	"github.com/reweave-ml/reweave/internal/trace"
)

// Sources fetches pretrained source checkpoints.
type Sources interface {
	FetchCheckpoint(architecture string) (string, error)
}

// Labels fetches the classification label mapping.
type Labels interface {
	Labels() (id2label map[int]string, label2id map[string]int, err error)
}

// Preprocessors fetches the preprocessor configuration to publish
// alongside each checkpoint.
type Preprocessors interface {
	PreprocessorConfig() ([]byte, error)
}

// Publisher stores a converted checkpoint.
type Publisher interface {
	Publish(name string, stateDict map[string]*tensor.RawTensor, config, preprocessor []byte) error
}

// Converter runs conversions for the supported ResNet architectures.
type Converter[B tensor.Backend] struct {
	Sources      Sources
	Labels       Labels
	Preprocessor Preprocessors
	Publisher    Publisher
	Backend      B

	// Verbose logs every transferred leaf pair.
	Verbose bool

	// inputShape is the sample input both models are traced and
	// verified with. Tests shrink it.
	inputShape tensor.Shape
	configFor  func(name string, numLabels int, id2label map[int]string, label2id map[string]int) (resnet.Config, error)
}

// NewConverter creates a converter with the standard 224x224 sample
// input and the fixed architecture table.
func NewConverter[B tensor.Backend](sources Sources, labels Labels, preprocessor Preprocessors, publisher Publisher, backend B, verbose bool) *Converter[B] {
	return &Converter[B]{
		Sources:      sources,
		Labels:       labels,
		Preprocessor: preprocessor,
		Publisher:    publisher,
		Backend:      backend,
		Verbose:      verbose,
		inputShape:   tensor.Shape{1, 3, 224, 224},
		configFor:    resnet.ConfigFor,
	}
}

// ConvertOne converts a single named architecture.
func (c *Converter[B]) ConvertOne(name string) error {
	klog.Infof("Converting %s", name)

	id2label, label2id, err := c.Labels.Labels()
	if err != nil {
		return errors.Wrap(err, "failed to fetch labels")
	}
	cfg, err := c.configFor(name, len(id2label), id2label, label2id)
	if err != nil {
		return err
	}

	checkpointPath, err := c.Sources.FetchCheckpoint(name)
	if err != nil {
		return errors.Wrapf(err, "failed to fetch %s checkpoint", name)
	}

	src, err := timm.NewResNet(cfg, c.Backend)
	if err != nil {
		return err
	}
	if err := loader.LoadPretrained(checkpointPath, src, loader.NewTimmMapper(), c.Backend); err != nil {
		return err
	}

	dest, err := resnet.NewForImageClassification(cfg, c.Backend)
	if err != nil {
		return err
	}

	transfer := trace.Transfer[B]{Src: src, Dest: dest, Verbose: c.Verbose}
	if err := transfer.Run(tensor.Randn[float32](c.inputShape, c.Backend)); err != nil {
		return errors.Wrapf(err, "failed to transfer %s weights", name)
	}

	// An independent input catches transfers that lined up wrong but
	// happened to agree on the trace input.
	x := tensor.Randn[float32](c.inputShape, c.Backend)
	srcLogits := src.Forward(x)
	destLogits := dest.Forward(x)
	if !tensor.AllClose(srcLogits.Raw(), destLogits.Raw(), tensor.DefaultRtol, tensor.DefaultAtol) {
		return &OutputMismatchError{
			Architecture: name,
			MaxAbsDiff:   tensor.MaxAbsDiff(srcLogits.Raw(), destLogits.Raw()),
		}
	}
	klog.Infof("Verified %s: logits agree (%s parameters)", name, humanize.Comma(countParameters(dest.Parameters())))

	config, err := cfg.JSON()
	if err != nil {
		return errors.Wrapf(err, "failed to render %s config", name)
	}
	preprocessor, err := c.Preprocessor.PreprocessorConfig()
	if err != nil {
		return errors.Wrap(err, "failed to fetch preprocessor config")
	}

	return c.Publisher.Publish(name, dest.StateDict(), config, preprocessor)
}

// ConvertAll converts every supported architecture in the fixed order,
// stopping at the first failure.
func (c *Converter[B]) ConvertAll() error {
	for _, name := range resnet.Architectures() {
		if err := c.ConvertOne(name); err != nil {
			return errors.Wrapf(err, "conversion of %s failed", name)
		}
	}
	return nil
}

// countParameters sums element counts across parameters.
func countParameters[B tensor.Backend](params []*nn.Parameter[B]) int64 {
	var n int64
	for _, p := range params {
		n += int64(p.Tensor().NumElements())
	}
	return n
}
