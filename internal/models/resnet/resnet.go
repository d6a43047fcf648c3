// Package resnet implements the destination ResNet layout: the module
// tree converted checkpoints are published in.
//
// The tree nests differently from the timm source layout (stages wrap
// layers wrap conv blocks), but executes its parametrized operations in
// the same relative order, which is the property weight transplantation
// relies on.
package resnet

import (
	"fmt"

	"github.com/reweave-ml/reweave/internal/nn"
	"github.com/reweave-ml/reweave/internal/tensor"
)

// Container kinds of the destination layout.
const (
	KindConvLayer              nn.Kind = "resnet.conv_layer"
	KindEmbeddings             nn.Kind = "resnet.embeddings"
	KindShortcut               nn.Kind = "resnet.shortcut"
	KindBasicLayer             nn.Kind = "resnet.basic_layer"
	KindBottleneckLayer        nn.Kind = "resnet.bottleneck_layer"
	KindStage                  nn.Kind = "resnet.stage"
	KindEncoder                nn.Kind = "resnet.encoder"
	KindModel                  nn.Kind = "resnet.model"
	KindForImageClassification nn.Kind = "resnet.for_image_classification"
)

// container carries the shared child bookkeeping of this package's
// composite modules. Children are registered in execution order.
type container[B tensor.Backend] struct {
	kind     nn.Kind
	desc     string
	children []nn.Child[B]
}

func (c *container[B]) Kind() nn.Kind { return c.kind }

func (c *container[B]) Children() []nn.Module[B] { return nn.ChildModules(c.children) }

func (c *container[B]) Parameters() []*nn.Parameter[B] { return nn.CollectParameters(c.children) }

func (c *container[B]) StateDict() map[string]*tensor.RawTensor {
	return nn.CollectStateDict(c.children)
}

func (c *container[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	return nn.LoadChildren(c.children, stateDict)
}

func (c *container[B]) String() string { return c.desc }

// ConvLayer is the destination layout's convolution block:
// convolution, batch norm, optional activation.
type ConvLayer[B tensor.Backend] struct {
	container[B]
	convolution   *nn.Conv2D[B]
	normalization *nn.BatchNorm2D[B]
	activation    nn.Module[B] // ReLU or Identity
}

// NewConvLayer creates a conv+bn(+relu) block. Padding is kernelSize/2,
// so spatial size only changes through stride.
func NewConvLayer[B tensor.Backend](inChannels, outChannels, kernelSize, stride int, activation bool, eps float32, backend B) *ConvLayer[B] {
	l := &ConvLayer[B]{
		convolution:   nn.NewConv2D(inChannels, outChannels, kernelSize, stride, kernelSize/2, false, backend),
		normalization: nn.NewBatchNorm2D(outChannels, eps, backend),
	}
	if activation {
		l.activation = nn.NewReLU[B]()
	} else {
		l.activation = nn.NewIdentity[B]()
	}
	l.container = container[B]{
		kind: KindConvLayer,
		desc: fmt.Sprintf("ConvLayer(in=%d, out=%d, kernel=%d, stride=%d)", inChannels, outChannels, kernelSize, stride),
		children: []nn.Child[B]{
			{Name: "convolution", Module: l.convolution},
			{Name: "normalization", Module: l.normalization},
			{Name: "activation", Module: l.activation},
		},
	}
	return l
}

// Forward applies convolution, normalization and activation in order.
func (l *ConvLayer[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return l.activation.Forward(l.normalization.Forward(l.convolution.Forward(input)))
}

// Embeddings is the stem: a 7x7 stride-2 conv block followed by a padded
// 3x3 stride-2 max pool.
type Embeddings[B tensor.Backend] struct {
	container[B]
	embedder *ConvLayer[B]
	pooler   *nn.MaxPool2D[B]
}

// NewEmbeddings creates the stem for 3-channel images.
func NewEmbeddings[B tensor.Backend](cfg Config, backend B) *Embeddings[B] {
	e := &Embeddings[B]{
		embedder: NewConvLayer(3, cfg.EmbeddingSize(), 7, 2, true, cfg.Eps, backend),
		pooler:   nn.NewMaxPool2D(3, 2, 1, backend),
	}
	e.container = container[B]{
		kind: KindEmbeddings,
		desc: fmt.Sprintf("Embeddings(out=%d)", cfg.EmbeddingSize()),
		children: []nn.Child[B]{
			{Name: "embedder", Module: e.embedder},
			{Name: "pooler", Module: e.pooler},
		},
	}
	return e
}

// Forward embeds pixel values into the stem feature map.
func (e *Embeddings[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return e.pooler.Forward(e.embedder.Forward(input))
}

// Shortcut projects the residual branch to the main branch's shape:
// a 1x1 strided convolution plus batch norm.
type Shortcut[B tensor.Backend] struct {
	container[B]
	convolution   *nn.Conv2D[B]
	normalization *nn.BatchNorm2D[B]
}

// NewShortcut creates a projection shortcut.
func NewShortcut[B tensor.Backend](inChannels, outChannels, stride int, eps float32, backend B) *Shortcut[B] {
	s := &Shortcut[B]{
		convolution:   nn.NewConv2D(inChannels, outChannels, 1, stride, 0, false, backend),
		normalization: nn.NewBatchNorm2D(outChannels, eps, backend),
	}
	s.container = container[B]{
		kind: KindShortcut,
		desc: fmt.Sprintf("Shortcut(in=%d, out=%d, stride=%d)", inChannels, outChannels, stride),
		children: []nn.Child[B]{
			{Name: "convolution", Module: s.convolution},
			{Name: "normalization", Module: s.normalization},
		},
	}
	return s
}

// Forward projects the residual.
func (s *Shortcut[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return s.normalization.Forward(s.convolution.Forward(input))
}

// residualLayer is the shared forward/bookkeeping of basic and
// bottleneck layers: main path, then shortcut, then activation.
//
// The shortcut executes after the main path, so it is registered after
// "layer" even though it consumes the layer input: Children order must
// follow execution order for tracing.
type residualLayer[B tensor.Backend] struct {
	container[B]
	layer      *nn.Sequential[B]
	shortcut   nn.Module[B] // *Shortcut or *nn.Identity
	activation *nn.ReLU[B]
}

func (r *residualLayer[B]) init(kind nn.Kind, desc string) {
	r.container = container[B]{
		kind: kind,
		desc: desc,
		children: []nn.Child[B]{
			{Name: "layer", Module: r.layer},
			{Name: "shortcut", Module: r.shortcut},
			{Name: "activation", Module: r.activation},
		},
	}
}

// Forward runs the main path, adds the (possibly projected) residual and
// applies the final activation.
func (r *residualLayer[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	hidden := r.layer.Forward(input)
	residual := r.shortcut.Forward(input)
	return r.activation.Forward(hidden.Add(residual))
}

// shortcutFor returns a projection shortcut when the residual needs
// resampling, an identity otherwise.
func shortcutFor[B tensor.Backend](inChannels, outChannels, stride int, eps float32, backend B) nn.Module[B] {
	if inChannels != outChannels || stride != 1 {
		return NewShortcut(inChannels, outChannels, stride, eps, backend)
	}
	return nn.NewIdentity[B]()
}

// BasicLayer is the two-conv residual layer used by resnet18/34.
type BasicLayer[B tensor.Backend] struct {
	residualLayer[B]
}

// NewBasicLayer creates a basic residual layer.
func NewBasicLayer[B tensor.Backend](inChannels, outChannels, stride int, eps float32, backend B) *BasicLayer[B] {
	l := &BasicLayer[B]{}
	l.layer = nn.NewSequential[B](
		NewConvLayer(inChannels, outChannels, 3, stride, true, eps, backend),
		NewConvLayer(outChannels, outChannels, 3, 1, false, eps, backend),
	)
	l.shortcut = shortcutFor(inChannels, outChannels, stride, eps, backend)
	l.activation = nn.NewReLU[B]()
	l.init(KindBasicLayer, fmt.Sprintf("BasicLayer(in=%d, out=%d, stride=%d)", inChannels, outChannels, stride))
	return l
}

// BottleneckLayer is the three-conv residual layer used by the deeper
// variants: a 1x1 reduction, a strided 3x3, and a 1x1 expansion.
type BottleneckLayer[B tensor.Backend] struct {
	residualLayer[B]
}

// NewBottleneckLayer creates a bottleneck residual layer with the
// standard 4x reduction.
func NewBottleneckLayer[B tensor.Backend](inChannels, outChannels, stride int, eps float32, backend B) *BottleneckLayer[B] {
	reduced := outChannels / 4
	l := &BottleneckLayer[B]{}
	l.layer = nn.NewSequential[B](
		NewConvLayer(inChannels, reduced, 1, 1, true, eps, backend),
		NewConvLayer(reduced, reduced, 3, stride, true, eps, backend),
		NewConvLayer(reduced, outChannels, 1, 1, false, eps, backend),
	)
	l.shortcut = shortcutFor(inChannels, outChannels, stride, eps, backend)
	l.activation = nn.NewReLU[B]()
	l.init(KindBottleneckLayer, fmt.Sprintf("BottleneckLayer(in=%d, out=%d, stride=%d)", inChannels, outChannels, stride))
	return l
}

// Stage is a stack of residual layers; the first layer resamples.
type Stage[B tensor.Backend] struct {
	container[B]
	layers *nn.Sequential[B]
}

// NewStage creates a stage of depth residual layers.
func NewStage[B tensor.Backend](cfg Config, inChannels, outChannels, stride, depth int, backend B) *Stage[B] {
	newLayer := func(in, out, stride int) nn.Module[B] {
		if cfg.LayerType == LayerTypeBottleneck {
			return NewBottleneckLayer(in, out, stride, cfg.Eps, backend)
		}
		return NewBasicLayer(in, out, stride, cfg.Eps, backend)
	}

	layers := nn.NewSequential[B](newLayer(inChannels, outChannels, stride))
	for i := 1; i < depth; i++ {
		layers.Add(newLayer(outChannels, outChannels, 1))
	}

	s := &Stage[B]{layers: layers}
	s.container = container[B]{
		kind: KindStage,
		desc: fmt.Sprintf("Stage(in=%d, out=%d, depth=%d)", inChannels, outChannels, depth),
		children: []nn.Child[B]{
			{Name: "layers", Module: layers},
		},
	}
	return s
}

// Forward runs all layers of the stage.
func (s *Stage[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return s.layers.Forward(input)
}

// Encoder chains the four stages. The first stage keeps stride 1: the
// stem's max pool already downsampled.
type Encoder[B tensor.Backend] struct {
	container[B]
	stages []*Stage[B]
}

// NewEncoder creates the stage stack from the configuration.
func NewEncoder[B tensor.Backend](cfg Config, backend B) *Encoder[B] {
	sizes := cfg.StageSizes()
	e := &Encoder[B]{}

	in := cfg.EmbeddingSize()
	for i, out := range sizes {
		stride := 2
		if i == 0 {
			stride = 1
		}
		e.stages = append(e.stages, NewStage(cfg, in, out, stride, cfg.Depths[i], backend))
		in = out
	}

	children := make([]nn.Child[B], len(e.stages))
	for i, stage := range e.stages {
		children[i] = nn.Child[B]{Name: fmt.Sprintf("stages.%d", i), Module: stage}
	}
	e.container = container[B]{
		kind:     KindEncoder,
		desc:     fmt.Sprintf("Encoder(stages=%d)", len(e.stages)),
		children: children,
	}
	return e
}

// Forward runs all stages.
func (e *Encoder[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	output := input
	for _, stage := range e.stages {
		output = stage.Forward(output)
	}
	return output
}

// Model is the headless backbone: embeddings, encoder, pooler.
type Model[B tensor.Backend] struct {
	container[B]
	embedder *Embeddings[B]
	encoder  *Encoder[B]
	pooler   *nn.AdaptiveAvgPool2D[B]
}

// NewModel creates the backbone from the configuration.
func NewModel[B tensor.Backend](cfg Config, backend B) *Model[B] {
	m := &Model[B]{
		embedder: NewEmbeddings(cfg, backend),
		encoder:  NewEncoder(cfg, backend),
		pooler:   nn.NewAdaptiveAvgPool2D(backend),
	}
	m.container = container[B]{
		kind: KindModel,
		desc: "ResNetModel",
		children: []nn.Child[B]{
			{Name: "embedder", Module: m.embedder},
			{Name: "encoder", Module: m.encoder},
			{Name: "pooler", Module: m.pooler},
		},
	}
	return m
}

// Forward returns the pooled [N, C, 1, 1] backbone features.
func (m *Model[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return m.pooler.Forward(m.encoder.Forward(m.embedder.Forward(input)))
}

// ForImageClassification is the backbone plus a flatten+linear
// classifier head. Forward returns logits of shape [N, NumLabels].
type ForImageClassification[B tensor.Backend] struct {
	container[B]
	resnet     *Model[B]
	classifier *nn.Sequential[B]

	config Config
}

// NewForImageClassification creates the full classification model.
// The model is freshly initialized; weights come from a transfer.
func NewForImageClassification[B tensor.Backend](cfg Config, backend B) (*ForImageClassification[B], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &ForImageClassification[B]{
		resnet: NewModel(cfg, backend),
		classifier: nn.NewSequential[B](
			nn.NewFlatten[B](),
			nn.NewLinear(cfg.StageSizes()[len(cfg.StageSizes())-1], cfg.NumLabels, backend),
		),
		config: cfg,
	}
	m.container = container[B]{
		kind: KindForImageClassification,
		desc: fmt.Sprintf("ResNetForImageClassification(layer_type=%s, depths=%v)", cfg.LayerType, cfg.Depths),
		children: []nn.Child[B]{
			{Name: "resnet", Module: m.resnet},
			{Name: "classifier", Module: m.classifier},
		},
	}
	return m, nil
}

// Forward computes classification logits for pixel values of shape
// [N, 3, H, W].
func (m *ForImageClassification[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return m.classifier.Forward(m.resnet.Forward(input))
}

// Config returns the model configuration.
func (m *ForImageClassification[B]) Config() Config {
	return m.config
}
