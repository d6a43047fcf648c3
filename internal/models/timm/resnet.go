// Package timm implements the source ResNet layout: the flat module
// tree timm checkpoints are published in, used as the transfer source.
//
// State dict keys follow timm's naming (conv1.weight, layer1.0.bn2.bias,
// downsample.0.weight, fc.weight), so pretrained checkpoints load by
// name before their weights are transplanted by position.
package timm

import (
	"fmt"

	"github.com/reweave-ml/reweave/internal/models/resnet"
	"github.com/reweave-ml/reweave/internal/nn"
	"github.com/reweave-ml/reweave/internal/tensor"
)

// Container kinds of the source layout.
const (
	KindBasicBlock nn.Kind = "timm.basic_block"
	KindBottleneck nn.Kind = "timm.bottleneck"
	KindResNet     nn.Kind = "timm.resnet"
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

// downsampleFor returns the projection branch (1x1 conv + bn) when the
// residual needs resampling, an identity otherwise.
func downsampleFor[B tensor.Backend](inChannels, outChannels, stride int, eps float32, backend B) nn.Module[B] {
	if inChannels != outChannels || stride != 1 {
		return nn.NewSequential[B](
			nn.NewConv2D(inChannels, outChannels, 1, stride, 0, false, backend),
			nn.NewBatchNorm2D(outChannels, eps, backend),
		)
	}
	return nn.NewIdentity[B]()
}

// BasicBlock is the two-conv residual block used by resnet18/34.
type BasicBlock[B tensor.Backend] struct {
	container[B]
	conv1      *nn.Conv2D[B]
	bn1        *nn.BatchNorm2D[B]
	act1       *nn.ReLU[B]
	conv2      *nn.Conv2D[B]
	bn2        *nn.BatchNorm2D[B]
	downsample nn.Module[B]
	act2       *nn.ReLU[B]
}

// NewBasicBlock creates a basic residual block.
func NewBasicBlock[B tensor.Backend](inChannels, outChannels, stride int, eps float32, backend B) *BasicBlock[B] {
	b := &BasicBlock[B]{
		conv1:      nn.NewConv2D(inChannels, outChannels, 3, stride, 1, false, backend),
		bn1:        nn.NewBatchNorm2D(outChannels, eps, backend),
		act1:       nn.NewReLU[B](),
		conv2:      nn.NewConv2D(outChannels, outChannels, 3, 1, 1, false, backend),
		bn2:        nn.NewBatchNorm2D(outChannels, eps, backend),
		downsample: downsampleFor(inChannels, outChannels, stride, eps, backend),
		act2:       nn.NewReLU[B](),
	}
	b.container = container[B]{
		kind: KindBasicBlock,
		desc: fmt.Sprintf("BasicBlock(in=%d, out=%d, stride=%d)", inChannels, outChannels, stride),
		children: []nn.Child[B]{
			{Name: "conv1", Module: b.conv1},
			{Name: "bn1", Module: b.bn1},
			{Name: "act1", Module: b.act1},
			{Name: "conv2", Module: b.conv2},
			{Name: "bn2", Module: b.bn2},
			{Name: "downsample", Module: b.downsample},
			{Name: "act2", Module: b.act2},
		},
	}
	return b
}

// Forward runs the main path, resamples the residual where needed and
// applies the final activation.
func (b *BasicBlock[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	hidden := b.act1.Forward(b.bn1.Forward(b.conv1.Forward(input)))
	hidden = b.bn2.Forward(b.conv2.Forward(hidden))
	residual := b.downsample.Forward(input)
	return b.act2.Forward(hidden.Add(residual))
}

// Bottleneck is the three-conv residual block used by the deeper
// variants. The middle 3x3 convolution carries the stride.
type Bottleneck[B tensor.Backend] struct {
	container[B]
	conv1      *nn.Conv2D[B]
	bn1        *nn.BatchNorm2D[B]
	act1       *nn.ReLU[B]
	conv2      *nn.Conv2D[B]
	bn2        *nn.BatchNorm2D[B]
	act2       *nn.ReLU[B]
	conv3      *nn.Conv2D[B]
	bn3        *nn.BatchNorm2D[B]
	downsample nn.Module[B]
	act3       *nn.ReLU[B]
}

// NewBottleneck creates a bottleneck residual block with the standard
// 4x reduction.
func NewBottleneck[B tensor.Backend](inChannels, outChannels, stride int, eps float32, backend B) *Bottleneck[B] {
	planes := outChannels / 4
	b := &Bottleneck[B]{
		conv1:      nn.NewConv2D(inChannels, planes, 1, 1, 0, false, backend),
		bn1:        nn.NewBatchNorm2D(planes, eps, backend),
		act1:       nn.NewReLU[B](),
		conv2:      nn.NewConv2D(planes, planes, 3, stride, 1, false, backend),
		bn2:        nn.NewBatchNorm2D(planes, eps, backend),
		act2:       nn.NewReLU[B](),
		conv3:      nn.NewConv2D(planes, outChannels, 1, 1, 0, false, backend),
		bn3:        nn.NewBatchNorm2D(outChannels, eps, backend),
		downsample: downsampleFor(inChannels, outChannels, stride, eps, backend),
		act3:       nn.NewReLU[B](),
	}
	b.container = container[B]{
		kind: KindBottleneck,
		desc: fmt.Sprintf("Bottleneck(in=%d, out=%d, stride=%d)", inChannels, outChannels, stride),
		children: []nn.Child[B]{
			{Name: "conv1", Module: b.conv1},
			{Name: "bn1", Module: b.bn1},
			{Name: "act1", Module: b.act1},
			{Name: "conv2", Module: b.conv2},
			{Name: "bn2", Module: b.bn2},
			{Name: "act2", Module: b.act2},
			{Name: "conv3", Module: b.conv3},
			{Name: "bn3", Module: b.bn3},
			{Name: "downsample", Module: b.downsample},
			{Name: "act3", Module: b.act3},
		},
	}
	return b
}

// Forward runs the main path, resamples the residual where needed and
// applies the final activation.
func (b *Bottleneck[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	hidden := b.act1.Forward(b.bn1.Forward(b.conv1.Forward(input)))
	hidden = b.act2.Forward(b.bn2.Forward(b.conv2.Forward(hidden)))
	hidden = b.bn3.Forward(b.conv3.Forward(hidden))
	residual := b.downsample.Forward(input)
	return b.act3.Forward(hidden.Add(residual))
}

// ResNet is the full timm classification model: stem, four block
// stages, global pooling and a linear head.
type ResNet[B tensor.Backend] struct {
	container[B]
	conv1      *nn.Conv2D[B]
	bn1        *nn.BatchNorm2D[B]
	act1       *nn.ReLU[B]
	maxpool    *nn.MaxPool2D[B]
	layers     []*nn.Sequential[B]
	globalPool *nn.AdaptiveAvgPool2D[B]
	flatten    *nn.Flatten[B]
	fc         *nn.Linear[B]
}

// NewResNet creates the source model for a destination configuration.
// Both layouts share the architecture table, so the same Config drives
// both trees.
func NewResNet[B tensor.Backend](cfg resnet.Config, backend B) (*ResNet[B], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	newBlock := func(in, out, stride int) nn.Module[B] {
		if cfg.LayerType == resnet.LayerTypeBottleneck {
			return NewBottleneck(in, out, stride, cfg.Eps, backend)
		}
		return NewBasicBlock(in, out, stride, cfg.Eps, backend)
	}

	embedding := cfg.EmbeddingSize()
	m := &ResNet[B]{
		conv1:      nn.NewConv2D(3, embedding, 7, 2, 3, false, backend),
		bn1:        nn.NewBatchNorm2D(embedding, cfg.Eps, backend),
		act1:       nn.NewReLU[B](),
		maxpool:    nn.NewMaxPool2D(3, 2, 1, backend),
		globalPool: nn.NewAdaptiveAvgPool2D(backend),
		flatten:    nn.NewFlatten[B](),
	}

	in := embedding
	for i, out := range cfg.StageSizes() {
		stride := 2
		if i == 0 {
			stride = 1
		}
		layer := nn.NewSequential[B](newBlock(in, out, stride))
		for j := 1; j < cfg.Depths[i]; j++ {
			layer.Add(newBlock(out, out, 1))
		}
		m.layers = append(m.layers, layer)
		in = out
	}
	m.fc = nn.NewLinear(in, cfg.NumLabels, backend)

	children := []nn.Child[B]{
		{Name: "conv1", Module: m.conv1},
		{Name: "bn1", Module: m.bn1},
		{Name: "act1", Module: m.act1},
		{Name: "maxpool", Module: m.maxpool},
	}
	for i, layer := range m.layers {
		children = append(children, nn.Child[B]{Name: fmt.Sprintf("layer%d", i+1), Module: layer})
	}
	children = append(children,
		nn.Child[B]{Name: "global_pool", Module: m.globalPool},
		nn.Child[B]{Name: "flatten", Module: m.flatten},
		nn.Child[B]{Name: "fc", Module: m.fc},
	)
	m.container = container[B]{
		kind:     KindResNet,
		desc:     fmt.Sprintf("ResNet(layer_type=%s, depths=%v)", cfg.LayerType, cfg.Depths),
		children: children,
	}
	return m, nil
}

// Forward computes classification logits for pixel values of shape
// [N, 3, H, W].
func (m *ResNet[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	hidden := m.maxpool.Forward(m.act1.Forward(m.bn1.Forward(m.conv1.Forward(input))))
	for _, layer := range m.layers {
		hidden = layer.Forward(hidden)
	}
	return m.fc.Forward(m.flatten.Forward(m.globalPool.Forward(hidden)))
}
