package timm

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reweave-ml/reweave/internal/backend/cpu"
	"github.com/reweave-ml/reweave/internal/models/resnet"
	"github.com/reweave-ml/reweave/internal/nn"
	"github.com/reweave-ml/reweave/internal/tensor"
	"github.com/reweave-ml/reweave/internal/trace"
)

type B = *cpu.CPUBackend

func tinyConfig(layerType string) resnet.Config {
	return resnet.Config{
		Depths:      []int{1, 1},
		HiddenSizes: []int{4, 4, 8},
		LayerType:   layerType,
		NumLabels:   3,
		Eps:         1e-5,
	}
}

func TestResNet_ForwardShape(t *testing.T) {
	backend := cpu.New()
	for _, layerType := range []string{resnet.LayerTypeBasic, resnet.LayerTypeBottleneck} {
		t.Run(layerType, func(t *testing.T) {
			model, err := NewResNet(tinyConfig(layerType), backend)
			require.NoError(t, err)

			input := tensor.Randn[float32](tensor.Shape{2, 3, 32, 32}, backend)
			logits := model.Forward(input)
			assert.Equal(t, tensor.Shape{2, 3}, logits.Shape())
		})
	}
}

func TestResNet_StateDictKeys(t *testing.T) {
	backend := cpu.New()
	model, err := NewResNet(tinyConfig(resnet.LayerTypeBasic), backend)
	require.NoError(t, err)

	sd := model.StateDict()

	want := []string{
		"conv1.weight",
		"bn1.weight",
		"bn1.bias",
		"bn1.running_mean",
		"bn1.running_var",
		"layer1.0.conv1.weight",
		"layer1.0.bn2.running_var",
		"layer2.0.downsample.0.weight",
		"layer2.0.downsample.1.running_mean",
		"fc.weight",
		"fc.bias",
	}
	for _, key := range want {
		assert.Contains(t, sd, key)
	}

	// layer1 keeps stride 1 with matching widths, so its first block
	// has no downsample weights.
	assert.NotContains(t, sd, "layer1.0.downsample.0.weight")
}

// countParametrized walks the tree structurally in child order and
// counts leaves with a non-empty state dict.
func countParametrized(m nn.Module[B]) int {
	children := m.Children()
	if len(children) == 0 {
		if len(m.StateDict()) > 0 {
			return 1
		}
		return 0
	}
	n := 0
	for _, child := range children {
		n += countParametrized(child)
	}
	return n
}

// Both layouts must expose the same number of parametrized operations,
// in the same execution order, for every convertible architecture.
// Counts are checked structurally so the full-size models do not need a
// forward pass.
func TestParametrizedCountsMatchAcrossLayouts(t *testing.T) {
	if testing.Short() {
		t.Skip("builds full-size models")
	}

	backend := cpu.New()
	for _, name := range resnet.Architectures() {
		t.Run(name, func(t *testing.T) {
			cfg, err := resnet.ConfigFor(name, 1000, nil, nil)
			require.NoError(t, err)

			src, err := NewResNet(cfg, backend)
			require.NoError(t, err)
			dest, err := resnet.NewForImageClassification(cfg, backend)
			require.NoError(t, err)

			srcCount := countParametrized(src)
			destCount := countParametrized(dest)
			assert.Equal(t, srcCount, destCount,
				"parametrized operation counts diverge: timm=%d hf=%d", srcCount, destCount)
			assert.Greater(t, srcCount, 0)
		})
	}
}

func TestTransferToClassificationLayout(t *testing.T) {
	backend := cpu.New()
	for _, layerType := range []string{resnet.LayerTypeBasic, resnet.LayerTypeBottleneck} {
		t.Run(layerType, func(t *testing.T) {
			cfg := tinyConfig(layerType)
			src, err := NewResNet(cfg, backend)
			require.NoError(t, err)
			dest, err := resnet.NewForImageClassification(cfg, backend)
			require.NoError(t, err)

			input := tensor.Randn[float32](tensor.Shape{2, 3, 32, 32}, backend)
			transfer := trace.Transfer[B]{Src: src, Dest: dest}
			require.NoError(t, transfer.Run(input))

			srcOut := src.Forward(input)
			destOut := dest.Forward(input)
			require.Equal(t, srcOut.Shape(), destOut.Shape())
			assert.True(t, tensor.AllClose(srcOut.Raw(), destOut.Raw(), tensor.DefaultRtol, tensor.DefaultAtol),
				"max abs diff %g", tensor.MaxAbsDiff(srcOut.Raw(), destOut.Raw()))
		})
	}
}

func TestTransfer_DepthMismatchFails(t *testing.T) {
	backend := cpu.New()
	srcCfg := tinyConfig(resnet.LayerTypeBasic)
	destCfg := tinyConfig(resnet.LayerTypeBasic)
	destCfg.Depths = []int{1, 2}

	src, err := NewResNet(srcCfg, backend)
	require.NoError(t, err)
	dest, err := resnet.NewForImageClassification(destCfg, backend)
	require.NoError(t, err)

	input := tensor.Randn[float32](tensor.Shape{1, 3, 32, 32}, backend)
	transfer := trace.Transfer[B]{Src: src, Dest: dest}
	err = transfer.Run(input)

	var mismatch *trace.StructuralMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Less(t, mismatch.SrcOps, mismatch.DestOps)
}

// Full-size sanity check for one basic and one bottleneck architecture.
func TestTransferFullSize(t *testing.T) {
	if testing.Short() {
		t.Skip("full-size forward passes are slow")
	}

	backend := cpu.New()
	for _, name := range []string{"resnet18", "resnet26"} {
		t.Run(name, func(t *testing.T) {
			cfg, err := resnet.ConfigFor(name, 1000, nil, nil)
			require.NoError(t, err)

			src, err := NewResNet(cfg, backend)
			require.NoError(t, err)
			dest, err := resnet.NewForImageClassification(cfg, backend)
			require.NoError(t, err)

			input := tensor.Randn[float32](tensor.Shape{1, 3, 224, 224}, backend)
			transfer := trace.Transfer[B]{Src: src, Dest: dest}
			require.NoError(t, transfer.Run(input))

			srcOut := src.Forward(input)
			destOut := dest.Forward(input)
			require.Equal(t, tensor.Shape{1, 1000}, destOut.Shape())
			assert.True(t, tensor.AllClose(srcOut.Raw(), destOut.Raw(), tensor.DefaultRtol, tensor.DefaultAtol),
				"%s: max abs diff %g", name, tensor.MaxAbsDiff(srcOut.Raw(), destOut.Raw()))
		})
	}
}

func ExampleNewResNet() {
	backend := cpu.New()
	cfg, _ := resnet.ConfigFor("resnet18", 1000, nil, nil)
	model, _ := NewResNet(cfg, backend)
	fmt.Println(model)
	// Output: ResNet(layer_type=basic, depths=[2 2 2 2])
}
