package nn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reweave-ml/reweave/internal/backend/cpu"
	"github.com/reweave-ml/reweave/internal/tensor"
)

func TestConv2D_ForwardShape(t *testing.T) {
	backend := cpu.New()
	conv := NewConv2D(3, 8, 3, 2, 1, false, backend)

	input := tensor.Zeros[float32](tensor.Shape{2, 3, 16, 16}, backend)
	output := conv.Forward(input)

	assert.True(t, output.Shape().Equal(tensor.Shape{2, 8, 8, 8}), "got %v", output.Shape())
}

func TestConv2D_StateDictRoundTrip(t *testing.T) {
	backend := cpu.New()
	src := NewConv2D(2, 4, 3, 1, 1, false, backend)
	dst := NewConv2D(2, 4, 3, 1, 1, false, backend)

	require.NoError(t, dst.LoadStateDict(src.StateDict()))
	assert.Equal(t, src.StateDict()["weight"].Data(), dst.StateDict()["weight"].Data())
}

func TestConv2D_LoadStateDictShapeMismatch(t *testing.T) {
	backend := cpu.New()
	conv := NewConv2D(2, 4, 3, 1, 1, false, backend)
	other := NewConv2D(2, 4, 5, 1, 2, false, backend)

	err := conv.LoadStateDict(other.StateDict())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shape mismatch")
}

func TestConv2D_NoBiasStateDict(t *testing.T) {
	backend := cpu.New()
	conv := NewConv2D(2, 4, 3, 1, 1, false, backend)

	sd := conv.StateDict()
	assert.Len(t, sd, 1)
	assert.Contains(t, sd, "weight")
	assert.Len(t, conv.Parameters(), 1)
}

func TestBatchNorm2D_StateDictCarriesRunningStats(t *testing.T) {
	backend := cpu.New()
	bn := NewBatchNorm2D(4, 1e-5, backend)

	sd := bn.StateDict()
	assert.Len(t, sd, 4)
	for _, key := range []string{"weight", "bias", "running_mean", "running_var"} {
		assert.Contains(t, sd, key)
	}
	// Only the affine pair is learnable.
	assert.Len(t, bn.Parameters(), 2)
}

func TestBatchNorm2D_LoadedStatsChangeForward(t *testing.T) {
	backend := cpu.New()
	input, err := tensor.FromSlice([]float32{2, 4}, tensor.Shape{1, 1, 1, 2}, backend)
	require.NoError(t, err)

	bn := NewBatchNorm2D(1, 1e-5, backend)
	fresh := bn.Forward(input).Data()

	mean, _ := tensor.FromSlice([]float32{3}, tensor.Shape{1}, backend)
	variance, _ := tensor.FromSlice([]float32{4}, tensor.Shape{1}, backend)
	weight, _ := tensor.FromSlice([]float32{1}, tensor.Shape{1}, backend)
	bias, _ := tensor.FromSlice([]float32{0}, tensor.Shape{1}, backend)
	require.NoError(t, bn.LoadStateDict(map[string]*tensor.RawTensor{
		"weight":       weight.Raw(),
		"bias":         bias.Raw(),
		"running_mean": mean.Raw(),
		"running_var":  variance.Raw(),
	}))

	loaded := bn.Forward(input).Data()
	assert.NotEqual(t, fresh, loaded, "running statistics must affect the forward pass")
	// (2-3)/2 and (4-3)/2 with eps noise.
	assert.InDelta(t, -0.5, loaded[0], 1e-4)
	assert.InDelta(t, 0.5, loaded[1], 1e-4)
}

func TestBatchNorm2D_LoadRequiresRunningStats(t *testing.T) {
	backend := cpu.New()
	bn := NewBatchNorm2D(2, 1e-5, backend)

	sd := bn.StateDict()
	delete(sd, "running_mean")
	err := bn.LoadStateDict(sd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "running_mean")
}

func TestLinear_ForwardValues(t *testing.T) {
	backend := cpu.New()
	linear := NewLinear(2, 2, backend)

	weight, _ := tensor.FromSlice([]float32{1, 2, 3, 4}, tensor.Shape{2, 2}, backend)
	bias, _ := tensor.FromSlice([]float32{10, 20}, tensor.Shape{2}, backend)
	require.NoError(t, linear.LoadStateDict(map[string]*tensor.RawTensor{
		"weight": weight.Raw(),
		"bias":   bias.Raw(),
	}))

	input, _ := tensor.FromSlice([]float32{1, 1}, tensor.Shape{1, 2}, backend)
	output := linear.Forward(input)

	// y = x @ W.T + b = [1+2+10, 3+4+20].
	assert.Equal(t, []float32{13, 27}, output.Data())
}

func TestSequential_StateDictPrefixes(t *testing.T) {
	backend := cpu.New()
	seq := NewSequential[*cpu.CPUBackend](
		NewConv2D(1, 2, 3, 1, 1, false, backend),
		NewReLU[*cpu.CPUBackend](),
		NewBatchNorm2D(2, 1e-5, backend),
	)

	sd := seq.StateDict()
	assert.Contains(t, sd, "0.weight")
	assert.Contains(t, sd, "2.weight")
	assert.Contains(t, sd, "2.running_mean")
	assert.NotContains(t, sd, "1.weight")

	require.NoError(t, seq.LoadStateDict(sd))
}

func TestSequential_ChildrenOrder(t *testing.T) {
	backend := cpu.New()
	conv := NewConv2D(1, 2, 3, 1, 1, false, backend)
	relu := NewReLU[*cpu.CPUBackend]()
	seq := NewSequential[*cpu.CPUBackend](conv, relu)

	children := seq.Children()
	require.Len(t, children, 2)
	assert.Equal(t, KindConv2D, children[0].Kind())
	assert.Equal(t, KindReLU, children[1].Kind())
}

func TestFlatten(t *testing.T) {
	backend := cpu.New()
	flatten := NewFlatten[*cpu.CPUBackend]()

	input := tensor.Zeros[float32](tensor.Shape{2, 3, 4, 5}, backend)
	output := flatten.Forward(input)
	assert.True(t, output.Shape().Equal(tensor.Shape{2, 60}))
}

func TestStatelessLeaves(t *testing.T) {
	backend := cpu.New()
	leaves := []Module[*cpu.CPUBackend]{
		NewReLU[*cpu.CPUBackend](),
		NewMaxPool2D(3, 2, 1, backend),
		NewAdaptiveAvgPool2D(backend),
		NewFlatten[*cpu.CPUBackend](),
		NewIdentity[*cpu.CPUBackend](),
	}

	for _, leaf := range leaves {
		assert.Empty(t, leaf.StateDict(), "%s must be stateless", leaf)
		assert.Nil(t, leaf.Parameters(), "%s must have no parameters", leaf)
		assert.Nil(t, leaf.Children(), "%s must be a leaf", leaf)
	}
}

func TestCollectAndLoadChildren(t *testing.T) {
	backend := cpu.New()
	conv := NewConv2D(1, 2, 3, 1, 1, false, backend)
	bn := NewBatchNorm2D(2, 1e-5, backend)
	children := []Child[*cpu.CPUBackend]{
		{Name: "convolution", Module: conv},
		{Name: "normalization", Module: bn},
	}

	sd := CollectStateDict(children)
	assert.Contains(t, sd, "convolution.weight")
	assert.Contains(t, sd, "normalization.running_var")

	require.NoError(t, LoadChildren(children, sd))
	assert.Len(t, ChildModules(children), 2)
	assert.Len(t, CollectParameters(children), 3)
}
