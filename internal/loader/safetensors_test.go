package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reweave-ml/reweave/internal/backend/cpu"
	"github.com/reweave-ml/reweave/internal/models/resnet"
	"github.com/reweave-ml/reweave/internal/models/timm"
	"github.com/reweave-ml/reweave/internal/serialization"
	"github.com/reweave-ml/reweave/internal/tensor"
)

func rawFromSlice(t *testing.T, data []float32, shape tensor.Shape, backend *cpu.CPUBackend) *tensor.RawTensor {
	t.Helper()
	tt, err := tensor.FromSlice(data, shape, backend)
	require.NoError(t, err)
	return tt.Raw()
}

func TestSafeTensorsRoundTrip(t *testing.T) {
	backend := cpu.New()
	path := filepath.Join(t.TempDir(), "model.safetensors")

	stateDict := map[string]*tensor.RawTensor{
		"conv1.weight": rawFromSlice(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3, 1, 1}, backend),
		"bn1.weight":   rawFromSlice(t, []float32{0.5, -0.5}, tensor.Shape{2}, backend),
	}
	metadata := map[string]string{"format": "pt"}

	require.NoError(t, serialization.WriteSafeTensors(path, stateDict, metadata))

	reader, err := NewSafeTensorsReader(path)
	require.NoError(t, err)
	defer reader.Close()

	assert.Equal(t, metadata, reader.Metadata())
	assert.Equal(t, []string{"bn1.weight", "conv1.weight"}, reader.TensorNames())

	info, err := reader.TensorInfo("conv1.weight")
	require.NoError(t, err)
	assert.Equal(t, SafeTensorsF32, info.DType)
	assert.Equal(t, []int{2, 3, 1, 1}, info.Shape)

	for name, want := range stateDict {
		raw, err := reader.LoadTensor(name, backend)
		require.NoError(t, err)
		assert.True(t, want.Shape().Equal(raw.Shape()))
		assert.Equal(t, want.Data(), raw.Data(), name)
	}

	_, err = reader.LoadTensor("missing.weight", backend)
	assert.Error(t, err)
}

func TestSafeTensorsReader_RejectsTruncatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.safetensors")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0o644))

	_, err := NewSafeTensorsReader(path)
	assert.Error(t, err)
}

func TestTimmMapper(t *testing.T) {
	mapper := NewTimmMapper()
	assert.Equal(t, "timm", mapper.Source())

	name, ok := mapper.MapName("layer1.0.conv1.weight")
	assert.True(t, ok)
	assert.Equal(t, "layer1.0.conv1.weight", name)

	_, ok = mapper.MapName("bn1.num_batches_tracked")
	assert.False(t, ok)
	_, ok = mapper.MapName("layer2.1.downsample.1.num_batches_tracked")
	assert.False(t, ok)
}

func TestLoadPretrained(t *testing.T) {
	backend := cpu.New()
	cfg := resnet.Config{
		Depths:      []int{1, 1},
		HiddenSizes: []int{4, 4, 8},
		LayerType:   resnet.LayerTypeBasic,
		NumLabels:   3,
		Eps:         1e-5,
	}

	src, err := timm.NewResNet(cfg, backend)
	require.NoError(t, err)

	// A checkpoint also carries step counters; the mapper must skip them.
	stateDict := src.StateDict()
	stateDict["bn1.num_batches_tracked"] = rawFromSlice(t, []float32{42}, tensor.Shape{1}, backend)

	path := filepath.Join(t.TempDir(), "resnet_tiny.safetensors")
	require.NoError(t, serialization.WriteSafeTensors(path, stateDict, map[string]string{"format": "pt"}))

	dest, err := timm.NewResNet(cfg, backend)
	require.NoError(t, err)
	require.NoError(t, LoadPretrained(path, dest, NewTimmMapper(), backend))

	input := tensor.Randn[float32](tensor.Shape{1, 3, 32, 32}, backend)
	assert.True(t, tensor.AllClose(src.Forward(input).Raw(), dest.Forward(input).Raw(), tensor.DefaultRtol, tensor.DefaultAtol))
}

func TestLoadPretrained_MissingFile(t *testing.T) {
	backend := cpu.New()
	cfg := resnet.Config{
		Depths:      []int{1, 1},
		HiddenSizes: []int{4, 4, 8},
		LayerType:   resnet.LayerTypeBasic,
		NumLabels:   3,
		Eps:         1e-5,
	}
	model, err := timm.NewResNet(cfg, backend)
	require.NoError(t, err)

	err = LoadPretrained("/nonexistent/model.safetensors", model, NewTimmMapper(), backend)
	assert.Error(t, err)
}
