package serialization

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reweave-ml/reweave/internal/backend/cpu"
	"github.com/reweave-ml/reweave/internal/tensor"
)

func TestWriteSafeTensors_Layout(t *testing.T) {
	backend := cpu.New()
	path := filepath.Join(t.TempDir(), "model.safetensors")

	a, err := tensor.FromSlice([]float32{1, 2, 3, 4}, tensor.Shape{2, 2}, backend)
	require.NoError(t, err)
	b, err := tensor.FromSlice([]float32{5, 6}, tensor.Shape{2}, backend)
	require.NoError(t, err)

	stateDict := map[string]*tensor.RawTensor{
		"z.weight": a.Raw(),
		"a.bias":   b.Raw(),
	}
	require.NoError(t, WriteSafeTensors(path, stateDict, nil))

	blob, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(blob), 8)

	headerSize := binary.LittleEndian.Uint64(blob[:8])
	var header map[string]SafeTensorHeader
	require.NoError(t, json.Unmarshal(blob[8:8+headerSize], &header))

	// No metadata was given, so the header holds exactly the tensors.
	require.Len(t, header, 2)
	assert.Equal(t, "F32", header["z.weight"].DType)
	assert.Equal(t, []int64{2, 2}, header["z.weight"].Shape)

	// Payloads are laid out in alphabetical key order.
	assert.Equal(t, [2]int64{0, 8}, header["a.bias"].DataOffsets)
	assert.Equal(t, [2]int64{8, 24}, header["z.weight"].DataOffsets)

	payload := blob[8+headerSize:]
	assert.Len(t, payload, 24)
}

func TestWriter_ClosedRejectsWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.safetensors")
	writer, err := NewSafeTensorsWriter(path)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	require.NoError(t, writer.Close())

	err = writer.WriteStateDict(map[string]*tensor.RawTensor{}, nil)
	assert.Error(t, err)
}
