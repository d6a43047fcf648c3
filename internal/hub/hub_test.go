package hub

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/go-huggingface/hub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reweave-ml/reweave/internal/backend/cpu"
	"github.com/reweave-ml/reweave/internal/loader"
	"github.com/reweave-ml/reweave/internal/tensor"
)

func TestParseID2Label(t *testing.T) {
	id2label, label2id, err := ParseID2Label([]byte(`{"0": "tench", "1": "goldfish", "999": "toilet tissue"}`))
	require.NoError(t, err)

	assert.Equal(t, map[int]string{0: "tench", 1: "goldfish", 999: "toilet tissue"}, id2label)
	assert.Equal(t, map[string]int{"tench": 0, "goldfish": 1, "toilet tissue": 999}, label2id)
}

func TestParseID2Label_Malformed(t *testing.T) {
	_, _, err := ParseID2Label([]byte(`{"zero": "tench"}`))
	assert.Error(t, err)

	_, _, err = ParseID2Label([]byte(`[1, 2, 3]`))
	assert.Error(t, err)
}

// The label file lives in a dataset repository. go-huggingface resolves
// every download through its info API, which embeds the repo type in the
// URL, so the fetcher must carry RepoTypeDataset and a bare owner/name
// id; a "datasets/" prefix smuggled into the id produces an invalid
// api/models/datasets/... path and every download fails.
func TestImageNetLabels_UsesDatasetRepo(t *testing.T) {
	labels := NewImageNetLabels()

	assert.Equal(t, "huggingface/label-files", labels.repoID)
	assert.NotContains(t, labels.repoID, "datasets/")
	assert.Equal(t, hub.RepoTypeDataset, labels.repoType)
}

func TestTimmWeights_UnknownArchitecture(t *testing.T) {
	_, err := NewTimmWeights(false).FetchCheckpoint("resnet200")
	assert.Error(t, err)
}

func TestDirPublisher(t *testing.T) {
	backend := cpu.New()
	root := t.TempDir()

	weight, err := tensor.FromSlice([]float32{1, 2, 3, 4}, tensor.Shape{2, 2}, backend)
	require.NoError(t, err)
	stateDict := map[string]*tensor.RawTensor{"classifier.1.weight": weight.Raw()}

	publisher := &DirPublisher{Root: root}
	require.NoError(t, publisher.Publish("resnet18", stateDict, []byte(`{"model_type": "resnet"}`), []byte(`{"size": 224}`)))

	dir := filepath.Join(root, "resnet18")

	config, err := os.ReadFile(filepath.Join(dir, "config.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"model_type": "resnet"}`, string(config))

	preprocessor, err := os.ReadFile(filepath.Join(dir, "preprocessor_config.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"size": 224}`, string(preprocessor))

	reader, err := loader.NewSafeTensorsReader(filepath.Join(dir, "model.safetensors"))
	require.NoError(t, err)
	defer reader.Close()

	assert.Equal(t, map[string]string{"format": "pt"}, reader.Metadata())
	raw, err := reader.LoadTensor("classifier.1.weight", backend)
	require.NoError(t, err)
	assert.Equal(t, weight.Raw().Data(), raw.Data())
}
