// Package hub fetches conversion inputs from the Hugging Face Hub and
// publishes converted checkpoints.
package hub

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/gomlx/go-huggingface/hub"
	"github.com/pkg/errors"
)

// Hub repositories the converter draws its inputs from.
const (
	// labelFilesRepo hosts the ImageNet label mapping. It is a dataset
	// repository: downloads must be routed through the dataset endpoint
	// via Repo.WithType, not through the default model endpoint.
	labelFilesRepo = "huggingface/label-files"
	imageNetLabels = "imagenet-1k-id2label.json"

	// preprocessorRepo hosts a preprocessor_config.json with the
	// standard ImageNet normalization the converted models expect.
	preprocessorRepo  = "facebook/convnext-base-224-22k-1k"
	preprocessorFile  = "preprocessor_config.json"
	checkpointWeights = "model.safetensors"
)

// timmRepos maps architecture names to the timm Hub repositories whose
// checkpoints are converted.
var timmRepos = map[string]string{
	"resnet18":  "timm/resnet18.a1_in1k",
	"resnet26":  "timm/resnet26.bt_in1k",
	"resnet34":  "timm/resnet34.a1_in1k",
	"resnet50":  "timm/resnet50.a1_in1k",
	"resnet101": "timm/resnet101.a1_in1k",
	"resnet152": "timm/resnet152.a1_in1k",
}

// TimmWeights downloads pretrained timm checkpoints.
type TimmWeights struct {
	progress bool
}

// NewTimmWeights creates a checkpoint fetcher. With progress enabled a
// download bar is shown on stderr.
func NewTimmWeights(progress bool) *TimmWeights {
	return &TimmWeights{progress: progress}
}

// FetchCheckpoint downloads the safetensors checkpoint for an
// architecture and returns its local cache path.
func (w *TimmWeights) FetchCheckpoint(architecture string) (string, error) {
	repoID, ok := timmRepos[architecture]
	if !ok {
		return "", errors.Errorf("no pretrained checkpoint known for %q", architecture)
	}
	repo := hub.New(repoID).WithProgressBar(w.progress)
	path, err := repo.DownloadFile(checkpointWeights)
	if err != nil {
		return "", errors.Wrapf(err, "failed to download %s from %s", checkpointWeights, repoID)
	}
	return path, nil
}

// ImageNetLabels fetches the 1000-class ImageNet label mapping.
type ImageNetLabels struct {
	repoID   string
	repoType hub.RepoType
}

// NewImageNetLabels creates the label fetcher.
func NewImageNetLabels() *ImageNetLabels {
	return &ImageNetLabels{repoID: labelFilesRepo, repoType: hub.RepoTypeDataset}
}

// Labels downloads and parses the id2label file, returning both
// directions of the mapping.
func (l *ImageNetLabels) Labels() (map[int]string, map[string]int, error) {
	repo := hub.New(l.repoID).WithType(l.repoType)
	path, err := repo.DownloadFile(imageNetLabels)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to download %s", imageNetLabels)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to read %s", path)
	}
	return ParseID2Label(raw)
}

// ParseID2Label parses a label file ({"0": "tench", ...}) into id2label
// and label2id maps.
func ParseID2Label(raw []byte) (map[int]string, map[string]int, error) {
	var byString map[string]string
	if err := json.Unmarshal(raw, &byString); err != nil {
		return nil, nil, errors.Wrap(err, "failed to parse label file")
	}

	id2label := make(map[int]string, len(byString))
	label2id := make(map[string]int, len(byString))
	for key, label := range byString {
		id, err := strconv.Atoi(key)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "non-numeric label id %q", key)
		}
		id2label[id] = label
		label2id[label] = id
	}
	return id2label, label2id, nil
}

// Preprocessor fetches the preprocessor configuration published
// alongside each converted checkpoint.
type Preprocessor struct{}

// NewPreprocessor creates the preprocessor config fetcher.
func NewPreprocessor() *Preprocessor {
	return &Preprocessor{}
}

// PreprocessorConfig downloads the shared preprocessor_config.json and
// returns its contents.
func (p *Preprocessor) PreprocessorConfig() ([]byte, error) {
	repo := hub.New(preprocessorRepo)
	path, err := repo.DownloadFile(preprocessorFile)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to download %s from %s", preprocessorFile, preprocessorRepo)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	return raw, nil
}
