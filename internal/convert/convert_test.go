package convert

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkg/errors"

	"github.com/reweave-ml/reweave/internal/backend/cpu"
	"github.com/reweave-ml/reweave/internal/loader"
	"github.com/reweave-ml/reweave/internal/models/resnet"
	"github.com/reweave-ml/reweave/internal/models/timm"
	"github.com/reweave-ml/reweave/internal/serialization"
	"github.com/reweave-ml/reweave/internal/tensor"
)

type B = *cpu.CPUBackend

func tinyConfigFor(_ string, numLabels int, id2label map[int]string, label2id map[string]int) (resnet.Config, error) {
	return resnet.Config{
		Depths:      []int{1, 1},
		HiddenSizes: []int{4, 4, 8},
		LayerType:   resnet.LayerTypeBasic,
		NumLabels:   numLabels,
		ID2Label:    id2label,
		Label2ID:    label2id,
		Eps:         1e-5,
	}, nil
}

// stubSources materializes a fresh tiny checkpoint per fetch.
type stubSources struct {
	t       *testing.T
	backend B
	dir     string
	failOn  string
	fetched []string
}

func (s *stubSources) FetchCheckpoint(architecture string) (string, error) {
	if architecture == s.failOn {
		return "", errors.Errorf("no checkpoint for %s", architecture)
	}
	s.fetched = append(s.fetched, architecture)

	cfg, err := tinyConfigFor(architecture, 3, nil, nil)
	require.NoError(s.t, err)
	model, err := timm.NewResNet(cfg, s.backend)
	require.NoError(s.t, err)

	path := filepath.Join(s.dir, architecture+".safetensors")
	require.NoError(s.t, serialization.WriteSafeTensors(path, model.StateDict(), nil))
	return path, nil
}

type stubLabels struct{}

func (stubLabels) Labels() (map[int]string, map[string]int, error) {
	return map[int]string{0: "cat", 1: "dog", 2: "bird"},
		map[string]int{"cat": 0, "dog": 1, "bird": 2}, nil
}

type stubPreprocessors struct{}

func (stubPreprocessors) PreprocessorConfig() ([]byte, error) {
	return []byte(`{"size": 224}`), nil
}

// recordingPublisher captures what would be written out.
type recordingPublisher struct {
	published  []string
	stateDicts map[string]map[string]*tensor.RawTensor
	configs    map[string][]byte
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{
		stateDicts: make(map[string]map[string]*tensor.RawTensor),
		configs:    make(map[string][]byte),
	}
}

func (p *recordingPublisher) Publish(name string, stateDict map[string]*tensor.RawTensor, config, _ []byte) error {
	p.published = append(p.published, name)
	p.stateDicts[name] = stateDict
	p.configs[name] = config
	return nil
}

func tinyConverter(t *testing.T, sources Sources, publisher Publisher) *Converter[B] {
	t.Helper()
	c := NewConverter[B](sources, stubLabels{}, stubPreprocessors{}, publisher, cpu.New(), false)
	c.inputShape = tensor.Shape{1, 3, 32, 32}
	c.configFor = tinyConfigFor
	return c
}

func TestConvertOne(t *testing.T) {
	backend := cpu.New()
	sources := &stubSources{t: t, backend: backend, dir: t.TempDir()}
	publisher := newRecordingPublisher()

	converter := tinyConverter(t, sources, publisher)
	require.NoError(t, converter.ConvertOne("resnet18"))

	require.Equal(t, []string{"resnet18"}, publisher.published)
	assert.Contains(t, publisher.stateDicts["resnet18"], "resnet.embedder.embedder.convolution.weight")
	assert.Contains(t, publisher.stateDicts["resnet18"], "classifier.1.weight")
	assert.Contains(t, string(publisher.configs["resnet18"]), `"model_type": "resnet"`)
}

func TestConvertOne_PublishedWeightsMatchSource(t *testing.T) {
	backend := cpu.New()
	sources := &stubSources{t: t, backend: backend, dir: t.TempDir()}
	publisher := newRecordingPublisher()

	converter := tinyConverter(t, sources, publisher)
	require.NoError(t, converter.ConvertOne("resnet18"))

	// Reload the fetched checkpoint and rerun both models: the published
	// weights must reproduce the source logits.
	cfg, err := tinyConfigFor("resnet18", 3, nil, nil)
	require.NoError(t, err)
	src, err := timm.NewResNet(cfg, backend)
	require.NoError(t, err)
	require.NoError(t, loader.LoadPretrained(filepath.Join(sources.dir, "resnet18.safetensors"), src, loader.NewTimmMapper(), backend))

	dest, err := resnet.NewForImageClassification(cfg, backend)
	require.NoError(t, err)
	require.NoError(t, dest.LoadStateDict(publisher.stateDicts["resnet18"]))

	x := tensor.Randn[float32](tensor.Shape{1, 3, 32, 32}, backend)
	assert.True(t, tensor.AllClose(src.Forward(x).Raw(), dest.Forward(x).Raw(), tensor.DefaultRtol, tensor.DefaultAtol))
}

func TestConvertOne_UnknownArchitecture(t *testing.T) {
	backend := cpu.New()
	sources := &stubSources{t: t, backend: backend, dir: t.TempDir()}
	converter := tinyConverter(t, sources, newRecordingPublisher())
	converter.configFor = resnet.ConfigFor

	err := converter.ConvertOne("resnet200")
	assert.Error(t, err)
}

func TestConvertAll_StopsAtFirstFailure(t *testing.T) {
	backend := cpu.New()
	sources := &stubSources{t: t, backend: backend, dir: t.TempDir(), failOn: "resnet26"}
	publisher := newRecordingPublisher()

	converter := tinyConverter(t, sources, publisher)
	err := converter.ConvertAll()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "resnet26")
	assert.Equal(t, []string{"resnet18"}, publisher.published)
}

func TestConvertAll(t *testing.T) {
	backend := cpu.New()
	sources := &stubSources{t: t, backend: backend, dir: t.TempDir()}
	publisher := newRecordingPublisher()

	converter := tinyConverter(t, sources, publisher)
	require.NoError(t, converter.ConvertAll())
	assert.Equal(t, resnet.Architectures(), publisher.published)
}

func TestOutputMismatchError(t *testing.T) {
	err := &OutputMismatchError{Architecture: "resnet50", MaxAbsDiff: 0.25}
	assert.Contains(t, err.Error(), "resnet50")
	assert.Contains(t, err.Error(), "don't match")
}
