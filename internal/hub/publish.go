package hub

import (
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/reweave-ml/reweave/internal/serialization"
	"github.com/reweave-ml/reweave/internal/tensor"
)

// DirPublisher writes converted checkpoints to a local dump directory,
// one subdirectory per checkpoint:
//
//	<root>/<name>/model.safetensors
//	<root>/<name>/config.json
//	<root>/<name>/preprocessor_config.json
type DirPublisher struct {
	Root string
}

// Publish writes the checkpoint files for one converted model.
func (p *DirPublisher) Publish(name string, stateDict map[string]*tensor.RawTensor, config, preprocessor []byte) error {
	dir := filepath.Join(p.Root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create %s", dir)
	}

	weightsPath := filepath.Join(dir, checkpointWeights)
	if err := serialization.WriteSafeTensors(weightsPath, stateDict, map[string]string{"format": "pt"}); err != nil {
		return errors.Wrapf(err, "failed to write %s", weightsPath)
	}
	if info, err := os.Stat(weightsPath); err == nil {
		klog.Infof("Saved weights %s (%s)", weightsPath, humanize.Bytes(uint64(info.Size())))
	}

	configPath := filepath.Join(dir, "config.json")
	if err := os.WriteFile(configPath, config, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", configPath)
	}

	preprocessorPath := filepath.Join(dir, preprocessorFile)
	if err := os.WriteFile(preprocessorPath, preprocessor, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", preprocessorPath)
	}

	klog.Infof("Published %s to %s", name, dir)
	return nil
}
