// Command reweave converts pretrained timm ResNet checkpoints into the
// Hugging Face ResNet layout and writes them to a local dump folder.
//
// Convert one architecture:
//
//	reweave --model_name resnet50 --pytorch_dump_folder_path ./converted
//
// Convert all supported architectures:
//
//	reweave --pytorch_dump_folder_path ./converted
package main

import (
	"flag"
	"os"

	"k8s.io/klog/v2"

	"github.com/reweave-ml/reweave/internal/backend/cpu"
	"github.com/reweave-ml/reweave/internal/convert"
	"github.com/reweave-ml/reweave/internal/hub"
	"github.com/reweave-ml/reweave/internal/models/resnet"
)

func main() {
	modelName := flag.String("model_name", "",
		"Architecture to convert (e.g. resnet50). Converts all supported architectures when empty.")
	dumpFolder := flag.String("pytorch_dump_folder_path", "",
		"Output directory for converted checkpoints (required).")
	verbose := flag.Bool("verbose", false,
		"Log every transferred weight pairing.")
	klog.InitFlags(nil)
	flag.Parse()

	if *dumpFolder == "" {
		klog.Exitf("--pytorch_dump_folder_path is required (supported architectures: %v)", resnet.Architectures())
	}
	if err := os.MkdirAll(*dumpFolder, 0o755); err != nil {
		klog.Exitf("Failed to create %s: %v", *dumpFolder, err)
	}

	converter := convert.NewConverter(
		hub.NewTimmWeights(true),
		hub.NewImageNetLabels(),
		hub.NewPreprocessor(),
		&hub.DirPublisher{Root: *dumpFolder},
		cpu.New(),
		*verbose,
	)

	var err error
	if *modelName == "" {
		err = converter.ConvertAll()
	} else {
		err = converter.ConvertOne(*modelName)
	}
	if err != nil {
		klog.Exitf("Conversion failed: %v", err)
	}
	klog.Info("Done")
}
