package resnet

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Block kinds for residual layers.
const (
	LayerTypeBasic      = "basic"
	LayerTypeBottleneck = "bottleneck"
)

// Config describes a ResNet destination architecture.
//
// HiddenSizes carries five entries: the stem width followed by the four
// stage output widths. Depths carries the four stage depths.
type Config struct {
	Depths      []int
	HiddenSizes []int
	LayerType   string

	NumLabels int
	ID2Label  map[int]string
	Label2ID  map[string]int

	// Eps is the batch norm epsilon.
	Eps float32
}

// Validate checks the structural fields of the configuration.
func (c Config) Validate() error {
	if len(c.HiddenSizes) != len(c.Depths)+1 {
		return fmt.Errorf("config: expected %d hidden sizes for %d depths, got %d",
			len(c.Depths)+1, len(c.Depths), len(c.HiddenSizes))
	}
	if c.LayerType != LayerTypeBasic && c.LayerType != LayerTypeBottleneck {
		return fmt.Errorf("config: unknown layer type %q", c.LayerType)
	}
	if c.NumLabels <= 0 {
		return fmt.Errorf("config: invalid label count %d", c.NumLabels)
	}
	return nil
}

// EmbeddingSize returns the stem width.
func (c Config) EmbeddingSize() int {
	return c.HiddenSizes[0]
}

// StageSizes returns the per-stage output widths.
func (c Config) StageSizes() []int {
	return c.HiddenSizes[1:]
}

// JSON renders the configuration in the published config.json layout.
func (c Config) JSON() ([]byte, error) {
	id2label := make(map[string]string, len(c.ID2Label))
	for id, label := range c.ID2Label {
		id2label[strconv.Itoa(id)] = label
	}

	doc := map[string]any{
		"architectures":             []string{"ResNetForImageClassification"},
		"model_type":                "resnet",
		"layer_type":                c.LayerType,
		"depths":                    c.Depths,
		"embedding_size":            c.EmbeddingSize(),
		"hidden_sizes":              c.StageSizes(),
		"hidden_act":                "relu",
		"downsample_in_first_stage": false,
		"num_labels":                c.NumLabels,
		"id2label":                  id2label,
		"label2id":                  c.Label2ID,
	}
	return json.MarshalIndent(doc, "", "  ")
}

// architecture is one row of the fixed conversion table.
type architecture struct {
	depths      []int
	hiddenSizes []int
	layerType   string
}

// namesToConfig is the fixed table of convertible architectures.
// It is load-bearing: depths and sizes must match the pretrained
// checkpoints exactly or the transfer fails structurally.
var namesToConfig = map[string]architecture{
	"resnet18":  {depths: []int{2, 2, 2, 2}, hiddenSizes: []int{64, 64, 128, 256, 512}, layerType: LayerTypeBasic},
	"resnet26":  {depths: []int{2, 2, 2, 2}, hiddenSizes: []int{64, 256, 512, 1024, 2048}, layerType: LayerTypeBottleneck},
	"resnet34":  {depths: []int{3, 4, 6, 3}, hiddenSizes: []int{64, 64, 128, 256, 512}, layerType: LayerTypeBasic},
	"resnet50":  {depths: []int{3, 4, 6, 3}, hiddenSizes: []int{64, 256, 512, 1024, 2048}, layerType: LayerTypeBottleneck},
	"resnet101": {depths: []int{3, 4, 23, 3}, hiddenSizes: []int{64, 256, 512, 1024, 2048}, layerType: LayerTypeBottleneck},
	"resnet152": {depths: []int{3, 8, 36, 3}, hiddenSizes: []int{64, 256, 512, 1024, 2048}, layerType: LayerTypeBottleneck},
}

// conversionOrder fixes the "convert all" processing order.
var conversionOrder = []string{"resnet18", "resnet26", "resnet34", "resnet50", "resnet101", "resnet152"}

// Architectures returns the names of all convertible architectures in
// conversion order.
func Architectures() []string {
	return append([]string(nil), conversionOrder...)
}

// ConfigFor returns the configuration for a named architecture with the
// given label metadata.
func ConfigFor(name string, numLabels int, id2label map[int]string, label2id map[string]int) (Config, error) {
	arch, ok := namesToConfig[name]
	if !ok {
		return Config{}, fmt.Errorf("unknown architecture %q (supported: %v)", name, conversionOrder)
	}
	return Config{
		Depths:      append([]int(nil), arch.depths...),
		HiddenSizes: append([]int(nil), arch.hiddenSizes...),
		LayerType:   arch.layerType,
		NumLabels:   numLabels,
		ID2Label:    id2label,
		Label2ID:    label2id,
		Eps:         1e-5,
	}, nil
}
