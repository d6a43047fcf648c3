// Package serialization writes module weights in the SafeTensors
// format, the standard Hugging Face checkpoint layout. It mirrors the
// reader in internal/loader: what one writes the other reads back.
package serialization

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"sort"

	"github.com/pkg/errors"

	"github.com/reweave-ml/reweave/internal/tensor"
)

// SafeTensorsWriter writes state dicts in SafeTensors format.
type SafeTensorsWriter struct {
	file   *os.File
	closed bool
}

// SafeTensorHeader is one tensor entry in the JSON header.
type SafeTensorHeader struct {
	DType       string   `json:"dtype"`
	Shape       []int64  `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// NewSafeTensorsWriter creates a SafeTensors file writer.
func NewSafeTensorsWriter(path string) (*SafeTensorsWriter, error) {
	//nolint:gosec // G304: the path is user input, expected for checkpoint saving
	file, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create file")
	}
	return &SafeTensorsWriter{file: file}, nil
}

// WriteSafeTensors writes a state dict to a SafeTensors file.
//
// Format:
// [8 bytes: header_size (uint64 LE)]
// [header_size bytes: JSON header]
// [tensor data: raw bytes]
func WriteSafeTensors(path string, stateDict map[string]*tensor.RawTensor, metadata map[string]string) error {
	writer, err := NewSafeTensorsWriter(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = writer.Close()
	}()

	return writer.WriteStateDict(stateDict, metadata)
}

// WriteStateDict writes all tensors of a state dict. Tensors are laid
// out in alphabetical key order so output files are reproducible.
func (w *SafeTensorsWriter) WriteStateDict(stateDict map[string]*tensor.RawTensor, metadata map[string]string) error {
	if w.closed {
		return errors.New("writer is closed")
	}

	tensorNames := make([]string, 0, len(stateDict))
	for name := range stateDict {
		tensorNames = append(tensorNames, name)
	}
	sort.Strings(tensorNames)

	header := make(map[string]interface{}, len(stateDict)+1)
	if len(metadata) > 0 {
		header["__metadata__"] = metadata
	}

	var currentOffset int64
	for _, name := range tensorNames {
		raw := stateDict[name]
		shape := raw.Shape()
		size := int64(shape.NumElements() * raw.DType().Size())

		shapeInt64 := make([]int64, len(shape))
		for i, dim := range shape {
			shapeInt64[i] = int64(dim)
		}

		header[name] = SafeTensorHeader{
			DType:       dtypeToSafeTensors(raw.DType()),
			Shape:       shapeInt64,
			DataOffsets: [2]int64{currentOffset, currentOffset + size},
		}
		currentOffset += size
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return errors.Wrap(err, "failed to marshal header")
	}

	if err := binary.Write(w.file, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return errors.Wrap(err, "failed to write header size")
	}
	if _, err := w.file.Write(headerJSON); err != nil {
		return errors.Wrap(err, "failed to write header")
	}

	for _, name := range tensorNames {
		if _, err := w.file.Write(stateDict[name].Data()); err != nil {
			return errors.Wrapf(err, "failed to write tensor %s", name)
		}
	}
	return nil
}

// Close closes the writer and the underlying file.
func (w *SafeTensorsWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}

// dtypeToSafeTensors converts a tensor data type to the SafeTensors
// dtype string.
func dtypeToSafeTensors(dt tensor.DataType) string {
	switch dt {
	case tensor.Float64:
		return "F64"
	default:
		return "F32"
	}
}
