package loader

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"sort"

	"github.com/pkg/errors"

	"github.com/reweave-ml/reweave/internal/tensor"
)

// SafeTensors format:
// [8 bytes: header_size (uint64 LE)]
// [header_size bytes: JSON header]
// [tensor data: raw bytes]

// maxHeaderSize bounds the JSON header; real checkpoints stay far below.
const maxHeaderSize = 100 * 1024 * 1024

// SafeTensorsDType represents supported SafeTensors data types.
type SafeTensorsDType string

// SafeTensors dtypes that appear in vision checkpoints.
const (
	SafeTensorsF16  SafeTensorsDType = "F16"
	SafeTensorsF32  SafeTensorsDType = "F32"
	SafeTensorsF64  SafeTensorsDType = "F64"
	SafeTensorsBF16 SafeTensorsDType = "BF16"
	SafeTensorsI64  SafeTensorsDType = "I64"
)

// SafeTensorInfo describes one tensor entry in the header.
type SafeTensorInfo struct {
	DType       SafeTensorsDType `json:"dtype"`
	Shape       []int            `json:"shape"`
	DataOffsets [2]int64         `json:"data_offsets"` // [start, end]
}

// SafeTensorsHeader is the JSON header of a SafeTensors file.
type SafeTensorsHeader struct {
	Metadata map[string]string `json:"__metadata__"`
	Tensors  map[string]SafeTensorInfo
}

// UnmarshalJSON splits the header's flat JSON object into the reserved
// __metadata__ entry and the tensor entries.
func (h *SafeTensorsHeader) UnmarshalJSON(data []byte) error {
	var rawMap map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawMap); err != nil {
		return err
	}

	if metadataRaw, ok := rawMap["__metadata__"]; ok {
		if err := json.Unmarshal(metadataRaw, &h.Metadata); err != nil {
			return errors.Wrap(err, "failed to unmarshal metadata")
		}
	}

	h.Tensors = make(map[string]SafeTensorInfo, len(rawMap))
	for key, value := range rawMap {
		if key == "__metadata__" {
			continue
		}
		var info SafeTensorInfo
		if err := json.Unmarshal(value, &info); err != nil {
			return errors.Wrapf(err, "failed to unmarshal tensor %s", key)
		}
		h.Tensors[key] = info
	}
	return nil
}

// SafeTensorsReader reads tensors from a SafeTensors file on demand.
type SafeTensorsReader struct {
	file       *os.File
	header     SafeTensorsHeader
	dataOffset int64
}

// NewSafeTensorsReader opens a SafeTensors file and parses its header.
func NewSafeTensorsReader(path string) (*SafeTensorsReader, error) {
	//nolint:gosec // G304: the path is user input, expected for checkpoint loading
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open file")
	}

	var headerSize uint64
	if err := binary.Read(file, binary.LittleEndian, &headerSize); err != nil {
		_ = file.Close()
		return nil, errors.Wrap(err, "failed to read header size")
	}
	if headerSize > maxHeaderSize {
		_ = file.Close()
		return nil, errors.Errorf("invalid header size: %d (too large)", headerSize)
	}

	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(file, headerBytes); err != nil {
		_ = file.Close()
		return nil, errors.Wrap(err, "failed to read header")
	}

	var header SafeTensorsHeader
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		_ = file.Close()
		return nil, errors.Wrap(err, "failed to parse header JSON")
	}

	return &SafeTensorsReader{
		file:       file,
		header:     header,
		dataOffset: int64(8 + headerSize), //nolint:gosec // G115: bounded by maxHeaderSize
	}, nil
}

// Close closes the underlying file.
func (r *SafeTensorsReader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// Metadata returns the header's metadata map.
func (r *SafeTensorsReader) Metadata() map[string]string {
	return r.header.Metadata
}

// TensorNames returns all tensor names in the file, sorted.
func (r *SafeTensorsReader) TensorNames() []string {
	names := make([]string, 0, len(r.header.Tensors))
	for name := range r.header.Tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TensorInfo returns the header entry for a tensor.
func (r *SafeTensorsReader) TensorInfo(name string) (*SafeTensorInfo, error) {
	info, ok := r.header.Tensors[name]
	if !ok {
		return nil, errors.Errorf("tensor %s not found", name)
	}
	return &info, nil
}

// readTensorData reads a tensor's raw bytes.
func (r *SafeTensorsReader) readTensorData(name string) ([]byte, error) {
	info, err := r.TensorInfo(name)
	if err != nil {
		return nil, err
	}

	start := r.dataOffset + info.DataOffsets[0]
	size := info.DataOffsets[1] - info.DataOffsets[0]
	if size < 0 {
		return nil, errors.Errorf("invalid data offsets for tensor %s: [%d, %d]",
			name, info.DataOffsets[0], info.DataOffsets[1])
	}

	if _, err := r.file.Seek(start, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "failed to seek to tensor data")
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r.file, data); err != nil {
		return nil, errors.Wrap(err, "failed to read tensor data")
	}
	return data, nil
}

// dataTypeFor converts a SafeTensors dtype to the tensor data type.
func dataTypeFor(dtype SafeTensorsDType) (tensor.DataType, error) {
	switch dtype {
	case SafeTensorsF32:
		return tensor.Float32, nil
	case SafeTensorsF64:
		return tensor.Float64, nil
	case SafeTensorsF16, SafeTensorsBF16, SafeTensorsI64:
		return 0, errors.Errorf("dtype %s is not supported for conversion", dtype)
	default:
		return 0, errors.Errorf("unsupported dtype: %s", dtype)
	}
}

// LoadTensor reads one named tensor into a RawTensor on the backend's
// device.
func (r *SafeTensorsReader) LoadTensor(name string, backend tensor.Backend) (*tensor.RawTensor, error) {
	info, err := r.TensorInfo(name)
	if err != nil {
		return nil, err
	}

	dtype, err := dataTypeFor(info.DType)
	if err != nil {
		return nil, errors.Wrapf(err, "tensor %s", name)
	}

	shape := tensor.Shape(info.Shape)
	if err := shape.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid shape for tensor %s", name)
	}

	data, err := r.readTensorData(name)
	if err != nil {
		return nil, err
	}
	if len(data) != shape.NumElements()*dtype.Size() {
		return nil, errors.Errorf("tensor %s: expected %d bytes, got %d",
			name, shape.NumElements()*dtype.Size(), len(data))
	}

	raw, err := tensor.NewRaw(shape, dtype, backend.Device())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create tensor %s", name)
	}
	copy(raw.Data(), data)
	return raw, nil
}

// LoadStateDict reads every tensor in the file through the mapper and
// returns the resulting state dict. Keys the mapper rejects are skipped.
func (r *SafeTensorsReader) LoadStateDict(mapper WeightMapper, backend tensor.Backend) (map[string]*tensor.RawTensor, error) {
	stateDict := make(map[string]*tensor.RawTensor, len(r.header.Tensors))
	for _, name := range r.TensorNames() {
		mapped, ok := mapper.MapName(name)
		if !ok {
			continue
		}
		raw, err := r.LoadTensor(name, backend)
		if err != nil {
			return nil, err
		}
		stateDict[mapped] = raw
	}
	return stateDict, nil
}
