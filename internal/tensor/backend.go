package tensor

// Backend defines the interface compute backends must implement.
// The op set is the one ResNet-style inference needs; backends handle
// the actual computation, tensors only carry data and shape.
type Backend interface {
	// Device reports where the backend allocates its buffers.
	Device() Device

	// Element-wise binary operations (shapes must match or broadcast
	// from a [1, C, 1, 1]-style operand).
	Add(a, b *RawTensor) *RawTensor

	// Matrix operations (2D only).
	MatMul(a, b *RawTensor) *RawTensor

	// Shape operations.
	Reshape(t *RawTensor, newShape Shape) *RawTensor
	Transpose(t *RawTensor) *RawTensor

	// Activation functions.
	ReLU(x *RawTensor) *RawTensor

	// Convolutional network operations.
	Conv2D(input, kernel *RawTensor, stride, padding int) *RawTensor
	MaxPool2D(input *RawTensor, kernelSize, stride, padding int) *RawTensor
	GlobalAvgPool2D(input *RawTensor) *RawTensor

	// BatchNorm2D applies inference-mode batch normalization over the
	// channel dimension of a [N, C, H, W] input using the recorded
	// running statistics.
	BatchNorm2D(input, weight, bias, mean, variance *RawTensor, eps float32) *RawTensor
}
