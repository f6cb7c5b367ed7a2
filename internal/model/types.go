package model

import "github.com/pkg/errors"

// ImageSize is the square input resolution the network was trained on. The
// classification head flattens a 64 x ImageSize x ImageSize encoder output,
// so it cannot change without retraining.
const ImageSize = 128

var (
	// ErrModelLoad is returned when a weight file is missing or does not
	// match the declared topology.
	ErrModelLoad = errors.New("model load failed")
	// ErrInference wraps failures of a forward pass.
	ErrInference = errors.New("inference failed")
)

// Task is one served model: its name, weight file and ordered label
// vocabulary. Labels[i] is the name of class index i.
type Task struct {
	Name        string
	WeightsPath string
	Labels      []string
}

// NumClasses is the length of the classification head.
func (t Task) NumClasses() int {
	return len(t.Labels)
}

// Tensor is a dense float32 array in row-major order.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// InferenceResult holds the raw outputs of one forward pass.
type InferenceResult struct {
	// Segmentation logits, Height x Width, row-major.
	Segmentation []float32
	Height       int
	Width        int
	// Class logits, one per label.
	ClassLogits []float32
}

// Mask is a binary segmentation mask with values in {0,1}, row-major.
type Mask struct {
	Width  int
	Height int
	Data   []uint8
}

// Count returns the number of 1-valued pixels.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Data {
		n += int(v)
	}
	return n
}
