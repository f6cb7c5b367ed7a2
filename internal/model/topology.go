package model

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// port is a graph input or output as reported by the runtime.
type port struct {
	name   string
	dims   []int64
	tensor bool
	float  bool
}

type portNames struct {
	input          string
	segmentation   string
	classification string
}

// checkTopology verifies the graph matches the fixed two-head network:
// one (1,1,128,128) float input, a (1,1,128,128) segmentation output and a
// (1,numClasses) classification output. A batch dimension of -1 is
// accepted. Output order in the graph is not significant.
func checkTopology(inputs, outputs []port, numClasses int) (portNames, error) {
	var names portNames

	if len(inputs) != 1 {
		return names, errors.Errorf("expected 1 input, graph has %d", len(inputs))
	}
	if err := expectDims(inputs[0], 1, ImageSize, ImageSize); err != nil {
		return names, errors.Wrapf(err, "input %q", inputs[0].name)
	}
	names.input = inputs[0].name

	if len(outputs) != 2 {
		return names, errors.Errorf("expected 2 outputs, graph has %d", len(outputs))
	}
	for _, out := range outputs {
		switch len(out.dims) {
		case 4:
			if err := expectDims(out, 1, ImageSize, ImageSize); err != nil {
				return names, errors.Wrapf(err, "segmentation output %q", out.name)
			}
			names.segmentation = out.name
		case 2:
			if err := expectDims(out, int64(numClasses)); err != nil {
				return names, errors.Wrapf(err, "classification output %q", out.name)
			}
			names.classification = out.name
		default:
			return names, errors.Errorf("output %q has unexpected rank %d", out.name, len(out.dims))
		}
	}
	if names.segmentation == "" || names.classification == "" {
		return names, errors.New("graph needs one segmentation and one classification output")
	}
	return names, nil
}

// expectDims checks a float tensor of shape (batch, want...) with batch 1 or
// dynamic.
func expectDims(p port, want ...int64) error {
	if !p.tensor || !p.float {
		return errors.New("must be a float32 tensor")
	}
	if len(p.dims) != len(want)+1 {
		return errors.Errorf("shape %s, want rank %d", formatDims(p.dims), len(want)+1)
	}
	if p.dims[0] != 1 && p.dims[0] != -1 {
		return errors.Errorf("batch dimension %d, want 1", p.dims[0])
	}
	for i, w := range want {
		if p.dims[i+1] != w {
			return errors.Errorf("shape %s, want %s", formatDims(p.dims), formatDims(append([]int64{1}, want...)))
		}
	}
	return nil
}

func checkInput(t *Tensor) error {
	want := []int64{1, 1, ImageSize, ImageSize}
	if len(t.Shape) != len(want) {
		return errors.Errorf("input shape %s, want %s", formatDims(t.Shape), formatDims(want))
	}
	for i := range want {
		if t.Shape[i] != want[i] {
			return errors.Errorf("input shape %s, want %s", formatDims(t.Shape), formatDims(want))
		}
	}
	if len(t.Data) != ImageSize*ImageSize {
		return errors.Errorf("input has %d values, want %d", len(t.Data), ImageSize*ImageSize)
	}
	return nil
}

func formatDims(dims []int64) string {
	parts := make([]string, len(dims))
	for i, d := range dims {
		parts[i] = fmt.Sprint(d)
	}
	return "(" + strings.Join(parts, ",") + ")"
}
