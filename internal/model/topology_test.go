package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func tensorPort(name string, dims ...int64) port {
	return port{name: name, dims: dims, tensor: true, float: true}
}

func TestCheckTopology(t *testing.T) {
	input := []port{tensorPort("input", 1, 1, ImageSize, ImageSize)}

	t.Run("brain graph", func(t *testing.T) {
		names, err := checkTopology(input, []port{
			tensorPort("seg_output", 1, 1, ImageSize, ImageSize),
			tensorPort("class_output", 1, 4),
		}, 4)
		require.NoError(t, err)
		require.Equal(t, portNames{input: "input", segmentation: "seg_output", classification: "class_output"}, names)
	})

	t.Run("outputs in any order with dynamic batch", func(t *testing.T) {
		names, err := checkTopology(
			[]port{tensorPort("x", -1, 1, ImageSize, ImageSize)},
			[]port{
				tensorPort("logits", -1, 2),
				tensorPort("mask", -1, 1, ImageSize, ImageSize),
			}, 2)
		require.NoError(t, err)
		require.Equal(t, "mask", names.segmentation)
		require.Equal(t, "logits", names.classification)
	})

	testCases := []struct {
		name       string
		inputs     []port
		outputs    []port
		numClasses int
	}{
		{
			name:   "class count mismatch",
			inputs: input,
			outputs: []port{
				tensorPort("seg", 1, 1, ImageSize, ImageSize),
				tensorPort("cls", 1, 4),
			},
			numClasses: 2,
		},
		{
			name:   "wrong input size",
			inputs: []port{tensorPort("input", 1, 1, 256, 256)},
			outputs: []port{
				tensorPort("seg", 1, 1, ImageSize, ImageSize),
				tensorPort("cls", 1, 4),
			},
			numClasses: 4,
		},
		{
			name:   "rgb input",
			inputs: []port{tensorPort("input", 1, 3, ImageSize, ImageSize)},
			outputs: []port{
				tensorPort("seg", 1, 1, ImageSize, ImageSize),
				tensorPort("cls", 1, 4),
			},
			numClasses: 4,
		},
		{
			name:       "single output",
			inputs:     input,
			outputs:    []port{tensorPort("cls", 1, 4)},
			numClasses: 4,
		},
		{
			name:   "two classification heads",
			inputs: input,
			outputs: []port{
				tensorPort("a", 1, 4),
				tensorPort("b", 1, 4),
			},
			numClasses: 4,
		},
		{
			name:   "integer output",
			inputs: input,
			outputs: []port{
				{name: "seg", dims: []int64{1, 1, ImageSize, ImageSize}, tensor: true},
				tensorPort("cls", 1, 4),
			},
			numClasses: 4,
		},
		{
			name:   "batch of two",
			inputs: []port{tensorPort("input", 2, 1, ImageSize, ImageSize)},
			outputs: []port{
				tensorPort("seg", 2, 1, ImageSize, ImageSize),
				tensorPort("cls", 2, 4),
			},
			numClasses: 4,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := checkTopology(tc.inputs, tc.outputs, tc.numClasses)
			require.Error(t, err)
		})
	}
}

func TestCheckTopologyNamesPort(t *testing.T) {
	_, err := checkTopology(
		[]port{tensorPort("input", 1, 1, ImageSize, ImageSize)},
		[]port{
			tensorPort("seg", 1, 1, ImageSize, ImageSize),
			tensorPort("cls", 1, 4),
		}, 2)
	require.EqualError(t, err, `classification output "cls": shape (1,4), want (1,2)`)

	_, err = checkTopology([]port{{name: "input", dims: []int64{1, 1, ImageSize, ImageSize}}}, nil, 2)
	require.EqualError(t, err, `input "input": must be a float32 tensor`)
}

func TestCheckInput(t *testing.T) {
	ok := &Tensor{Shape: []int64{1, 1, ImageSize, ImageSize}, Data: make([]float32, ImageSize*ImageSize)}
	require.NoError(t, checkInput(ok))

	require.Error(t, checkInput(&Tensor{Shape: []int64{1, ImageSize, ImageSize}, Data: ok.Data}))
	require.Error(t, checkInput(&Tensor{Shape: ok.Shape, Data: ok.Data[:10]}))
}

func TestTaskNumClasses(t *testing.T) {
	require.Equal(t, 4, Task{Labels: []string{"glioma", "meningioma", "pituitary", "no_tumor"}}.NumClasses())
	require.Equal(t, 2, Task{Labels: []string{"tumor", "no_tumor"}}.NumClasses())
}
