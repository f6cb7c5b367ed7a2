// Package modeltest provides a model.Network that runs without ONNX Runtime.
package modeltest

import (
	"context"
	"sync/atomic"

	"github.com/Brownie44l1/tumor-api/internal/model"
)

// Network is a deterministic stand-in for the two-head model. By default the
// segmentation logits equal the input pixels, so bright regions exceed the
// mask threshold, and class logits are constant with class Winner highest.
type Network struct {
	NumClasses int
	Winner     int
	// Err, when set, is returned by every Infer call.
	Err error
	// Forward, when set, replaces the default behavior.
	Forward func(input *model.Tensor) (*model.InferenceResult, error)

	calls  atomic.Int64
	closed atomic.Bool
}

// Infer implements model.Network.
func (n *Network) Infer(ctx context.Context, input *model.Tensor) (*model.InferenceResult, error) {
	n.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n.Err != nil {
		return nil, n.Err
	}
	if n.Forward != nil {
		return n.Forward(input)
	}

	logits := make([]float32, n.NumClasses)
	for i := range logits {
		logits[i] = -float32(i)
	}
	if n.Winner >= 0 && n.Winner < n.NumClasses {
		logits[n.Winner] = 10
	}

	return &model.InferenceResult{
		Segmentation: append([]float32(nil), input.Data...),
		Height:       model.ImageSize,
		Width:        model.ImageSize,
		ClassLogits:  logits,
	}, nil
}

// Close implements model.Network.
func (n *Network) Close() error {
	n.closed.Store(true)
	return nil
}

// Calls reports how many times Infer ran.
func (n *Network) Calls() int64 {
	return n.calls.Load()
}

// Closed reports whether Close was called.
func (n *Network) Closed() bool {
	return n.closed.Load()
}
