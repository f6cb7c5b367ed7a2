package model

import "context"

// Network runs the two-head segmentation and classification model.
// Implementations must allow concurrent Infer calls.
type Network interface {
	Infer(ctx context.Context, input *Tensor) (*InferenceResult, error)
	Close() error
}
