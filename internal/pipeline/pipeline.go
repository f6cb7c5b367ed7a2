package pipeline

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Brownie44l1/tumor-api/internal/imaging"
	"github.com/Brownie44l1/tumor-api/internal/model"
)

const tracerName = "github.com/Brownie44l1/tumor-api/internal/pipeline"

// Pipeline runs one task end to end: load, preprocess, infer, postprocess,
// render. It holds no per-request state.
type Pipeline struct {
	task     model.Task
	network  model.Network
	renderer *imaging.Renderer
	logger   *zap.Logger
	tracer   trace.Tracer
}

// Prediction is the postprocessed network output for one image.
type Prediction struct {
	// Image is the resized grayscale input the network saw.
	Image *image.Gray
	Mask  *model.Mask
	Label string
}

// Result is what a client receives.
type Result struct {
	PNG   []byte
	Label string
}

// New builds a pipeline for task around an already loaded network.
func New(task model.Task, network model.Network, renderer *imaging.Renderer, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		task:     task,
		network:  network,
		renderer: renderer,
		logger:   logger.Named("pipeline." + task.Name),
		tracer:   otel.Tracer(tracerName),
	}
}

// Task returns the task this pipeline serves.
func (p *Pipeline) Task() model.Task {
	return p.task
}

// Predict loads the image at path and returns its mask and label.
func (p *Pipeline) Predict(ctx context.Context, path string) (*Prediction, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.Predict",
		trace.WithAttributes(attribute.String("task", p.task.Name)))
	defer span.End()

	src, err := imaging.LoadGray(path)
	if err != nil {
		return nil, fail(span, err)
	}

	tensor, resized := imaging.Preprocess(src)

	out, err := p.network.Infer(ctx, tensor)
	if err != nil {
		return nil, fail(span, errors.WithMessage(err, p.task.Name))
	}

	mask, label, err := Postprocess(out, p.task.Labels)
	if err != nil {
		return nil, fail(span, err)
	}

	span.SetAttributes(attribute.String("label", label))
	return &Prediction{Image: resized, Mask: mask, Label: label}, nil
}

// Run predicts the image at path and renders the overlay.
func (p *Pipeline) Run(ctx context.Context, path string) (*Result, error) {
	start := time.Now()

	ctx, span := p.tracer.Start(ctx, "pipeline.Run",
		trace.WithAttributes(attribute.String("task", p.task.Name)))
	defer span.End()

	prediction, err := p.Predict(ctx, path)
	if err != nil {
		return nil, fail(span, err)
	}

	img, err := p.renderer.Render(prediction.Image, prediction.Mask, Title(prediction.Label))
	if err != nil {
		return nil, fail(span, errors.Wrap(err, "render overlay"))
	}

	p.logger.Debug("pipeline done",
		zap.String("label", prediction.Label),
		zap.Int("mask_pixels", prediction.Mask.Count()),
		zap.Int("png_bytes", len(img)),
		zap.Duration("elapsed", time.Since(start)))

	return &Result{PNG: img, Label: prediction.Label}, nil
}

// Title is the caption drawn above the overlay.
func Title(label string) string {
	return fmt.Sprintf("Predicted: %s", label)
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
