package model

import (
	"context"
	"os"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/Brownie44l1/tumor-api/internal/config"
)

// Runtime owns the process-wide ONNX Runtime environment and the compute
// device chosen at startup.
type Runtime struct {
	device string
	logger *zap.Logger
}

// NewRuntime initializes the ONNX environment and resolves the device.
// With config.DeviceAuto, CUDA is used when the runtime supports it and CPU
// otherwise.
func NewRuntime(cfg config.ONNXConfig, logger *zap.Logger) (*Runtime, error) {
	logger = logger.Named("onnx")

	if cfg.SharedLibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.SharedLibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, errors.Wrapf(ErrModelLoad, "initialize ONNX environment: %v", err)
	}

	r := &Runtime{device: config.DeviceCPU, logger: logger}

	switch cfg.Device {
	case config.DeviceCUDA:
		if err := probeCUDA(); err != nil {
			_ = ort.DestroyEnvironment()
			return nil, errors.Wrapf(ErrModelLoad, "cuda requested: %v", err)
		}
		r.device = config.DeviceCUDA
	case config.DeviceAuto:
		if err := probeCUDA(); err != nil {
			logger.Info("cuda unavailable, falling back to cpu", zap.Error(err))
		} else {
			r.device = config.DeviceCUDA
		}
	}

	logger.Info("onnx runtime ready", zap.String("device", r.device))
	return r, nil
}

// Device reports the compute device sessions run on.
func (r *Runtime) Device() string {
	return r.device
}

// Load opens the weight file of task, checks it against the fixed topology
// and returns a network ready for inference.
func (r *Runtime) Load(task Task) (*ONNXNetwork, error) {
	if _, err := os.Stat(task.WeightsPath); err != nil {
		return nil, errors.Wrapf(ErrModelLoad, "%s: %v", task.Name, err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(task.WeightsPath)
	if err != nil {
		return nil, errors.Wrapf(ErrModelLoad, "%s: read graph info: %v", task.Name, err)
	}

	names, err := checkTopology(toPorts(inputs), toPorts(outputs), task.NumClasses())
	if err != nil {
		return nil, errors.Wrapf(ErrModelLoad, "%s: %v", task.Name, err)
	}

	options, err := r.sessionOptions()
	if err != nil {
		return nil, errors.Wrapf(ErrModelLoad, "%s: session options: %v", task.Name, err)
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(task.WeightsPath,
		[]string{names.input}, []string{names.segmentation, names.classification},
		options)
	if err != nil {
		return nil, errors.Wrapf(ErrModelLoad, "%s: create session: %v", task.Name, err)
	}

	r.logger.Info("model loaded",
		zap.String("task", task.Name),
		zap.String("weights", task.WeightsPath),
		zap.Strings("labels", task.Labels),
		zap.String("device", r.device))

	return &ONNXNetwork{session: session, numClasses: task.NumClasses()}, nil
}

// Close destroys the ONNX environment. Networks must be closed first.
func (r *Runtime) Close() {
	if err := ort.DestroyEnvironment(); err != nil {
		r.logger.Warn("destroy onnx environment", zap.Error(err))
	}
}

func (r *Runtime) sessionOptions() (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	if r.device != config.DeviceCUDA {
		return options, nil
	}
	if err := appendCUDA(options); err != nil {
		options.Destroy()
		return nil, err
	}
	return options, nil
}

func probeCUDA() error {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return err
	}
	defer options.Destroy()
	return appendCUDA(options)
}

func appendCUDA(options *ort.SessionOptions) error {
	cudaOptions, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return err
	}
	defer cudaOptions.Destroy()
	return options.AppendExecutionProviderCUDA(cudaOptions)
}

// ONNXNetwork runs the model through an ONNX Runtime session. Every call
// allocates its own tensors, so concurrent Infer calls share only the
// read-only session.
type ONNXNetwork struct {
	session    *ort.DynamicAdvancedSession
	numClasses int
}

// Infer runs a single forward pass on a (1,1,ImageSize,ImageSize) tensor.
func (n *ONNXNetwork) Infer(ctx context.Context, input *Tensor) (*InferenceResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkInput(input); err != nil {
		return nil, errors.Wrap(ErrInference, err.Error())
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(input.Shape...), input.Data)
	if err != nil {
		return nil, errors.Wrapf(ErrInference, "create input tensor: %v", err)
	}
	defer inputTensor.Destroy()

	segTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1, ImageSize, ImageSize))
	if err != nil {
		return nil, errors.Wrapf(ErrInference, "create segmentation tensor: %v", err)
	}
	defer segTensor.Destroy()

	classTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(n.numClasses)))
	if err != nil {
		return nil, errors.Wrapf(ErrInference, "create classification tensor: %v", err)
	}
	defer classTensor.Destroy()

	if err := n.session.Run(
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{segTensor, classTensor},
	); err != nil {
		return nil, errors.Wrapf(ErrInference, "run session: %v", err)
	}

	// Tensor memory is released on return.
	return &InferenceResult{
		Segmentation: append([]float32(nil), segTensor.GetData()...),
		Height:       ImageSize,
		Width:        ImageSize,
		ClassLogits:  append([]float32(nil), classTensor.GetData()...),
	}, nil
}

// Close destroys the session.
func (n *ONNXNetwork) Close() error {
	if n.session == nil {
		return nil
	}
	return n.session.Destroy()
}

func toPorts(infos []ort.InputOutputInfo) []port {
	ports := make([]port, 0, len(infos))
	for _, info := range infos {
		ports = append(ports, port{
			name:   info.Name,
			dims:   []int64(info.Dimensions),
			tensor: info.OrtValueType == ort.ONNXTypeTensor,
			float:  info.DataType == ort.TensorElementDataTypeFloat,
		})
	}
	return ports
}
