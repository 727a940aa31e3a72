package classifier

import (
	"errors"
	"fmt"
	"math"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/marco-scarnato/greenhouse-dt-module/internal/imageprocessor"
	"github.com/marco-scarnato/greenhouse-dt-module/internal/plant"
)

var errClosed = errors.New("classifier closed")

// Classifier returns the probability that the plant in the tensor is sick.
type Classifier interface {
	Infer(tensor *imageprocessor.Tensor) (float32, error)
}

// Config locates the serialized model and names its graph endpoints.
type Config struct {
	ModelPath   string
	InputName   string
	OutputName  string
	LibraryPath string
}

// InferenceError reports a tensor the model refused or a runtime failure.
type InferenceError struct {
	Err error
}

// Error implements the error interface.
func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference: %v", e.Err)
}

// Unwrap exposes both the taxonomy sentinel and the runtime error.
func (e *InferenceError) Unwrap() []error {
	return []error{plant.ErrInference, e.Err}
}

// ONNXClassifier runs a binary classifier through ONNX Runtime. The session and its
// bound tensors are created once and reused for every call.
type ONNXClassifier struct {
	mu      sync.Mutex
	input   []float32
	output  []float32
	run     func() error
	release func()
	closed  bool
}

// Load initializes ONNX Runtime and binds a session to pre-allocated
// [1,256,256,3] input and [1,1] output tensors.
func Load(cfg Config) (*ONNXClassifier, error) {
	if cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.LibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	shape := imageprocessor.InputShape()
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(shape[:]...))
	if err != nil {
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		inputTensor.Destroy()
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{cfg.InputName}, []string{cfg.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create ONNX session for %s: %w", cfg.ModelPath, err)
	}

	release := func() {
		session.Destroy()
		inputTensor.Destroy()
		outputTensor.Destroy()
		ort.DestroyEnvironment()
	}
	return newONNXClassifier(inputTensor.GetData(), outputTensor.GetData(), session.Run, release), nil
}

func newONNXClassifier(input, output []float32, run func() error, release func()) *ONNXClassifier {
	return &ONNXClassifier{input: input, output: output, run: run, release: release}
}

// Infer copies the tensor into the bound input and runs the session.
func (c *ONNXClassifier) Infer(tensor *imageprocessor.Tensor) (float32, error) {
	if tensor == nil {
		return 0, &InferenceError{Err: errors.New("nil tensor")}
	}
	if tensor.Shape != imageprocessor.InputShape() || len(tensor.Data) != len(c.input) {
		return 0, &InferenceError{Err: fmt.Errorf("unexpected tensor shape %v with %d values", tensor.Shape, len(tensor.Data))}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, &InferenceError{Err: errClosed}
	}

	copy(c.input, tensor.Data)
	if err := c.run(); err != nil {
		return 0, &InferenceError{Err: err}
	}
	if len(c.output) == 0 {
		return 0, &InferenceError{Err: errors.New("empty model output")}
	}

	p := c.output[0]
	if math.IsNaN(float64(p)) || p < 0 || p > 1 {
		return 0, &InferenceError{Err: fmt.Errorf("probability %v outside [0,1]", p)}
	}
	return p, nil
}

// Close releases the session, its tensors and the runtime environment.
func (c *ONNXClassifier) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.release != nil {
		c.release()
	}
}
