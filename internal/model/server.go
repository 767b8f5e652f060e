package model

import (
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/Brownie44l1/damage-api/internal/preprocess"
)

type Options struct {
	ModelPath    string
	MetadataPath string
	// LibraryPath points at the onnxruntime shared library. Empty uses the
	// runtime's default lookup.
	LibraryPath string
	Logger      *zap.SugaredLogger
}

// Server owns one ONNX session bound to fixed input and output tensors, so
// Predict calls are serialized.
type Server struct {
	Metadata

	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	log          *zap.SugaredLogger
}

var _ Model = (*Server)(nil)

func NewServer(opts Options) (*Server, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	metadata, err := LoadMetadata(opts.MetadataPath)
	if err != nil {
		return nil, err
	}

	if opts.LibraryPath != "" {
		ort.SetSharedLibraryPath(opts.LibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}

	if err := resolveGraphInfo(opts.ModelPath, &metadata); err != nil {
		ort.DestroyEnvironment()
		return nil, err
	}

	inputShape, err := concreteShape(metadata.InputShape)
	if err != nil {
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("invalid input shape %v: %w", metadata.InputShape, err)
	}
	if want := int64(preprocess.ImageSize * preprocess.ImageSize * preprocess.Channels); inputShape.FlattenedSize() != want {
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("model input %v does not take a single %dx%d RGB image", inputShape, preprocess.ImageSize, preprocess.ImageSize)
	}
	outputShape, err := concreteShape(metadata.OutputShape)
	if err != nil {
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("invalid output shape %v: %w", metadata.OutputShape, err)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(opts.ModelPath,
		[]string{metadata.InputName}, []string{metadata.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	log.Infow("model loaded",
		"path", opts.ModelPath,
		"input", metadata.InputName, "input_shape", []int64(inputShape),
		"output", metadata.OutputName, "output_shape", []int64(outputShape),
		"parameters", metadata.CountParams())

	return &Server{
		Metadata:     metadata,
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		log:          log,
	}, nil
}

// resolveGraphInfo fills tensor names and shapes the sidecar left out from
// the graph itself.
func resolveGraphInfo(modelPath string, metadata *Metadata) error {
	if metadata.InputName != "" && metadata.OutputName != "" &&
		len(metadata.InputShape) > 0 && len(metadata.OutputShape) > 0 {
		return nil
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return fmt.Errorf("failed to inspect model graph: %w", err)
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return fmt.Errorf("expected one input and one output, got %d and %d", len(inputs), len(outputs))
	}
	if metadata.InputName == "" {
		metadata.InputName = inputs[0].Name
	}
	if metadata.OutputName == "" {
		metadata.OutputName = outputs[0].Name
	}
	if len(metadata.InputShape) == 0 {
		metadata.InputShape = []int64(inputs[0].Dimensions)
	}
	if len(metadata.OutputShape) == 0 {
		metadata.OutputShape = []int64(outputs[0].Dimensions)
	}
	return nil
}

// concreteShape pins a dynamic batch axis to 1.
func concreteShape(dims []int64) (ort.Shape, error) {
	if len(dims) == 0 {
		return nil, errors.New("empty shape")
	}
	shape := ort.NewShape(append([]int64(nil), dims...)...)
	if shape[0] <= 0 {
		shape[0] = 1
	}
	if shape[0] != 1 {
		return nil, fmt.Errorf("batch size %d, want 1", shape[0])
	}
	for i, d := range shape[1:] {
		if d <= 0 {
			return nil, fmt.Errorf("dimension %d is not fixed", i+1)
		}
	}
	return shape, nil
}

func (s *Server) Predict(input *preprocess.Tensor) (float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dst := s.inputTensor.GetData()
	if len(input.Data) != len(dst) {
		return 0, &PredictionError{Err: fmt.Errorf("input has %d values, model expects %d", len(input.Data), len(dst))}
	}
	copy(dst, input.Data)

	if err := s.session.Run(); err != nil {
		return 0, &PredictionError{Err: err}
	}

	outputData := s.outputTensor.GetData()
	if len(outputData) == 0 {
		return 0, &PredictionError{Err: errors.New("empty model output")}
	}
	s.log.Debugw("inference complete", "probability", outputData[0])
	return outputData[0], nil
}

func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inputTensor != nil {
		s.inputTensor.Destroy()
	}
	if s.outputTensor != nil {
		s.outputTensor.Destroy()
	}
	if s.session != nil {
		s.session.Destroy()
	}
	ort.DestroyEnvironment()
}
