package model

import (
	"errors"
	"fmt"
)

// Metadata is the sidecar exported next to the ONNX graph. It carries the
// introspection ONNX Runtime cannot provide on its own.
type Metadata struct {
	InputName           string   `json:"input_name"`
	OutputName          string   `json:"output_name"`
	InputShape          []int64  `json:"input_shape"`
	OutputShape         []int64  `json:"output_shape"`
	TotalParameters     int64    `json:"total_parameters"`
	TrainableWeights    []Weight `json:"trainable_weights"`
	NonTrainableWeights []Weight `json:"non_trainable_weights"`
	Layers              []Layer  `json:"layers"`
}

type Weight struct {
	Name  string  `json:"name"`
	Shape []int64 `json:"shape"`
}

type Layer struct {
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	OutputShape []int64 `json:"output_shape"`
	Parameters  int64   `json:"parameters"`
}

// Summary is the body of GET /summary.
type Summary struct {
	ModelName              string  `json:"model_name"`
	Architecture           string  `json:"architecture"`
	InputShape             []int64 `json:"input_shape"`
	OutputShape            []int64 `json:"output_shape"`
	TotalParameters        int64   `json:"total_parameters"`
	TrainableParameters    int64   `json:"trainable_parameters"`
	NonTrainableParameters int64   `json:"non_trainable_parameters"`
	Summary                string  `json:"summary"`
}

var ErrModelUnavailable = errors.New("model not loaded")

type PredictionError struct {
	Err error
}

func (e *PredictionError) Error() string {
	return fmt.Sprintf("inference failed: %v", e.Err)
}

func (e *PredictionError) Unwrap() error {
	return e.Err
}
