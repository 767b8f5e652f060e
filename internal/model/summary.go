package model

import (
	"strings"

	"github.com/Brownie44l1/damage-api/internal/preprocess"
)

// Introspector is the static view of a loaded classifier.
type Introspector interface {
	// IOShapes returns the input and output shapes including the batch axis.
	IOShapes() (input, output []int64)
	CountParams() int64
	TrainableShapes() [][]int64
	SummaryLines() []string
}

// Model is the process-wide classifier. Predict returns the damage
// probability of the single image in the batch.
type Model interface {
	Introspector
	Predict(input *preprocess.Tensor) (float32, error)
}

// Describe builds a fresh summary on every call.
func Describe(m Introspector, name, architecture string) (Summary, error) {
	if m == nil {
		return Summary{}, ErrModelUnavailable
	}

	total := m.CountParams()
	trainable := SumElements(m.TrainableShapes())
	in, out := m.IOShapes()

	return Summary{
		ModelName:              name,
		Architecture:           architecture,
		InputShape:             stripBatch(in),
		OutputShape:            stripBatch(out),
		TotalParameters:        total,
		TrainableParameters:    trainable,
		NonTrainableParameters: total - trainable,
		Summary:                strings.Join(m.SummaryLines(), "\n"),
	}, nil
}

func stripBatch(shape []int64) []int64 {
	if len(shape) == 0 {
		return nil
	}
	out := make([]int64, len(shape)-1)
	copy(out, shape[1:])
	return out
}
