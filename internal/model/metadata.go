package model

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

func LoadMetadata(path string) (Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var metadata Metadata
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	for _, w := range metadata.TrainableWeights {
		for _, d := range w.Shape {
			if d < 0 {
				return Metadata{}, fmt.Errorf("trainable weight %q has undefined dimension", w.Name)
			}
		}
	}
	return metadata, nil
}

func (m Metadata) IOShapes() ([]int64, []int64) {
	return m.InputShape, m.OutputShape
}

// CountParams prefers the exported total and falls back to summing weights,
// then layers.
func (m Metadata) CountParams() int64 {
	if m.TotalParameters > 0 {
		return m.TotalParameters
	}
	var total int64
	for _, w := range m.TrainableWeights {
		total += elements(w.Shape)
	}
	for _, w := range m.NonTrainableWeights {
		total += elements(w.Shape)
	}
	if total > 0 {
		return total
	}
	for _, l := range m.Layers {
		total += l.Parameters
	}
	return total
}

func (m Metadata) TrainableShapes() [][]int64 {
	shapes := make([][]int64, 0, len(m.TrainableWeights))
	for _, w := range m.TrainableWeights {
		shapes = append(shapes, w.Shape)
	}
	return shapes
}

const (
	layerCol = 29
	shapeCol = 26
	ruleLen  = 65
)

// SummaryLines renders the layer table one line at a time.
func (m Metadata) SummaryLines() []string {
	lines := []string{
		strings.Repeat("_", ruleLen),
		pad(" Layer (type)", layerCol) + pad("Output Shape", shapeCol) + "Param #",
		strings.Repeat("=", ruleLen),
	}
	for i, l := range m.Layers {
		lines = append(lines, pad(fmt.Sprintf(" %s (%s)", l.Name, l.Type), layerCol)+
			pad(formatShape(l.OutputShape), shapeCol)+
			strconv.FormatInt(l.Parameters, 10))
		if i < len(m.Layers)-1 {
			lines = append(lines, "")
		}
	}

	total := m.CountParams()
	trainable := SumElements(m.TrainableShapes())
	lines = append(lines,
		strings.Repeat("=", ruleLen),
		fmt.Sprintf("Total params: %d", total),
		fmt.Sprintf("Trainable params: %d", trainable),
		fmt.Sprintf("Non-trainable params: %d", total-trainable),
		strings.Repeat("_", ruleLen),
	)
	return lines
}

// SumElements counts the scalars held by tensors of the given shapes.
func SumElements(shapes [][]int64) int64 {
	var sum int64
	for _, s := range shapes {
		sum += elements(s)
	}
	return sum
}

func elements(shape []int64) int64 {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}

func formatShape(shape []int64) string {
	dims := make([]string, len(shape))
	for i, d := range shape {
		if d <= 0 {
			dims[i] = "None"
			continue
		}
		dims[i] = strconv.FormatInt(d, 10)
	}
	if len(dims) == 1 {
		return "(" + dims[0] + ",)"
	}
	return "(" + strings.Join(dims, ", ") + ")"
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s + " "
	}
	return s + strings.Repeat(" ", width-len(s))
}
