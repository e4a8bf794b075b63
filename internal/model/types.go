package model

import (
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-json"
)

// DefaultClasses is the hazard class map: the index is the class id.
var DefaultClasses = []string{
	"electrical hazard detected",
	"no hazard",
	"waterlogging hazard detected",
}

// ImageNet statistics the MobileNetV2 backbone was trained with.
var (
	DefaultMean = [3]float32{0.485, 0.456, 0.406}
	DefaultStd  = [3]float32{0.229, 0.224, 0.225}
)

const DefaultImageSize = 224

// Metadata describes the exported network. It is read from a JSON side-car
// next to the .onnx file; absent fields take the defaults above.
type Metadata struct {
	InputShape  []int64    `json:"input_shape"`
	OutputShape []int64    `json:"output_shape"`
	Classes     []string   `json:"classes"`
	ImageSize   int        `json:"image_size"`
	Mean        [3]float32 `json:"mean"`
	Std         [3]float32 `json:"std"`
	InputName   string     `json:"input_name"`
	OutputName  string     `json:"output_name"`

	// OutputsProbabilities is set for exports that end in a softmax layer;
	// their output is used as-is instead of being normalized again.
	OutputsProbabilities bool `json:"outputs_probabilities"`
}

// DefaultMetadata matches the hazard MobileNetV2 export.
func DefaultMetadata() Metadata {
	return Metadata{
		InputShape:  []int64{1, 3, DefaultImageSize, DefaultImageSize},
		OutputShape: []int64{1, int64(len(DefaultClasses))},
		Classes:     append([]string(nil), DefaultClasses...),
		ImageSize:   DefaultImageSize,
		Mean:        DefaultMean,
		Std:         DefaultStd,
		InputName:   "input",
		OutputName:  "output",
	}
}

// LoadMetadata reads path and fills gaps from DefaultMetadata. An empty path
// or a missing file yields the defaults.
func LoadMetadata(path string) (Metadata, error) {
	meta := DefaultMetadata()
	if path == "" {
		return meta, nil
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return meta, nil
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var file Metadata
	if err := json.Unmarshal(raw, &file); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}

	if len(file.Classes) > 0 {
		meta.Classes = file.Classes
		meta.OutputShape = []int64{1, int64(len(file.Classes))}
	}
	if file.ImageSize > 0 {
		meta.ImageSize = file.ImageSize
		meta.InputShape = []int64{1, 3, int64(file.ImageSize), int64(file.ImageSize)}
	}
	if len(file.InputShape) > 0 {
		meta.InputShape = file.InputShape
	}
	if len(file.OutputShape) > 0 {
		meta.OutputShape = file.OutputShape
	}
	if file.Mean != ([3]float32{}) {
		meta.Mean = file.Mean
	}
	if file.Std != ([3]float32{}) {
		meta.Std = file.Std
	}
	meta.OutputsProbabilities = file.OutputsProbabilities
	if file.InputName != "" {
		meta.InputName = file.InputName
	}
	if file.OutputName != "" {
		meta.OutputName = file.OutputName
	}

	return meta, meta.Validate()
}

// Validate checks the shapes agree with the image size and class count.
func (m Metadata) Validate() error {
	if len(m.Classes) == 0 {
		return errors.New("metadata has no classes")
	}
	if m.InputSize() != 3*m.ImageSize*m.ImageSize {
		return fmt.Errorf("input shape %v does not hold a 3x%dx%d image", m.InputShape, m.ImageSize, m.ImageSize)
	}
	if m.OutputSize() != len(m.Classes) {
		return fmt.Errorf("output shape %v does not match %d classes", m.OutputShape, len(m.Classes))
	}
	for c, s := range m.Std {
		if s == 0 {
			return fmt.Errorf("std for channel %d is zero", c)
		}
	}
	return nil
}

// InputSize is the number of float32 values one forward pass consumes.
func (m Metadata) InputSize() int { return shapeSize(m.InputShape) }

// OutputSize is the number of values one forward pass produces.
func (m Metadata) OutputSize() int { return shapeSize(m.OutputShape) }

func shapeSize(shape []int64) int {
	if len(shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range shape {
		n *= int(d)
	}
	return n
}

// Label returns the class name for id, or "" when out of range.
func (m Metadata) Label(id int) string {
	if id < 0 || id >= len(m.Classes) {
		return ""
	}
	return m.Classes[id]
}

// Prediction is the result of one classification.
type Prediction struct {
	ID         int     `json:"id"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`

	// Probabilities is the full softmax output, indexed by class id.
	Probabilities []float32 `json:"-"`
}

// PredictionRequest is a preprocessed CHW tensor sent as JSON.
type PredictionRequest struct {
	Image []float32 `json:"image"`
}

// DetailedPrediction adds the per-class probabilities.
type DetailedPrediction struct {
	Prediction
	Predictions map[string]float32 `json:"predictions"`
}

// Detailed keys the probabilities by label.
func (p *Prediction) Detailed(meta Metadata) *DetailedPrediction {
	byLabel := make(map[string]float32, len(p.Probabilities))
	for i, v := range p.Probabilities {
		if label := meta.Label(i); label != "" {
			byLabel[label] = v
		}
	}
	return &DetailedPrediction{Prediction: *p, Predictions: byLabel}
}
