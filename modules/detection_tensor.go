package modules

import (
	"github.com/okieraised/go-ssd-pipeline/config"
	"github.com/okieraised/go-ssd-pipeline/processing"
	"github.com/okieraised/go-ssd-pipeline/utils"
	"gorgonia.org/tensor"
)

// AssembledTensor is the detector output over all N boxes: (N, 8) priors,
// (N, 4) location offsets and (N, num_classes) class probabilities.
type AssembledTensor struct {
	Priors      *tensor.Dense `json:"priors"`
	Locations   *tensor.Dense `json:"locations"`
	Confidences *tensor.Dense `json:"confidences"`
}

func (a *AssembledTensor) NumBoxes() int {
	return a.Priors.Shape()[0]
}

func (a *AssembledTensor) NumClasses() int {
	return a.Confidences.Shape()[1]
}

// Merged returns the N x (4 + num_classes + 8) tensor with columns locations,
// confidences and priors, in that order.
func (a *AssembledTensor) Merged() (*tensor.Dense, error) {
	return utils.HStack([]*tensor.Dense{a.Locations, a.Confidences, a.Priors})
}

// DetectionTensorBuilder shapes assembled locations and confidence logits into an
// AssembledTensor. It does not decode, threshold or suppress boxes.
type DetectionTensorBuilder struct {
	numClasses int
}

func NewDetectionTensorBuilder(numClasses int) (*DetectionTensorBuilder, error) {
	if numClasses <= 0 {
		return nil, config.NewConfigurationError("num_classes", "must be positive, got %d", numClasses)
	}
	return &DetectionTensorBuilder{numClasses: numClasses}, nil
}

// Build accepts locations as (N, 4) or flat, and confidences of N*num_classes values
// in any shape. The confidences are softmaxed per row.
func (b *DetectionTensorBuilder) Build(priors, locations, confidences *tensor.Dense) (*AssembledTensor, error) {
	pShape := priors.Shape()
	if len(pShape) != 2 || pShape[1] != processing.PriorBoxWidth {
		return nil, config.NewShapeMismatchError("", "priors", []int{-1, processing.PriorBoxWidth}, pShape)
	}
	n := pShape[0]

	if locations.Shape().TotalSize() != n*4 || !(locations.Dims() == 1 || shapeEquals(locations.Shape(), n, 4)) {
		return nil, config.NewShapeMismatchError("", "locations", []int{n, 4}, locations.Shape())
	}
	if confidences.Shape().TotalSize() != n*b.numClasses {
		return nil, config.NewShapeMismatchError("", "confidences", []int{n, b.numClasses}, confidences.Shape())
	}

	loc, err := utils.Owned(locations)
	if err != nil {
		return nil, err
	}
	if err = loc.Reshape(n, 4); err != nil {
		return nil, err
	}

	logits, err := utils.Owned(confidences)
	if err != nil {
		return nil, err
	}
	if err = logits.Reshape(n, b.numClasses); err != nil {
		return nil, err
	}
	probs, err := processing.SoftmaxRows(logits)
	if err != nil {
		return nil, err
	}

	return &AssembledTensor{
		Priors:      priors,
		Locations:   loc,
		Confidences: probs,
	}, nil
}
