package modules

import (
	"github.com/okieraised/go-ssd-pipeline/config"
	"github.com/okieraised/go-ssd-pipeline/processing"
	"github.com/okieraised/go-ssd-pipeline/utils"
	"gorgonia.org/tensor"
)

// MultiScaleAssembler concatenates stage outputs into single prior, location and
// confidence tensors. Rows keep the order in which stages are given, so box i of
// the result is found by walking the stages in that order.
type MultiScaleAssembler struct {
	numClasses int
}

func NewMultiScaleAssembler(numClasses int) (*MultiScaleAssembler, error) {
	if numClasses <= 0 {
		return nil, config.NewConfigurationError("num_classes", "must be positive, got %d", numClasses)
	}
	return &MultiScaleAssembler{numClasses: numClasses}, nil
}

// Assemble concatenates stages along the box axis. Each stage must carry the same
// number of prior, location and confidence rows.
func (a *MultiScaleAssembler) Assemble(stages []StageOutput) (priors, locations, confidences *tensor.Dense, err error) {
	if len(stages) == 0 {
		return nil, nil, nil, config.NewConfigurationError("stages", "at least one stage is required")
	}

	priorList := make([]*tensor.Dense, 0, len(stages))
	locList := make([]*tensor.Dense, 0, len(stages))
	confList := make([]*tensor.Dense, 0, len(stages))

	for _, s := range stages {
		if s.Priors == nil || s.Locations == nil || s.Confidences == nil {
			return nil, nil, nil, config.NewConfigurationError(s.Name, "stage output is incomplete")
		}
		if len(s.Priors.Shape()) != 2 || s.Priors.Shape()[1] != processing.PriorBoxWidth {
			return nil, nil, nil, config.NewShapeMismatchError(s.Name, "priors", []int{-1, processing.PriorBoxWidth}, s.Priors.Shape())
		}

		n := s.Priors.Shape()[0]
		if !shapeEquals(s.Locations.Shape(), n, 4) {
			return nil, nil, nil, config.NewShapeMismatchError(s.Name, "locations", []int{n, 4}, s.Locations.Shape())
		}
		if !shapeEquals(s.Confidences.Shape(), n, a.numClasses) {
			return nil, nil, nil, config.NewShapeMismatchError(s.Name, "confidences", []int{n, a.numClasses}, s.Confidences.Shape())
		}

		priorList = append(priorList, s.Priors)
		locList = append(locList, s.Locations)
		confList = append(confList, s.Confidences)
	}

	if priors, err = utils.VStack(priorList); err != nil {
		return nil, nil, nil, err
	}
	if locations, err = utils.VStack(locList); err != nil {
		return nil, nil, nil, err
	}
	if confidences, err = utils.VStack(confList); err != nil {
		return nil, nil, nil, err
	}
	return priors, locations, confidences, nil
}

// SplitStages cuts assembled tensors back into per-stage outputs at the given box counts.
func SplitStages(priors, locations, confidences *tensor.Dense, names []string, boxCounts []int) ([]StageOutput, error) {
	if len(names) != len(boxCounts) {
		return nil, config.NewConfigurationError("stages", "got %d names for %d box counts", len(names), len(boxCounts))
	}

	total := 0
	for _, n := range boxCounts {
		total += n
	}
	if len(priors.Shape()) != 2 || priors.Shape()[0] != total {
		return nil, config.NewShapeMismatchError("", "priors", []int{total, processing.PriorBoxWidth}, priors.Shape())
	}
	if len(locations.Shape()) != 2 || locations.Shape()[0] != total {
		return nil, config.NewShapeMismatchError("", "locations", []int{total, 4}, locations.Shape())
	}
	if len(confidences.Shape()) != 2 || confidences.Shape()[0] != total {
		return nil, config.NewShapeMismatchError("", "confidences", []int{total, -1}, confidences.Shape())
	}

	priorBlocks, err := utils.SplitRows(priors, boxCounts)
	if err != nil {
		return nil, err
	}
	locBlocks, err := utils.SplitRows(locations, boxCounts)
	if err != nil {
		return nil, err
	}
	confBlocks, err := utils.SplitRows(confidences, boxCounts)
	if err != nil {
		return nil, err
	}

	stages := make([]StageOutput, len(names))
	for i, name := range names {
		stages[i] = StageOutput{
			Name:        name,
			Priors:      priorBlocks[i],
			Locations:   locBlocks[i],
			Confidences: confBlocks[i],
		}
	}
	return stages, nil
}
