package modules

import (
	"github.com/okieraised/go-ssd-pipeline/config"
	"github.com/okieraised/go-ssd-pipeline/processing"
	"github.com/okieraised/go-ssd-pipeline/utils"
	"gorgonia.org/tensor"
)

// HeadOutput carries the raw location and confidence tensors a prediction head
// produced for one stage.
type HeadOutput struct {
	Stage       string
	Locations   *tensor.Dense
	Confidences *tensor.Dense
}

// StageOutput is one stage ready for assembly: (n, 8) priors, (n, 4) locations
// and (n, num_classes) confidence logits.
type StageOutput struct {
	Name        string
	Priors      *tensor.Dense
	Locations   *tensor.Dense
	Confidences *tensor.Dense
}

// PredictionHeadClient checks the head tensors of one stage against the box
// count of its priors and flattens them into one row per box.
type PredictionHeadClient struct {
	ModelParams *config.PriorBoxParams
	numClasses  int
	numPriors   int
	layout      config.DataLayout
}

func NewPredictionHeadClient(cfg *config.PriorBoxParams, numClasses int, flip bool, layout config.DataLayout) (*PredictionHeadClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if numClasses <= 0 {
		return nil, config.NewConfigurationError("num_classes", "must be positive, got %d", numClasses)
	}
	if _, ok := config.DataLayoutMapper[layout]; !ok {
		return nil, config.NewConfigurationError("layout", "unknown data layout %d", int(layout))
	}

	client := &PredictionHeadClient{}
	client.ModelParams = cfg
	client.numClasses = numClasses
	client.numPriors = processing.NumPriorsPerCell(cfg, flip)
	client.layout = layout

	return client, nil
}

func (c *PredictionHeadClient) BoxCount() int {
	return c.numPriors * c.ModelParams.Width * c.ModelParams.Height
}

// Infer pairs the stage priors with its head output. Locations become (BoxCount, 4)
// and confidences (BoxCount, num_classes). Inputs are never modified.
func (c *PredictionHeadClient) Infer(priors *tensor.Dense, head HeadOutput) (*StageOutput, error) {
	boxCount := c.BoxCount()
	stage := c.ModelParams.Name

	if !shapeEquals(priors.Shape(), boxCount, processing.PriorBoxWidth) {
		return nil, config.NewShapeMismatchError(stage, "priors", []int{boxCount, processing.PriorBoxWidth}, priors.Shape())
	}
	if head.Locations == nil || head.Confidences == nil {
		return nil, config.NewConfigurationError(stage, "head output is missing locations or confidences")
	}

	locations, err := c.flatten(head.Locations, "locations", 4)
	if err != nil {
		return nil, err
	}
	confidences, err := c.flatten(head.Confidences, "confidences", c.numClasses)
	if err != nil {
		return nil, err
	}

	return &StageOutput{
		Name:        stage,
		Priors:      priors,
		Locations:   locations,
		Confidences: confidences,
	}, nil
}

// flatten accepts (BoxCount, k), a flat BoxCount*k vector, or the raw convolution
// output of the stage in the configured layout, optionally with a batch of one.
// Raw outputs are ordered row, column, prior before being split into rows.
func (c *PredictionHeadClient) flatten(t *tensor.Dense, name string, k int) (*tensor.Dense, error) {
	boxCount := c.BoxCount()
	stage := c.ModelParams.Name
	shape := []int(t.Shape())

	switch {
	case len(shape) == 4 && shape[0] == 1:
		shape = shape[1:]
	case len(shape) == 3 && shape[0] == 1 && shape[1] == boxCount && shape[2] == k:
		shape = shape[1:]
	case len(shape) == 2 && shape[0] == 1 && shape[1] == boxCount*k:
		shape = shape[1:]
	}

	switch len(shape) {
	case 1:
		if shape[0] != boxCount*k {
			return nil, config.NewShapeMismatchError(stage, name, []int{boxCount * k}, t.Shape())
		}
		return c.reshaped(t, boxCount, k)
	case 2:
		if shape[0] != boxCount || shape[1] != k {
			return nil, config.NewShapeMismatchError(stage, name, []int{boxCount, k}, t.Shape())
		}
		return c.reshaped(t, boxCount, k)
	case 3:
		return c.flattenFeatureMap(t, shape, name, k)
	}

	return nil, config.NewShapeMismatchError(stage, name, []int{boxCount, k}, t.Shape())
}

func (c *PredictionHeadClient) flattenFeatureMap(t *tensor.Dense, shape []int, name string, k int) (*tensor.Dense, error) {
	height, width := c.ModelParams.Height, c.ModelParams.Width
	depth := c.numPriors * k

	expected := []int{height, width, depth}
	if c.layout == config.DataLayoutNCHW {
		expected = []int{depth, height, width}
	}
	for i := range expected {
		if shape[i] != expected[i] {
			return nil, config.NewShapeMismatchError(c.ModelParams.Name, name, expected, t.Shape())
		}
	}

	fm, err := utils.Owned(t)
	if err != nil {
		return nil, err
	}
	if err = fm.Reshape(expected...); err != nil {
		return nil, err
	}
	if c.layout == config.DataLayoutNCHW {
		if err = fm.T(1, 2, 0); err != nil {
			return nil, err
		}
	}
	return c.reshaped(fm, c.BoxCount(), k)
}

// reshaped returns an owned (rows, cols) copy of t.
func (c *PredictionHeadClient) reshaped(t *tensor.Dense, rows, cols int) (*tensor.Dense, error) {
	out, err := utils.Owned(t)
	if err != nil {
		return nil, err
	}
	if err = out.Reshape(rows, cols); err != nil {
		return nil, err
	}
	return out, nil
}

func shapeEquals(shape tensor.Shape, dims ...int) bool {
	if len(shape) != len(dims) {
		return false
	}
	for i := range dims {
		if shape[i] != dims[i] {
			return false
		}
	}
	return true
}
