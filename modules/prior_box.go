package modules

import (
	"github.com/okieraised/go-ssd-pipeline/config"
	"github.com/okieraised/go-ssd-pipeline/processing"
	"gorgonia.org/tensor"
)

// PriorBoxClient generates the priors of one stage. It holds validated
// configuration only, every Generate call recomputes the same tensor.
type PriorBoxClient struct {
	ModelParams *config.PriorBoxParams
	imageSize   [2]int
	flip        bool
	clip        bool
	numPriors   int
}

func NewPriorBoxClient(cfg *config.PriorBoxParams, imageSize [2]int, flip, clip bool) (*PriorBoxClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if imageSize[0] <= 0 || imageSize[1] <= 0 {
		return nil, config.NewConfigurationError("image_size", "must be positive, got %v", imageSize)
	}

	client := &PriorBoxClient{}
	client.ModelParams = cfg
	client.imageSize = imageSize
	client.flip = flip
	client.clip = clip
	client.numPriors = processing.NumPriorsPerCell(cfg, flip)

	return client, nil
}

func (c *PriorBoxClient) NumPriorsPerCell() int {
	return c.numPriors
}

func (c *PriorBoxClient) BoxCount() int {
	return c.numPriors * c.ModelParams.Width * c.ModelParams.Height
}

// Generate returns the (BoxCount, 8) prior tensor of the stage.
func (c *PriorBoxClient) Generate() (*tensor.Dense, error) {
	return processing.GeneratePriorBoxes(c.ModelParams, c.imageSize, c.flip, c.clip)
}
