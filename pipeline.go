package go_ssd_pipeline

import (
	"github.com/okieraised/go-ssd-pipeline/config"
	"github.com/okieraised/go-ssd-pipeline/modules"
	"github.com/okieraised/go-ssd-pipeline/processing"
	"golang.org/x/sync/errgroup"
	"gorgonia.org/tensor"
)

type SSDPipeline struct {
	Params       *config.SSDParams
	priorClients []*modules.PriorBoxClient
	headClients  []*modules.PredictionHeadClient
	assembler    *modules.MultiScaleAssembler
	builder      *modules.DetectionTensorBuilder
	priors       []*tensor.Dense
}

// NewSSDPipeline validates params and generates the priors of every stage.
// Stages are generated concurrently, each into its own slot, so the stage order
// of params is kept.
func NewSSDPipeline(params *config.SSDParams) (*SSDPipeline, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	client := &SSDPipeline{}
	client.Params = params.Clone()

	numStages := len(client.Params.Stages)
	client.priorClients = make([]*modules.PriorBoxClient, numStages)
	client.headClients = make([]*modules.PredictionHeadClient, numStages)

	for idx := range client.Params.Stages {
		stage := &client.Params.Stages[idx]

		priorClient, err := modules.NewPriorBoxClient(stage, client.Params.ImageSize, client.Params.Flip, client.Params.Clip)
		if err != nil {
			return nil, err
		}
		client.priorClients[idx] = priorClient

		headClient, err := modules.NewPredictionHeadClient(stage, client.Params.NumClasses, client.Params.Flip, client.Params.Layout)
		if err != nil {
			return nil, err
		}
		client.headClients[idx] = headClient
	}

	assembler, err := modules.NewMultiScaleAssembler(client.Params.NumClasses)
	if err != nil {
		return nil, err
	}
	client.assembler = assembler

	builder, err := modules.NewDetectionTensorBuilder(client.Params.NumClasses)
	if err != nil {
		return nil, err
	}
	client.builder = builder

	client.priors = make([]*tensor.Dense, numStages)
	var g errgroup.Group
	for idx, priorClient := range client.priorClients {
		g.Go(func() error {
			priors, err := priorClient.Generate()
			if err != nil {
				return err
			}
			client.priors[idx] = priors
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		return nil, err
	}

	return client, nil
}

// Priors returns copies of the per-stage prior tensors in stage order.
func (c *SSDPipeline) Priors() []*tensor.Dense {
	priors := make([]*tensor.Dense, len(c.priors))
	for i, p := range c.priors {
		priors[i] = p.Clone().(*tensor.Dense)
	}
	return priors
}

func (c *SSDPipeline) BoxCounts() []int {
	counts := make([]int, len(c.priorClients))
	for i, p := range c.priorClients {
		counts[i] = p.BoxCount()
	}
	return counts
}

func (c *SSDPipeline) TotalBoxes() int {
	total := 0
	for _, n := range c.BoxCounts() {
		total += n
	}
	return total
}

// Assemble pairs one head output per stage, given in stage order, with the stage
// priors and builds the detection tensor. A head naming a stage must name the
// stage at its position.
func (c *SSDPipeline) Assemble(heads []modules.HeadOutput) (*modules.AssembledTensor, error) {
	if len(heads) != len(c.headClients) {
		return nil, config.NewConfigurationError("stages", "expected %d head outputs, got %d", len(c.headClients), len(heads))
	}

	stages := make([]modules.StageOutput, len(heads))
	for idx, head := range heads {
		name := c.Params.Stages[idx].Name
		if head.Stage != "" && head.Stage != name {
			return nil, config.NewConfigurationError("stages", "head output %d belongs to stage %q, expected %q", idx, head.Stage, name)
		}
		out, err := c.headClients[idx].Infer(c.priors[idx], head)
		if err != nil {
			return nil, err
		}
		stages[idx] = *out
	}

	priors, locations, confidences, err := c.assembler.Assemble(stages)
	if err != nil {
		return nil, err
	}
	return c.builder.Build(priors, locations, confidences)
}

// Detect assembles the head outputs and decodes them into final detections.
func (c *SSDPipeline) Detect(heads []modules.HeadOutput, params *config.DetectionOutputParams) ([]modules.Detection, error) {
	assembled, err := c.Assemble(heads)
	if err != nil {
		return nil, err
	}

	detectionOutput, err := modules.NewDetectionOutputClient(params)
	if err != nil {
		return nil, err
	}
	return detectionOutput.Infer(assembled)
}

// NormalizeFeatures applies the channel-wise L2 normalization of params to the
// backbone feature map of the stage it names. The map must match the stage grid.
func (c *SSDPipeline) NormalizeFeatures(fm *tensor.Dense, params *config.L2NormParams) (*tensor.Dense, error) {
	for _, stage := range c.Params.Stages {
		if stage.Name != params.Stage {
			continue
		}

		dims := []int(fm.Shape())
		if len(dims) == 4 {
			dims = dims[1:]
		}
		if len(dims) == 3 {
			h, w := dims[0], dims[1]
			if c.Params.Layout == config.DataLayoutNCHW {
				h, w = dims[1], dims[2]
			}
			if h != stage.Height || w != stage.Width {
				return nil, config.NewShapeMismatchError(stage.Name, "feature map", []int{stage.Height, stage.Width}, []int{h, w})
			}
		}
		return processing.L2Normalize(fm, []float32{params.Scale}, c.Params.Layout)
	}
	return nil, config.NewConfigurationError("stage", "unknown stage %q", params.Stage)
}
