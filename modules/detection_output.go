package modules

import (
	"sort"

	"github.com/okieraised/go-ssd-pipeline/config"
	"github.com/okieraised/go-ssd-pipeline/processing"
	"github.com/okieraised/go-ssd-pipeline/utils"
	"gorgonia.org/tensor"
	"gorgonia.org/tensor/native"
)

type Detection struct {
	Class int        `json:"class"`
	Score float32    `json:"score"`
	Box   [4]float32 `json:"box"`
}

// DetectionOutputClient turns an AssembledTensor into final detections: boxes are
// decoded against their priors, then every non-background class is thresholded
// and suppressed on its own before the overall top-k is kept.
type DetectionOutputClient struct {
	ModelParams *config.DetectionOutputParams
}

func NewDetectionOutputClient(cfg *config.DetectionOutputParams) (*DetectionOutputClient, error) {
	if cfg.NMSThreshold < 0 || cfg.NMSThreshold > 1 {
		return nil, config.NewConfigurationError("nms_threshold", "must be within [0, 1], got %v", cfg.NMSThreshold)
	}
	if cfg.TopK < 0 {
		return nil, config.NewConfigurationError("top_k", "must not be negative, got %d", cfg.TopK)
	}
	return &DetectionOutputClient{ModelParams: cfg}, nil
}

func (c *DetectionOutputClient) Infer(assembled *AssembledTensor) ([]Detection, error) {
	boxes, err := processing.DecodeBoxes(assembled.Priors, assembled.Locations)
	if err != nil {
		return nil, err
	}

	numBoxes := assembled.NumBoxes()
	if numBoxes == 0 {
		return []Detection{}, nil
	}

	boxRows, err := native.MatrixF32(boxes)
	if err != nil {
		return nil, err
	}
	confRows, err := native.MatrixF32(assembled.Confidences)
	if err != nil {
		return nil, err
	}

	detections := make([]Detection, 0)
	for class := 0; class < assembled.NumClasses(); class++ {
		if class == c.ModelParams.BackgroundLabel {
			continue
		}

		candidates := make([]int, 0)
		scores := make([]float32, 0)
		for i := range numBoxes {
			if confRows[i][class] <= c.ModelParams.ConfidenceThreshold {
				continue
			}
			candidates = append(candidates, i)
			scores = append(scores, confRows[i][class])
		}
		if len(candidates) == 0 {
			continue
		}

		candidateBoxes, err := utils.SelectRows2D(boxes, candidates)
		if err != nil {
			return nil, err
		}
		dets, err := utils.HStack([]*tensor.Dense{candidateBoxes, tensor.New(
			tensor.Of(tensor.Float32),
			tensor.WithShape(len(scores), 1),
			tensor.WithBacking(scores),
		)})
		if err != nil {
			return nil, err
		}

		keep, err := processing.NMS(dets, c.ModelParams.NMSThreshold)
		if err != nil {
			return nil, err
		}

		for _, k := range keep {
			i := candidates[k]
			detections = append(detections, Detection{
				Class: class,
				Score: confRows[i][class],
				Box:   [4]float32{boxRows[i][0], boxRows[i][1], boxRows[i][2], boxRows[i][3]},
			})
		}
	}

	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Score > detections[j].Score
	})
	if c.ModelParams.TopK > 0 && len(detections) > c.ModelParams.TopK {
		detections = detections[:c.ModelParams.TopK]
	}

	return detections, nil
}
