package processing

import (
	"math"

	"github.com/okieraised/go-ssd-pipeline/config"
	"gorgonia.org/tensor"
	"gorgonia.org/vecf64"
)

// PriorBoxWidth is the number of columns of a prior tensor: xmin, ymin, xmax, ymax and four variances.
const PriorBoxWidth = 8

// ExpandAspectRatios returns the per-cell ratio list. It always starts with 1.0,
// repeats 1.0 when the stage has a max size, then appends each distinct ratio
// (and its reciprocal right after it when flip is set).
func ExpandAspectRatios(aspectRatios []float64, hasMaxSize, flip bool) []float64 {
	ratios := []float64{1.0}
	if hasMaxSize {
		ratios = append(ratios, 1.0)
	}
	for _, ar := range aspectRatios {
		if containsRatio(ratios, ar) {
			continue
		}
		ratios = append(ratios, ar)
		if flip {
			ratios = append(ratios, 1.0/ar)
		}
	}
	return ratios
}

func containsRatio(ratios []float64, ar float64) bool {
	for _, r := range ratios {
		if r == ar {
			return true
		}
	}
	return false
}

func NumPriorsPerCell(params *config.PriorBoxParams, flip bool) int {
	return len(ExpandAspectRatios(params.AspectRatios, params.HasMaxSize(), flip))
}

// BoxCount is the number of priors, and of head predictions, contributed by one stage.
func BoxCount(params *config.PriorBoxParams, flip bool) int {
	return NumPriorsPerCell(params, flip) * params.Width * params.Height
}

// priorHalfSizes returns half widths and half heights in pixels, one per ratio.
func priorHalfSizes(params *config.PriorBoxParams, ratios []float64) ([]float64, []float64) {
	widths := make([]float64, 0, len(ratios))
	heights := make([]float64, 0, len(ratios))

	for _, ar := range ratios {
		switch {
		case ar == 1 && len(widths) == 0:
			widths = append(widths, params.MinSize)
			heights = append(heights, params.MinSize)
		case ar == 1:
			s := math.Sqrt(params.MinSize * *params.MaxSize)
			widths = append(widths, s)
			heights = append(heights, s)
		default:
			widths = append(widths, params.MinSize*math.Sqrt(ar))
			heights = append(heights, params.MinSize/math.Sqrt(ar))
		}
	}
	vecf64.Scale(widths, 0.5)
	vecf64.Scale(heights, 0.5)

	return widths, heights
}

// GeneratePriorBoxes lays the stage priors over an image of imageSize (width, height).
// The result has shape (BoxCount, 8), enumerated row, then column, then ratio index.
func GeneratePriorBoxes(params *config.PriorBoxParams, imageSize [2]int, flip, clip bool) (*tensor.Dense, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if imageSize[0] <= 0 || imageSize[1] <= 0 {
		return nil, config.NewConfigurationError("image_size", "must be positive, got %v", imageSize)
	}

	ratios := ExpandAspectRatios(params.AspectRatios, params.HasMaxSize(), flip)
	halfWidths, halfHeights := priorHalfSizes(params, ratios)
	variances := broadcastVariances(params.Variances)

	imgWidth, imgHeight := float64(imageSize[0]), float64(imageSize[1])
	centersX, centersY := CellCenters(params.Width, params.Height, imageSize)

	numPriors := len(ratios)
	numBoxes := numPriors * params.Width * params.Height
	data := make([]float32, 0, numBoxes*PriorBoxWidth)

	for _, cy := range centersY {
		for _, cx := range centersX {
			for k := range numPriors {
				data = append(data,
					float32((cx-halfWidths[k])/imgWidth),
					float32((cy-halfHeights[k])/imgHeight),
					float32((cx+halfWidths[k])/imgWidth),
					float32((cy+halfHeights[k])/imgHeight),
				)
				data = append(data, variances[:]...)
			}
		}
	}

	priors := tensor.New(
		tensor.Of(tensor.Float32),
		tensor.WithShape(numBoxes, PriorBoxWidth),
		tensor.WithBacking(data),
	)

	if clip {
		if _, err := ClipBoxes(priors, 0, 1); err != nil {
			return nil, err
		}
	}
	return priors, nil
}

func broadcastVariances(variances []float64) [4]float32 {
	var out [4]float32
	for i := range out {
		if len(variances) == 1 {
			out[i] = float32(variances[0])
		} else {
			out[i] = float32(variances[i])
		}
	}
	return out
}
