package processing

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/okieraised/go-ssd-pipeline/utils"
	"gorgonia.org/tensor"
	"gorgonia.org/tensor/native"
)

// NMS runs greedy non-maximum suppression over (N, 5) detections laid out as
// xmin, ymin, xmax, ymax, score. It returns the kept row indices by descending score.
// Boxes are in normalized coordinates so no +1 is added to widths and heights.
func NMS(dets *tensor.Dense, threshold float32) ([]int, error) {
	shape := dets.Shape()
	if len(shape) != 2 || shape[1] != 5 {
		return nil, fmt.Errorf("expected (N, 5) detections, got shape %v", shape)
	}
	if shape[0] == 0 {
		return []int{}, nil
	}

	rows, err := native.MatrixF32(dets)
	if err != nil {
		return nil, err
	}

	scores := make([]float32, len(rows))
	areas := make([]float32, len(rows))
	for i, r := range rows {
		scores[i] = r[4]
		areas[i] = math32.Max(r[2]-r[0], 0) * math32.Max(r[3]-r[1], 0)
	}

	order, err := utils.ArgSortDescending(tensor.New(
		tensor.Of(tensor.Float32),
		tensor.WithShape(len(scores)),
		tensor.WithBacking(scores),
	))
	if err != nil {
		return nil, err
	}

	keep := []int{}
	for len(order) > 0 {
		i := order[0]
		keep = append(keep, i)

		remaining := order[:0:0]
		for _, j := range order[1:] {
			xx1 := math32.Max(rows[i][0], rows[j][0])
			yy1 := math32.Max(rows[i][1], rows[j][1])
			xx2 := math32.Min(rows[i][2], rows[j][2])
			yy2 := math32.Min(rows[i][3], rows[j][3])

			inter := math32.Max(xx2-xx1, 0) * math32.Max(yy2-yy1, 0)
			union := areas[i] + areas[j] - inter

			var iou float32
			if union > 0 {
				iou = inter / union
			}
			if iou <= threshold {
				remaining = append(remaining, j)
			}
		}
		order = remaining
	}

	return keep, nil
}
