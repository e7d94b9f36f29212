package processing

import (
	"fmt"

	"github.com/chewxy/math32"
	"gorgonia.org/tensor"
	"gorgonia.org/tensor/native"
)

// ClipBoxes clamps the four corner columns of an (N, >=4) box tensor to [lo, hi] in place.
// Any trailing columns, such as prior variances, are left untouched.
func ClipBoxes(boxes *tensor.Dense, lo, hi float32) (*tensor.Dense, error) {
	shape := boxes.Shape()
	if len(shape) != 2 || shape[1] < 4 {
		return nil, fmt.Errorf("expected an (N, >=4) box tensor, got shape %v", shape)
	}
	if shape[0] == 0 {
		return boxes, nil
	}

	rows, err := native.MatrixF32(boxes)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		for j := 0; j < 4; j++ {
			row[j] = math32.Max(math32.Min(row[j], hi), lo)
		}
	}
	return boxes, nil
}

// DecodeBoxes turns (N, 4) location offsets into (N, 4) corner boxes using the
// centre-size encoding of the (N, 8) priors and their variances.
func DecodeBoxes(priors, locations *tensor.Dense) (*tensor.Dense, error) {
	pShape, lShape := priors.Shape(), locations.Shape()
	if len(pShape) != 2 || pShape[1] != PriorBoxWidth {
		return nil, fmt.Errorf("expected (N, %d) priors, got shape %v", PriorBoxWidth, pShape)
	}
	if len(lShape) != 2 || lShape[1] != 4 || lShape[0] != pShape[0] {
		return nil, fmt.Errorf("expected (%d, 4) locations, got shape %v", pShape[0], lShape)
	}

	numBoxes := pShape[0]
	decoded := make([]float32, numBoxes*4)
	if numBoxes == 0 {
		return tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(0, 4), tensor.WithBacking(decoded)), nil
	}

	priorRows, err := native.MatrixF32(priors)
	if err != nil {
		return nil, err
	}
	locRows, err := native.MatrixF32(locations)
	if err != nil {
		return nil, err
	}

	for i := range numBoxes {
		p, l := priorRows[i], locRows[i]

		priorWidth := p[2] - p[0]
		priorHeight := p[3] - p[1]
		priorCenterX := (p[0] + p[2]) / 2
		priorCenterY := (p[1] + p[3]) / 2

		centerX := p[4]*l[0]*priorWidth + priorCenterX
		centerY := p[5]*l[1]*priorHeight + priorCenterY
		width := math32.Exp(p[6]*l[2]) * priorWidth
		height := math32.Exp(p[7]*l[3]) * priorHeight

		decoded[i*4] = centerX - width/2
		decoded[i*4+1] = centerY - height/2
		decoded[i*4+2] = centerX + width/2
		decoded[i*4+3] = centerY + height/2
	}

	return tensor.New(
		tensor.Of(tensor.Float32),
		tensor.WithShape(numBoxes, 4),
		tensor.WithBacking(decoded),
	), nil
}
