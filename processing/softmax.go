package processing

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/okieraised/go-ssd-pipeline/utils"
	"gorgonia.org/tensor"
	"gorgonia.org/vecf32"
)

// SoftmaxRows returns a new (N, C) tensor holding the softmax of every row of logits.
// The row maximum is subtracted before exponentiation so large logits do not overflow.
func SoftmaxRows(logits *tensor.Dense) (*tensor.Dense, error) {
	shape := logits.Shape()
	if len(shape) != 2 || shape[1] == 0 {
		return nil, fmt.Errorf("expected an (N, C>0) tensor, got shape %v", shape)
	}
	numRows, numCols := shape[0], shape[1]

	src, err := utils.Float32Data(logits)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(src))
	copy(out, src)

	for i := range numRows {
		row := out[i*numCols : (i+1)*numCols]
		vecf32.TransInv(row, vecf32.MaxOf(row))
		for j, v := range row {
			row[j] = math32.Exp(v)
		}
		vecf32.ScaleInv(row, vecf32.Sum(row))
	}

	return tensor.New(
		tensor.Of(tensor.Float32),
		tensor.WithShape(numRows, numCols),
		tensor.WithBacking(out),
	), nil
}
