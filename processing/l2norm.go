package processing

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/okieraised/go-ssd-pipeline/config"
	"github.com/okieraised/go-ssd-pipeline/utils"
	"gonum.org/v1/gonum/blas/blas32"
	"gorgonia.org/tensor"
)

// l2NormEpsilon bounds the norm from below, sqrt(1e-12).
const l2NormEpsilon = 1e-6

// L2Normalize scales every spatial position of a feature map to unit L2 norm across
// channels, then multiplies channel c by gamma[c]. A single gamma is shared by all
// channels. fm is (H, W, C) for NHWC or (C, H, W) for NCHW, with an optional leading
// batch dimension of 1. The result is a new tensor of the same shape.
func L2Normalize(fm *tensor.Dense, gamma []float32, layout config.DataLayout) (*tensor.Dense, error) {
	shape := fm.Shape().Clone()
	dims := []int(shape)
	if len(dims) == 4 {
		if dims[0] != 1 {
			return nil, fmt.Errorf("expected a batch of one feature map, got shape %v", shape)
		}
		dims = dims[1:]
	}
	if len(dims) != 3 {
		return nil, fmt.Errorf("expected a 3-D feature map, got shape %v", shape)
	}

	var channels, positions, channelStride, positionStride int
	switch layout {
	case config.DataLayoutNHWC:
		channels, positions = dims[2], dims[0]*dims[1]
		channelStride, positionStride = 1, channels
	case config.DataLayoutNCHW:
		channels, positions = dims[0], dims[1]*dims[2]
		channelStride, positionStride = positions, 1
	default:
		return nil, config.NewConfigurationError("layout", "unknown data layout %d", int(layout))
	}
	if len(gamma) != 1 && len(gamma) != channels {
		return nil, config.NewConfigurationError("scale", "expected 1 or %d scale values, got %d", channels, len(gamma))
	}

	src, err := utils.Float32Data(fm)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(src))
	copy(out, src)

	if channels > 0 {
		for p := range positions {
			vec := blas32.Vector{N: channels, Inc: channelStride, Data: out[p*positionStride:]}
			norm := math32.Max(blas32.Nrm2(vec), l2NormEpsilon)
			if len(gamma) == 1 {
				blas32.Scal(gamma[0]/norm, vec)
				continue
			}
			for c := range channels {
				vec.Data[c*channelStride] *= gamma[c] / norm
			}
		}
	}

	return tensor.New(
		tensor.Of(tensor.Float32),
		tensor.WithShape(shape...),
		tensor.WithBacking(out),
	), nil
}
