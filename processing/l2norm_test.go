package processing

import (
	"testing"

	"github.com/okieraised/go-ssd-pipeline/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gorgonia.org/tensor"
)

func TestL2Normalize_NHWC(t *testing.T) {
	fm := tensor.New(
		tensor.Of(tensor.Float32),
		tensor.WithShape(1, 2, 2),
		tensor.WithBacking([]float32{3, 4, 0, 2}),
	)

	out, err := L2Normalize(fm, []float32{1}, config.DataLayoutNHWC)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 2}, []int(out.Shape()))
	assert.True(t, floats.EqualApprox([]float64{0.6, 0.8, 0, 1}, toFloat64s(out.Float32s()), 1e-5))

	out, err = L2Normalize(fm, []float32{10, 20}, config.DataLayoutNHWC)
	require.NoError(t, err)
	assert.True(t, floats.EqualApprox([]float64{6, 16, 0, 20}, toFloat64s(out.Float32s()), 1e-4))

	// input untouched
	assert.Equal(t, []float32{3, 4, 0, 2}, fm.Float32s())
}

func TestL2Normalize_NCHW(t *testing.T) {
	// two channels over a 1x2 grid, with a batch dimension
	fm := tensor.New(
		tensor.Of(tensor.Float32),
		tensor.WithShape(1, 2, 1, 2),
		tensor.WithBacking([]float32{3, 0, 4, 1}),
	)

	out, err := L2Normalize(fm, []float32{20}, config.DataLayoutNCHW)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 1, 2}, []int(out.Shape()))
	assert.True(t, floats.EqualApprox([]float64{12, 0, 16, 20}, toFloat64s(out.Float32s()), 1e-4))
}

func TestL2Normalize_SmallNorm(t *testing.T) {
	fm := tensor.New(
		tensor.Of(tensor.Float32),
		tensor.WithShape(1, 3, 2),
		tensor.WithBacking([]float32{1e-7, 0, 0, 0, 3, 4}),
	)

	// norms below 1e-6 are divided by 1e-6
	out, err := L2Normalize(fm, []float32{1}, config.DataLayoutNHWC)
	require.NoError(t, err)
	assert.True(t, floats.EqualApprox([]float64{0.1, 0, 0, 0, 0.6, 0.8}, toFloat64s(out.Float32s()), 1e-5))

	// above it the norm is used unchanged
	out, err = L2Normalize(tensor.New(
		tensor.Of(tensor.Float32),
		tensor.WithShape(1, 1, 2),
		tensor.WithBacking([]float32{3e-6, 4e-6}),
	), []float32{1}, config.DataLayoutNHWC)
	require.NoError(t, err)
	assert.True(t, floats.EqualApprox([]float64{0.6, 0.8}, toFloat64s(out.Float32s()), 1e-5))
}

func TestL2Normalize_Errors(t *testing.T) {
	fm := tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(2, 2, 3))

	_, err := L2Normalize(fm, []float32{1, 2}, config.DataLayoutNHWC)
	assert.True(t, config.IsConfigurationError(err))

	_, err = L2Normalize(fm, []float32{1}, config.DataLayout(9))
	assert.True(t, config.IsConfigurationError(err))

	_, err = L2Normalize(tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(2, 2)), []float32{1}, config.DataLayoutNHWC)
	assert.Error(t, err)

	_, err = L2Normalize(tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(2, 2, 2, 2)), []float32{1}, config.DataLayoutNHWC)
	assert.Error(t, err)
}
