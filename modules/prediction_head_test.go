package modules

import (
	"testing"

	"github.com/okieraised/go-ssd-pipeline/config"
	"github.com/okieraised/go-ssd-pipeline/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func seq(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i)
	}
	return out
}

func dense(data []float32, shape ...int) *tensor.Dense {
	return tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(shape...), tensor.WithBacking(data))
}

func stageA(t *testing.T) *config.PriorBoxParams {
	params, err := config.NewPriorBoxParams("a", 2, 2, 1, nil, []float64{1.0}, []float64{0.1})
	require.NoError(t, err)
	return params
}

func stageB(t *testing.T) *config.PriorBoxParams {
	params, err := config.NewPriorBoxParams("b", 1, 1, 2, utils.RefPointer(3.0), []float64{1.0, 2.0}, []float64{0.1, 0.1, 0.2, 0.2})
	require.NoError(t, err)
	return params
}

func TestNewPriorBoxClient(t *testing.T) {
	client, err := NewPriorBoxClient(stageB(t), [2]int{4, 4}, false, true)
	require.NoError(t, err)
	assert.Equal(t, 3, client.NumPriorsPerCell())
	assert.Equal(t, 3, client.BoxCount())

	priors, err := client.Generate()
	require.NoError(t, err)
	assert.Equal(t, []int{3, 8}, []int(priors.Shape()))

	again, err := client.Generate()
	require.NoError(t, err)
	assert.Equal(t, priors.Float32s(), again.Float32s())

	_, err = NewPriorBoxClient(stageB(t), [2]int{4, 0}, false, true)
	assert.True(t, config.IsConfigurationError(err))
}

func TestPredictionHeadClient_Infer2D(t *testing.T) {
	client, err := NewPredictionHeadClient(stageA(t), 3, true, config.DataLayoutNHWC)
	require.NoError(t, err)
	assert.Equal(t, 4, client.BoxCount())

	priors := dense(seq(32), 4, 8)
	out, err := client.Infer(priors, HeadOutput{
		Stage:       "a",
		Locations:   dense(seq(16), 4, 4),
		Confidences: dense(seq(12), 4, 3),
	})
	require.NoError(t, err)
	assert.Equal(t, "a", out.Name)
	assert.Equal(t, []int{4, 4}, []int(out.Locations.Shape()))
	assert.Equal(t, []int{4, 3}, []int(out.Confidences.Shape()))
	assert.Equal(t, seq(12), out.Confidences.Float32s())
}

func TestPredictionHeadClient_InferFlat(t *testing.T) {
	client, err := NewPredictionHeadClient(stageB(t), 2, false, config.DataLayoutNCHW)
	require.NoError(t, err)

	out, err := client.Infer(dense(seq(24), 3, 8), HeadOutput{
		Locations:   dense(seq(12), 12),
		Confidences: dense(seq(6), 6),
	})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, []int(out.Locations.Shape()))
	assert.Equal(t, []float32{4, 5, 6, 7}, out.Locations.Float32s()[4:8])
	assert.Equal(t, []int{3, 2}, []int(out.Confidences.Shape()))
}

func TestPredictionHeadClient_InferBatchedFlat(t *testing.T) {
	pool6 := config.DefaultSSD300Params.Stages[5]
	client, err := NewPredictionHeadClient(&pool6, 21, true, config.DataLayoutNHWC)
	require.NoError(t, err)
	require.Equal(t, 6, client.BoxCount())

	priors := dense(seq(48), 6, 8)
	out, err := client.Infer(priors, HeadOutput{
		Stage:       "pool6",
		Locations:   dense(seq(24), 1, 24),
		Confidences: dense(seq(126), 1, 126),
	})
	require.NoError(t, err)
	assert.Equal(t, []int{6, 4}, []int(out.Locations.Shape()))
	assert.Equal(t, []float32{4, 5, 6, 7}, out.Locations.Float32s()[4:8])
	assert.Equal(t, []int{6, 21}, []int(out.Confidences.Shape()))

	// batched rows
	out, err = client.Infer(priors, HeadOutput{
		Locations:   dense(seq(24), 1, 6, 4),
		Confidences: dense(seq(126), 1, 6, 21),
	})
	require.NoError(t, err)
	assert.Equal(t, seq(24), out.Locations.Float32s())

	_, err = client.Infer(priors, HeadOutput{
		Locations:   dense(seq(20), 1, 20),
		Confidences: dense(seq(126), 1, 126),
	})
	assert.True(t, config.IsShapeMismatchError(err))
}

func TestPredictionHeadClient_FeatureMapLayouts(t *testing.T) {
	// 2 columns, 1 row, 2 priors per cell
	params, err := config.NewPriorBoxParams("c", 2, 1, 4, nil, []float64{2}, []float64{0.1})
	require.NoError(t, err)
	priors := dense(seq(32), 4, 8)

	// rows in (row, col, prior) order
	expected := seq(16)

	nhwc, err := NewPredictionHeadClient(params, 1, false, config.DataLayoutNHWC)
	require.NoError(t, err)
	out, err := nhwc.Infer(priors, HeadOutput{
		Locations:   dense(seq(16), 1, 1, 2, 8),
		Confidences: dense(seq(4), 1, 2, 2),
	})
	require.NoError(t, err)
	assert.Equal(t, []int{4, 4}, []int(out.Locations.Shape()))
	assert.Equal(t, expected, out.Locations.Float32s())
	assert.Equal(t, seq(4), out.Confidences.Float32s())

	// the same values stored channel first
	nchwLoc := make([]float32, 16)
	for col := 0; col < 2; col++ {
		for ch := 0; ch < 8; ch++ {
			nchwLoc[ch*2+col] = float32(col*8 + ch)
		}
	}
	src := dense(nchwLoc, 8, 1, 2)

	nchw, err := NewPredictionHeadClient(params, 1, false, config.DataLayoutNCHW)
	require.NoError(t, err)
	out, err = nchw.Infer(priors, HeadOutput{
		Locations:   src,
		Confidences: dense([]float32{0, 2, 1, 3}, 2, 1, 2),
	})
	require.NoError(t, err)
	assert.Equal(t, expected, out.Locations.Float32s())
	assert.Equal(t, seq(4), out.Confidences.Float32s())

	// input untouched
	assert.Equal(t, []int{8, 1, 2}, []int(src.Shape()))
	assert.Equal(t, nchwLoc, src.Float32s())

	// NHWC-shaped input under NCHW is rejected
	_, err = nchw.Infer(priors, HeadOutput{
		Locations:   dense(seq(16), 1, 2, 8),
		Confidences: dense(seq(4), 2, 1, 2),
	})
	assert.True(t, config.IsShapeMismatchError(err))
}

func TestPredictionHeadClient_RowMismatch(t *testing.T) {
	client, err := NewPredictionHeadClient(stageA(t), 3, true, config.DataLayoutNHWC)
	require.NoError(t, err)
	priors := dense(seq(32), 4, 8)

	_, err = client.Infer(priors, HeadOutput{
		Locations:   dense(seq(12), 3, 4),
		Confidences: dense(seq(12), 4, 3),
	})
	require.Error(t, err)
	assert.True(t, config.IsShapeMismatchError(err))
	assert.Contains(t, err.Error(), `stage "a"`)

	_, err = client.Infer(priors, HeadOutput{
		Locations:   dense(seq(16), 4, 4),
		Confidences: dense(seq(8), 4, 2),
	})
	assert.True(t, config.IsShapeMismatchError(err))

	_, err = client.Infer(dense(seq(24), 3, 8), HeadOutput{
		Locations:   dense(seq(16), 4, 4),
		Confidences: dense(seq(12), 4, 3),
	})
	assert.True(t, config.IsShapeMismatchError(err))

	_, err = client.Infer(priors, HeadOutput{Locations: dense(seq(16), 4, 4)})
	assert.True(t, config.IsConfigurationError(err))
}

func TestNewPredictionHeadClient_Errors(t *testing.T) {
	_, err := NewPredictionHeadClient(stageA(t), 0, true, config.DataLayoutNHWC)
	assert.True(t, config.IsConfigurationError(err))

	_, err = NewPredictionHeadClient(stageA(t), 3, true, config.DataLayout(5))
	assert.True(t, config.IsConfigurationError(err))
}
