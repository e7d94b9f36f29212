package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoStageYAML = `
image_size: [4, 4]
num_classes: 3
clip: false
layout: NCHW
stages:
  - name: a
    width: 2
    height: 2
    min_size: 1
    aspect_ratios: [1.0]
    variances: [0.1]
  - name: b
    width: 1
    height: 1
    min_size: 2
    max_size: 3
    aspect_ratios: [1.0, 2.0]
    variances: [0.1, 0.1, 0.2, 0.2]
`

func TestParseSSDParams_TwoStages(t *testing.T) {
	params, err := ParseSSDParams([]byte(twoStageYAML))
	require.NoError(t, err)

	assert.Equal(t, [2]int{4, 4}, params.ImageSize)
	assert.Equal(t, 3, params.NumClasses)
	assert.False(t, params.Clip)
	// not in the document, default kept
	assert.True(t, params.Flip)
	assert.Equal(t, DataLayoutNCHW, params.Layout)

	require.Len(t, params.Stages, 2)
	assert.Equal(t, "a", params.Stages[0].Name)
	assert.Nil(t, params.Stages[0].MaxSize)
	require.NotNil(t, params.Stages[1].MaxSize)
	assert.Equal(t, 3.0, *params.Stages[1].MaxSize)
	assert.Equal(t, []float64{0.1, 0.1, 0.2, 0.2}, params.Stages[1].Variances)
}

func TestParseSSDParams_DefaultStages(t *testing.T) {
	params, err := ParseSSDParams([]byte("num_classes: 81\n"))
	require.NoError(t, err)

	assert.Equal(t, 81, params.NumClasses)
	assert.Equal(t, DefaultSSD300Params.StageNames(), params.StageNames())
	assert.Equal(t, [2]int{300, 300}, params.ImageSize)
}

func TestParseSSDParams_Invalid(t *testing.T) {
	doc := `
stages:
  - name: a
    width: 2
    height: 2
    min_size: 0
    variances: [0.1]
`
	_, err := ParseSSDParams([]byte(doc))
	assert.True(t, IsConfigurationError(err))
}

func TestParseSSDParams_EnvOverride(t *testing.T) {
	t.Setenv("SSD_NUM_CLASSES", "5")
	t.Setenv("SSD_IMAGE_SIZE", "512,512")

	params, err := ParseSSDParams([]byte(twoStageYAML))
	require.NoError(t, err)
	assert.Equal(t, 5, params.NumClasses)
	assert.Equal(t, [2]int{512, 512}, params.ImageSize)
}

func TestLoadSSDParams_RoundTrip(t *testing.T) {
	b, err := MarshalSSDParams(DefaultSSD300Params)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "ssd300.yaml")
	require.NoError(t, os.WriteFile(path, b, 0644))

	params, err := LoadSSDParams(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultSSD300Params, params)
}

func TestLoadSSDParams_MissingFile(t *testing.T) {
	_, err := LoadSSDParams(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseTritonSSDParams_Block(t *testing.T) {
	doc := twoStageYAML + `
triton:
  model_name: ssd_two_stage
  timeout: 5s
  loc_outputs: [a_loc, b_loc]
  conf_outputs: [a_conf, b_conf]
`
	ssd, err := ParseSSDParams([]byte(doc))
	require.NoError(t, err)

	params, err := ParseTritonSSDParams([]byte(doc), ssd)
	require.NoError(t, err)
	assert.Equal(t, "ssd_two_stage", params.ModelName)
	assert.Equal(t, 5*time.Second, params.Timeout)
	assert.Equal(t, []string{"a_loc", "b_loc"}, params.LocOutputs)
	assert.Equal(t, []string{"a_conf", "b_conf"}, params.ConfOutputs)
	// not in the block, default kept
	assert.Equal(t, DefaultTritonSSDParams.PixelMeans, params.PixelMeans)
}

func TestParseTritonSSDParams_DerivedOutputs(t *testing.T) {
	ssd, err := ParseSSDParams([]byte(twoStageYAML))
	require.NoError(t, err)

	params, err := ParseTritonSSDParams([]byte(twoStageYAML), ssd)
	require.NoError(t, err)
	assert.Equal(t, DefaultTritonSSDParams.ModelName, params.ModelName)
	assert.Equal(t, DefaultTritonSSDParams.Timeout, params.Timeout)
	assert.Equal(t, []string{"a_mbox_loc", "b_mbox_loc"}, params.LocOutputs)
	assert.Equal(t, []string{"a_mbox_conf", "b_mbox_conf"}, params.ConfOutputs)
}

func TestLoadTritonSSDParams_SSD300Defaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ssd300.yaml")
	require.NoError(t, os.WriteFile(path, []byte("num_classes: 21\n"), 0644))

	ssd, err := LoadSSDParams(path)
	require.NoError(t, err)
	params, err := LoadTritonSSDParams(path, ssd)
	require.NoError(t, err)
	assert.Equal(t, DefaultTritonSSDParams, params)
}

func TestParseTritonSSDParams_Invalid(t *testing.T) {
	ssd, err := ParseSSDParams([]byte(twoStageYAML))
	require.NoError(t, err)

	doc := twoStageYAML + `
triton:
  loc_outputs: [a_loc]
`
	_, err = ParseTritonSSDParams([]byte(doc), ssd)
	assert.True(t, IsConfigurationError(err))

	_, err = ParseTritonSSDParams([]byte("triton:\n  model_name: \"\"\n"), ssd)
	assert.True(t, IsConfigurationError(err))
}
