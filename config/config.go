package config

import (
	"math"
	"strings"
	"time"

	"github.com/okieraised/go-ssd-pipeline/utils"
)

type DataLayout int

const (
	DataLayoutNHWC DataLayout = iota
	DataLayoutNCHW
)

var DataLayoutMapper = map[DataLayout]string{
	DataLayoutNHWC: "NHWC",
	DataLayoutNCHW: "NCHW",
}

func (l DataLayout) String() string {
	if s, ok := DataLayoutMapper[l]; ok {
		return s
	}
	return "unknown"
}

func (l DataLayout) MarshalText() ([]byte, error) {
	if _, ok := DataLayoutMapper[l]; !ok {
		return nil, NewConfigurationError("layout", "unknown data layout %d", int(l))
	}
	return []byte(l.String()), nil
}

func (l *DataLayout) UnmarshalText(text []byte) error {
	for k, v := range DataLayoutMapper {
		if strings.EqualFold(v, string(text)) {
			*l = k
			return nil
		}
	}
	return NewConfigurationError("layout", "unknown data layout %q", string(text))
}

// PriorBoxParams describes one backbone output stage and the priors laid over it.
// Width and Height are the feature grid size, sizes are in input-image pixels.
type PriorBoxParams struct {
	Name         string    `json:"name" yaml:"name"`
	Width        int       `json:"width" yaml:"width"`
	Height       int       `json:"height" yaml:"height"`
	MinSize      float64   `json:"min_size" yaml:"min_size"`
	MaxSize      *float64  `json:"max_size,omitempty" yaml:"max_size,omitempty"`
	AspectRatios []float64 `json:"aspect_ratios" yaml:"aspect_ratios"`
	Variances    []float64 `json:"variances" yaml:"variances"`
}

// NewPriorBoxParams validates and returns a stage descriptor. The slices are copied.
func NewPriorBoxParams(name string, width, height int, minSize float64, maxSize *float64, aspectRatios, variances []float64) (*PriorBoxParams, error) {
	params := &PriorBoxParams{
		Name:         name,
		Width:        width,
		Height:       height,
		MinSize:      minSize,
		AspectRatios: append([]float64(nil), aspectRatios...),
		Variances:    append([]float64(nil), variances...),
	}
	if maxSize != nil {
		params.MaxSize = utils.RefPointer(utils.DerefPointer(maxSize))
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return params, nil
}

func (p *PriorBoxParams) HasMaxSize() bool {
	return p.MaxSize != nil
}

// Validate checks the constraints every stage must satisfy before priors are generated.
func (p *PriorBoxParams) Validate() error {
	field := func(name string) string {
		if p.Name == "" {
			return name
		}
		return p.Name + "." + name
	}

	if p.Width <= 0 || p.Height <= 0 {
		return NewConfigurationError(field("width/height"), "feature grid must be positive, got %dx%d", p.Width, p.Height)
	}
	if !(p.MinSize > 0) || math.IsInf(p.MinSize, 0) {
		return NewConfigurationError(field("min_size"), "must be positive, got %v", p.MinSize)
	}
	if p.MaxSize != nil && !(*p.MaxSize > p.MinSize) {
		return NewConfigurationError(field("max_size"), "must be greater than min_size %v, got %v", p.MinSize, *p.MaxSize)
	}
	for i, ar := range p.AspectRatios {
		if !(ar > 0) || math.IsInf(ar, 0) {
			return NewConfigurationError(field("aspect_ratios"), "ratio %d must be positive, got %v", i, ar)
		}
	}
	if len(p.Variances) != 1 && len(p.Variances) != 4 {
		return NewConfigurationError(field("variances"), "must provide one or four variances, got %d", len(p.Variances))
	}
	for i, v := range p.Variances {
		if !(v > 0) {
			return NewConfigurationError(field("variances"), "variance %d must be positive, got %v", i, v)
		}
	}
	return nil
}

// SSDParams is the architecture configuration: stages are listed in the order
// their priors and predictions are concatenated.
type SSDParams struct {
	ImageSize  [2]int           `json:"image_size" yaml:"image_size"`
	NumClasses int              `json:"num_classes" yaml:"num_classes"`
	Clip       bool             `json:"clip" yaml:"clip"`
	Flip       bool             `json:"flip" yaml:"flip"`
	Layout     DataLayout       `json:"layout" yaml:"layout"`
	Stages     []PriorBoxParams `json:"stages" yaml:"stages"`
}

func NewSSDParams(imgSize [2]int, numClasses int, clip, flip bool, layout DataLayout, stages []PriorBoxParams) (*SSDParams, error) {
	params := &SSDParams{
		ImageSize:  imgSize,
		NumClasses: numClasses,
		Clip:       clip,
		Flip:       flip,
		Layout:     layout,
		Stages:     cloneStages(stages),
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return params, nil
}

func (p *SSDParams) Validate() error {
	if p.ImageSize[0] <= 0 || p.ImageSize[1] <= 0 {
		return NewConfigurationError("image_size", "must be positive, got %v", p.ImageSize)
	}
	if p.NumClasses <= 0 {
		return NewConfigurationError("num_classes", "must be positive, got %d", p.NumClasses)
	}
	if _, ok := DataLayoutMapper[p.Layout]; !ok {
		return NewConfigurationError("layout", "unknown data layout %d", int(p.Layout))
	}
	if len(p.Stages) == 0 {
		return NewConfigurationError("stages", "at least one stage is required")
	}

	seen := make(map[string]struct{}, len(p.Stages))
	for i := range p.Stages {
		name := p.Stages[i].Name
		if name == "" {
			return NewConfigurationError("stages", "stage %d has no name", i)
		}
		if _, ok := seen[name]; ok {
			return NewConfigurationError("stages", "duplicated stage name %q", name)
		}
		seen[name] = struct{}{}

		if err := p.Stages[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (p *SSDParams) StageNames() []string {
	names := make([]string, len(p.Stages))
	for i, s := range p.Stages {
		names[i] = s.Name
	}
	return names
}

// Clone returns a deep copy so callers can tweak a default without touching it.
func (p *SSDParams) Clone() *SSDParams {
	c := *p
	c.Stages = cloneStages(p.Stages)
	return &c
}

func cloneStages(stages []PriorBoxParams) []PriorBoxParams {
	out := make([]PriorBoxParams, len(stages))
	for i, s := range stages {
		out[i] = s
		out[i].AspectRatios = append([]float64(nil), s.AspectRatios...)
		out[i].Variances = append([]float64(nil), s.Variances...)
		if s.MaxSize != nil {
			out[i].MaxSize = utils.RefPointer(utils.DerefPointer(s.MaxSize))
		}
	}
	return out
}

func ssd300Stage(name string, size int, minSize float64, maxSize *float64, aspectRatios []float64) PriorBoxParams {
	return PriorBoxParams{
		Name:         name,
		Width:        size,
		Height:       size,
		MinSize:      minSize,
		MaxSize:      maxSize,
		AspectRatios: aspectRatios,
		Variances:    []float64{0.1, 0.1, 0.2, 0.2},
	}
}

var DefaultSSD300Params = &SSDParams{
	ImageSize:  [2]int{300, 300},
	NumClasses: 21,
	Clip:       true,
	Flip:       true,
	Layout:     DataLayoutNHWC,
	Stages: []PriorBoxParams{
		ssd300Stage("conv4_3_norm", 38, 30, nil, []float64{2}),
		ssd300Stage("fc7", 19, 60, utils.RefPointer(114.0), []float64{2, 3}),
		ssd300Stage("conv6_2", 10, 114, utils.RefPointer(168.0), []float64{2, 3}),
		ssd300Stage("conv7_2", 5, 168, utils.RefPointer(222.0), []float64{2, 3}),
		ssd300Stage("conv8_2", 3, 222, utils.RefPointer(276.0), []float64{2, 3}),
		ssd300Stage("pool6", 1, 276, utils.RefPointer(330.0), []float64{2, 3}),
	},
}

type DetectionOutputParams struct {
	ConfidenceThreshold float32 `json:"confidence_threshold" yaml:"confidence_threshold"`
	NMSThreshold        float32 `json:"nms_threshold" yaml:"nms_threshold"`
	TopK                int     `json:"top_k" yaml:"top_k"`
	BackgroundLabel     int     `json:"background_label" yaml:"background_label"`
}

var DefaultDetectionOutputParams = &DetectionOutputParams{
	ConfidenceThreshold: 0.01,
	NMSThreshold:        0.45,
	TopK:                200,
	BackgroundLabel:     0,
}

func NewDetectionOutputParams(confidenceThreshold, nmsThreshold float32, topK, backgroundLabel int) *DetectionOutputParams {
	return &DetectionOutputParams{
		ConfidenceThreshold: confidenceThreshold,
		NMSThreshold:        nmsThreshold,
		TopK:                topK,
		BackgroundLabel:     backgroundLabel,
	}
}

// L2NormParams configures the channel-wise normalization applied to a stage
// before its prediction head.
type L2NormParams struct {
	Stage string  `json:"stage" yaml:"stage"`
	Scale float32 `json:"scale" yaml:"scale"`
}

var DefaultL2NormParams = &L2NormParams{
	Stage: "conv4_3_norm",
	Scale: 20,
}

type TritonSSDParams struct {
	ModelName   string        `json:"model_name" yaml:"model_name"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout"`
	LocOutputs  []string      `json:"loc_outputs" yaml:"loc_outputs"`
	ConfOutputs []string      `json:"conf_outputs" yaml:"conf_outputs"`
	PixelMeans  [3]float32    `json:"pixel_means" yaml:"pixel_means"`
}

var DefaultTritonSSDParams = &TritonSSDParams{
	ModelName: "ssd300",
	Timeout:   20 * time.Second,
	LocOutputs: []string{
		"conv4_3_norm_mbox_loc",
		"fc7_mbox_loc",
		"conv6_2_mbox_loc",
		"conv7_2_mbox_loc",
		"conv8_2_mbox_loc",
		"pool6_mbox_loc_flat",
	},
	ConfOutputs: []string{
		"conv4_3_norm_mbox_conf",
		"fc7_mbox_conf",
		"conv6_2_mbox_conf",
		"conv7_2_mbox_conf",
		"conv8_2_mbox_conf",
		"pool6_mbox_conf_flat",
	},
	// BGR order
	PixelMeans: [3]float32{104, 117, 123},
}

// StageOutputNames returns the head output names "<stage>_mbox_loc" and
// "<stage>_mbox_conf" for every stage of params.
func StageOutputNames(params *SSDParams) (locOutputs, confOutputs []string) {
	for _, name := range params.StageNames() {
		locOutputs = append(locOutputs, name+"_mbox_loc")
		confOutputs = append(confOutputs, name+"_mbox_conf")
	}
	return locOutputs, confOutputs
}

// Validate checks that the model is named and there is one location and one
// confidence output per stage of ssd.
func (p *TritonSSDParams) Validate(ssd *SSDParams) error {
	if p.ModelName == "" {
		return NewConfigurationError("triton.model_name", "must not be empty")
	}
	if !(p.Timeout > 0) {
		return NewConfigurationError("triton.timeout", "must be positive, got %v", p.Timeout)
	}
	if len(p.LocOutputs) != len(ssd.Stages) {
		return NewConfigurationError("triton.loc_outputs", "expected %d outputs, got %d", len(ssd.Stages), len(p.LocOutputs))
	}
	if len(p.ConfOutputs) != len(ssd.Stages) {
		return NewConfigurationError("triton.conf_outputs", "expected %d outputs, got %d", len(ssd.Stages), len(p.ConfOutputs))
	}
	return nil
}

func NewTritonSSDParams(modelName string, timeout time.Duration, locOutputs, confOutputs []string, pixelMeans [3]float32) *TritonSSDParams {
	return &TritonSSDParams{
		ModelName:   modelName,
		Timeout:     timeout,
		LocOutputs:  locOutputs,
		ConfOutputs: confOutputs,
		PixelMeans:  pixelMeans,
	}
}
