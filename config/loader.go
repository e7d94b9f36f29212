package config

import (
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/pkg/errors"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix marks environment variables overriding top-level architecture keys,
// e.g. SSD_NUM_CLASSES=81 or SSD_IMAGE_SIZE=512,512.
const EnvPrefix = "SSD_"

// LoadSSDParams reads an architecture configuration from a YAML file.
// Missing top-level keys fall back to DefaultSSD300Params, and so does an empty stage list.
func LoadSSDParams(filePath string) (*SSDParams, error) {
	params, err := loadSSDParams(file.Provider(filePath))
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", filePath)
	}
	return params, nil
}

// ParseSSDParams is LoadSSDParams for an in-memory YAML document.
func ParseSSDParams(b []byte) (*SSDParams, error) {
	return loadSSDParams(rawbytes.Provider(b))
}

func loadSSDParams(provider koanf.Provider) (*SSDParams, error) {
	k := koanf.New(".")

	def := DefaultSSD300Params
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"image_size":  []interface{}{def.ImageSize[0], def.ImageSize[1]},
		"num_classes": def.NumClasses,
		"clip":        def.Clip,
		"flip":        def.Flip,
		"layout":      def.Layout.String(),
	}, "."), nil); err != nil {
		return nil, err
	}

	if err := k.Load(provider, yaml.Parser()); err != nil {
		return nil, err
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", func(s string, v string) (string, interface{}) {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		if strings.Contains(v, ",") {
			return key, strings.Split(strings.TrimSpace(v), ",")
		}
		return key, v
	}), nil); err != nil {
		return nil, err
	}

	params := &SSDParams{}
	if err := k.UnmarshalWithConf("", params, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, err
	}
	if len(params.Stages) == 0 {
		params.Stages = cloneStages(def.Stages)
	}

	if err := params.Validate(); err != nil {
		return nil, err
	}
	return params, nil
}

// LoadTritonSSDParams reads the `triton` block of the configuration file that ssd
// was loaded from. Keys missing from the block fall back to DefaultTritonSSDParams.
// When the file names no outputs and its stages are not those of SSD300, output
// names are derived from the stage names with StageOutputNames.
func LoadTritonSSDParams(filePath string, ssd *SSDParams) (*TritonSSDParams, error) {
	params, err := loadTritonSSDParams(file.Provider(filePath), ssd)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", filePath)
	}
	return params, nil
}

// ParseTritonSSDParams is LoadTritonSSDParams for an in-memory YAML document.
func ParseTritonSSDParams(b []byte, ssd *SSDParams) (*TritonSSDParams, error) {
	return loadTritonSSDParams(rawbytes.Provider(b), ssd)
}

func loadTritonSSDParams(provider koanf.Provider, ssd *SSDParams) (*TritonSSDParams, error) {
	k := koanf.New(".")

	def := DefaultTritonSSDParams
	locOutputs, confOutputs := def.LocOutputs, def.ConfOutputs
	if !sameStrings(ssd.StageNames(), DefaultSSD300Params.StageNames()) {
		locOutputs, confOutputs = StageOutputNames(ssd)
	}
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"triton.model_name":   def.ModelName,
		"triton.timeout":      def.Timeout.String(),
		"triton.loc_outputs":  toInterfaces(locOutputs),
		"triton.conf_outputs": toInterfaces(confOutputs),
		"triton.pixel_means":  []interface{}{def.PixelMeans[0], def.PixelMeans[1], def.PixelMeans[2]},
	}, "."), nil); err != nil {
		return nil, err
	}

	if err := k.Load(provider, yaml.Parser()); err != nil {
		return nil, err
	}

	params := &TritonSSDParams{}
	if err := k.UnmarshalWithConf("triton", params, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, err
	}
	if err := params.Validate(ssd); err != nil {
		return nil, err
	}
	return params, nil
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func toInterfaces(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// MarshalSSDParams renders params in the YAML form accepted by LoadSSDParams.
func MarshalSSDParams(params *SSDParams) ([]byte, error) {
	return yamlv3.Marshal(params)
}
