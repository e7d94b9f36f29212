package triton

import (
	"image"

	"github.com/okieraised/go-ssd-pipeline/config"
	"github.com/okieraised/go-ssd-pipeline/modules"
	"github.com/okieraised/go-ssd-pipeline/utils"
	gotritonclient "github.com/okieraised/go-triton-client"
	"github.com/okieraised/go-triton-client/triton_proto"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
	"gorgonia.org/tensor"
)

// SSDTritonClient runs the SSD backbone and prediction heads on a Triton server and
// returns the raw per-stage head tensors in the configured stage order.
type SSDTritonClient struct {
	tritonClient *gotritonclient.TritonGRPCClient
	ModelParams  *config.TritonSSDParams
	ModelConfig  *triton_proto.ModelConfigResponse
	imageSize    [2]int
	layout       config.DataLayout
	stageNames   []string
}

func NewSSDTritonClient(tritonClient *gotritonclient.TritonGRPCClient, cfg *config.TritonSSDParams, ssd *config.SSDParams) (*SSDTritonClient, error) {
	if err := cfg.Validate(ssd); err != nil {
		return nil, err
	}

	client := &SSDTritonClient{}
	client.ModelParams = cfg

	inferenceConfig, err := tritonClient.GetModelConfiguration(cfg.Timeout, cfg.ModelName, "")
	if err != nil {
		return nil, errors.Wrapf(err, "get configuration of model %s", cfg.ModelName)
	}
	client.tritonClient = tritonClient
	client.ModelConfig = inferenceConfig
	client.imageSize = ssd.ImageSize
	client.layout = ssd.Layout
	client.stageNames = ssd.StageNames()

	return client, nil
}

// preprocess resizes img to the network input size and subtracts the BGR pixel means.
func (c *SSDTritonClient) preprocess(img gocv.Mat) (*tensor.Dense, error) {
	width, height := c.imageSize[0], c.imageSize[1]

	resizedImg := gocv.NewMat()
	defer resizedImg.Close()
	gocv.Resize(img, &resizedImg, image.Point{X: width, Y: height}, 0, 0, gocv.InterpolationLinear)

	shape := []int{1, height, width, 3}
	if c.layout == config.DataLayoutNCHW {
		shape = []int{1, 3, height, width}
	}
	imgTensors := tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(shape...))

	for y := range height {
		for x := range width {
			pixel := resizedImg.GetVecbAt(y, x)
			for z := range 3 {
				v := float32(pixel[z]) - c.ModelParams.PixelMeans[z]

				var err error
				if c.layout == config.DataLayoutNCHW {
					err = imgTensors.SetAt(v, 0, z, y, x)
				} else {
					err = imgTensors.SetAt(v, 0, y, x, z)
				}
				if err != nil {
					return nil, err
				}
			}
		}
	}
	return imgTensors, nil
}

func (c *SSDTritonClient) Infer(img gocv.Mat) ([]modules.HeadOutput, error) {
	imgTensors, err := c.preprocess(img)
	if err != nil {
		return nil, err
	}

	modelRequest := &triton_proto.ModelInferRequest{
		ModelName: c.ModelParams.ModelName,
	}

	inputShape := make([]int64, 0, imgTensors.Dims())
	for _, d := range imgTensors.Shape() {
		inputShape = append(inputShape, int64(d))
	}

	modelInputs := make([]*triton_proto.ModelInferRequest_InferInputTensor, 0)
	for _, inputCfg := range c.ModelConfig.Config.Input {
		modelInput := &triton_proto.ModelInferRequest_InferInputTensor{
			Name:     inputCfg.Name,
			Datatype: inputCfg.DataType.String()[5:],
			Shape:    inputShape,
			Contents: &triton_proto.InferTensorContents{
				Fp32Contents: imgTensors.Float32s(),
			},
		}
		modelInputs = append(modelInputs, modelInput)
	}

	modelRequest.Inputs = modelInputs
	inferResp, err := c.tritonClient.ModelGRPCInfer(c.ModelParams.Timeout, modelRequest)
	if err != nil {
		return nil, errors.Wrapf(err, "infer model %s", c.ModelParams.ModelName)
	}

	netOut := make(map[string]*tensor.Dense, len(inferResp.Outputs))
	for idx, out := range inferResp.Outputs {
		if idx >= len(inferResp.RawOutputContents) {
			return nil, errors.Errorf("output %s has no raw contents", out.Name)
		}
		outShape := make([]int, 0, len(out.Shape))
		for _, shape := range out.Shape {
			outShape = append(outShape, int(shape))
		}
		data := utils.BytesToT32[float32](inferResp.RawOutputContents[idx])
		if len(data) != tensor.Shape(outShape).TotalSize() {
			return nil, errors.Errorf("output %s: %d values for shape %v", out.Name, len(data), outShape)
		}
		netOut[out.Name] = tensor.New(
			tensor.Of(tensor.Float32),
			tensor.WithShape(outShape...),
			tensor.WithBacking(data),
		)
	}

	heads := make([]modules.HeadOutput, len(c.stageNames))
	for i, stage := range c.stageNames {
		loc, ok := netOut[c.ModelParams.LocOutputs[i]]
		if !ok {
			return nil, errors.Errorf("stage %s: missing output %s", stage, c.ModelParams.LocOutputs[i])
		}
		conf, ok := netOut[c.ModelParams.ConfOutputs[i]]
		if !ok {
			return nil, errors.Errorf("stage %s: missing output %s", stage, c.ModelParams.ConfOutputs[i])
		}
		heads[i] = modules.HeadOutput{
			Stage:       stage,
			Locations:   loc,
			Confidences: conf,
		}
	}

	return heads, nil
}
