package main

import (
	"flag"
	"os"

	ssdpipeline "github.com/okieraised/go-ssd-pipeline"
	"github.com/okieraised/go-ssd-pipeline/config"
	"github.com/okieraised/go-ssd-pipeline/triton"
	"github.com/okieraised/go-ssd-pipeline/utils"
	gotritonclient "github.com/okieraised/go-triton-client"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

type options struct {
	configPath    string
	debug         bool
	dumpConfig    bool
	tritonURL     string
	imagePath     string
	confThreshold float64
	nmsThreshold  float64
	topK          int
}

func parseFlags() *options {
	opts := &options{}
	def := config.DefaultDetectionOutputParams

	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&opts.configPath, "file", "", "architecture configuration file, SSD300 when empty")
	fs.BoolVar(&opts.debug, "debug", false, "enable debug logging")
	fs.BoolVar(&opts.dumpConfig, "dump-config", false, "print the effective configuration as YAML and exit")
	fs.StringVar(&opts.tritonURL, "triton-url", "", "Triton gRPC endpoint, priors only when empty")
	fs.StringVar(&opts.imagePath, "image", "", "image to run detection on")
	fs.Float64Var(&opts.confThreshold, "conf-threshold", float64(def.ConfidenceThreshold), "minimum class confidence")
	fs.Float64Var(&opts.nmsThreshold, "nms-threshold", float64(def.NMSThreshold), "IoU above which boxes are suppressed")
	fs.IntVar(&opts.topK, "top-k", def.TopK, "maximum number of detections")
	_ = fs.Parse(os.Args[1:])

	return opts
}

func loadParams(path string) (*config.SSDParams, error) {
	if path == "" {
		return config.DefaultSSD300Params.Clone(), nil
	}
	return config.LoadSSDParams(path)
}

func loadTritonParams(path string, params *config.SSDParams) (*config.TritonSSDParams, error) {
	if path == "" {
		return config.DefaultTritonSSDParams, nil
	}
	return config.LoadTritonSSDParams(path, params)
}

func main() {
	opts := parseFlags()

	logger := newLogger(opts.debug)
	defer func() { _ = logger.Sync() }()

	if err := run(opts, logger); err != nil {
		logger.Error("ssd pipeline failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(opts *options, logger *zap.Logger) error {
	params, err := loadParams(opts.configPath)
	if err != nil {
		return err
	}

	if opts.dumpConfig {
		b, err := config.MarshalSSDParams(params)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(b)
		return err
	}

	pipeline, err := ssdpipeline.NewSSDPipeline(params)
	if err != nil {
		return errors.Wrap(err, "build pipeline")
	}

	for i, n := range pipeline.BoxCounts() {
		stage := params.Stages[i]
		logger.Debug("stage priors",
			zap.String("stage", stage.Name),
			zap.Int("width", stage.Width),
			zap.Int("height", stage.Height),
			zap.Float64("min_size", stage.MinSize),
			zap.Float64("max_size", utils.DerefPointer(stage.MaxSize)),
			zap.Float64s("aspect_ratios", stage.AspectRatios),
			zap.Int("boxes", n),
		)
	}
	logger.Info("priors generated",
		zap.Int("stages", len(params.Stages)),
		zap.Int("boxes", pipeline.TotalBoxes()),
		zap.Ints("image_size", params.ImageSize[:]),
	)

	if opts.tritonURL == "" {
		return nil
	}
	if opts.imagePath == "" {
		return errors.New("-image is required with -triton-url")
	}

	tritonParams, err := loadTritonParams(opts.configPath, params)
	if err != nil {
		return err
	}

	tritonClient, err := gotritonclient.NewTritonGRPCClient(
		opts.tritonURL,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{PermitWithoutStream: true}),
	)
	if err != nil {
		return errors.Wrapf(err, "connect to %s", opts.tritonURL)
	}

	ssdClient, err := triton.NewSSDTritonClient(tritonClient, tritonParams, params)
	if err != nil {
		return err
	}

	content, err := os.ReadFile(opts.imagePath)
	if err != nil {
		return errors.Wrapf(err, "read %s", opts.imagePath)
	}
	img, err := triton.ImageToOpenCV(content)
	if err != nil {
		return err
	}
	defer img.Close()

	heads, err := ssdClient.Infer(*img)
	if err != nil {
		return err
	}

	detections, err := pipeline.Detect(heads, config.NewDetectionOutputParams(
		float32(opts.confThreshold),
		float32(opts.nmsThreshold),
		opts.topK,
		config.DefaultDetectionOutputParams.BackgroundLabel,
	))
	if err != nil {
		return errors.Wrap(err, "detect")
	}

	for _, d := range detections {
		logger.Info("detection",
			zap.Int("class", d.Class),
			zap.Float32("score", d.Score),
			zap.Float32s("box", d.Box[:]),
		)
	}
	logger.Info("detection finished", zap.Int("count", len(detections)), zap.String("image", opts.imagePath))

	return nil
}
