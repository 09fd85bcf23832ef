package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"segd/internal/frames"
	"segd/internal/pipeline"
	"segd/internal/present"
)

type segmentOptions struct {
	Input         string
	Points        []string
	Out           string
	EncoderSize   int
	RemoteURL     string
	RemoteAPIKey  string
	RemoteTimeout time.Duration
	StageTimeout  time.Duration
	NoProgress    bool
}

func newSegmentCmd() *cobra.Command {
	opts := segmentOptions{}
	cmd := &cobra.Command{
		Use:     "segment",
		Short:   "Segment an image or every image in a directory and export the masks",
		Example: "  segd segment --input photo.jpg --point 0.5,0.5\n  segd segment --input ./photos --point 0.4,0.5 --point 0.1,0.1,bg --out ./masks",
		RunE: func(cmd *cobra.Command, args []string) error {
			level, _ := cmd.Flags().GetString("log-level")
			format, _ := cmd.Flags().GetString("log-format")
			log := newLogger(level, format, os.Stderr)
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			var bar io.Writer = os.Stderr
			if opts.NoProgress {
				bar = io.Discard
			}
			paths, err := runSegment(ctx, opts, log, bar)
			if err != nil {
				return err
			}
			for _, p := range paths {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.Input, "input", "", "Image file or directory of images")
	f.StringArrayVar(&opts.Points, "point", nil, "Prompt point x,y[,fg|bg] in [0,1] (repeatable)")
	f.StringVar(&opts.Out, "out", envStr("SEGD_EXPORT_DIR", "Segmentations"), "Output directory for segmentation_<n>.png")
	f.IntVar(&opts.EncoderSize, "encoder-size", pipeline.DefaultEncoderSize, "Square encoder input size in pixels")
	f.StringVar(&opts.RemoteURL, "remote-url", os.Getenv("SEGD_REMOTE_URL"), "Model server base URL; empty uses the built-in reference model")
	f.StringVar(&opts.RemoteAPIKey, "remote-api-key", os.Getenv("SEGD_REMOTE_API_KEY"), "Bearer token for the model server")
	f.DurationVar(&opts.RemoteTimeout, "remote-timeout", 10*time.Second, "Per-call model server timeout")
	f.DurationVar(&opts.StageTimeout, "stage-timeout", 0, "Per-stage inference timeout (0 disables)")
	f.BoolVar(&opts.NoProgress, "no-progress", false, "Disable the progress bar")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("point")
	return cmd
}

// runSegment pushes each input image through the coordinator in order and
// exports the masks. Images without a mask leave a gap in the numbering.
func runSegment(ctx context.Context, opts segmentOptions, log zerolog.Logger, progress io.Writer) ([]string, error) {
	points, err := parsePoints(opts.Points)
	if err != nil {
		return nil, err
	}
	inputs, err := inputImages(opts.Input)
	if err != nil {
		return nil, err
	}

	coord := pipeline.NewWithConfig(pipeline.Config{
		Service:      newService(opts.RemoteURL, opts.RemoteAPIKey, opts.RemoteTimeout),
		EncoderSize:  opts.EncoderSize,
		StageTimeout: opts.StageTimeout,
	})
	coord.SetLogger(log)
	if err := coord.LoadModel(ctx); err != nil {
		return nil, err
	}

	bar := progressbar.NewOptions(len(inputs),
		progressbar.OptionSetDescription("segmenting"),
		progressbar.OptionSetWriter(progress),
		progressbar.OptionShowCount(),
	)
	results := make([]*pipeline.SegmentationResult, len(inputs))
	for i, path := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := frames.LoadFile(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("skipping image")
			_ = bar.Add(1)
			continue
		}
		coord.UpdateFrame(f)
		res, reason, err := coord.Segment(ctx, points, pipeline.Size{Width: f.Width, Height: f.Height})
		switch {
		case err != nil:
			log.Warn().Err(err).Str("path", path).Str("stage", string(pipeline.FailedStage(err))).Msg("segmentation failed")
		case res == nil:
			log.Info().Str("path", path).Str("reason", reason).Msg("no mask")
		default:
			results[i] = res
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	return present.ExportMasks(opts.Out, results)
}

// inputImages returns path itself for a file, or the images inside a directory.
func inputImages(path string) ([]string, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return []string{path}, nil
	}
	paths, err := frames.ListImages(path)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no images in %s", path)
	}
	return paths, nil
}
