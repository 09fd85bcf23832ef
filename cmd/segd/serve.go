package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"segd/internal/config"
	"segd/internal/frames"
	"segd/internal/httpapi"
	"segd/internal/pipeline"
	"segd/internal/present"
)

func newServeCmd() *cobra.Command {
	d := config.Defaults()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the segmentation HTTP daemon",
		Example: "  segd serve --frames-dir ./photos --auto-interval 500ms --auto-point 0.5,0.5\n" +
			"  segd serve --config segd.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd.Flags())
			if err != nil {
				return err
			}
			log := newLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
	f := cmd.Flags()
	f.String("config", os.Getenv("SEGD_CONFIG"), "Config file (.yaml, .json, .toml)")
	f.String("addr", d.Addr, "HTTP listen address (SEGD_ADDR)")
	f.String("frames-dir", "", "Replay images from this directory as the camera stream (SEGD_FRAMES_DIR)")
	f.Duration("frame-interval", ms(d.FrameIntervalMs), "Interval between replayed frames")
	f.Int("encoder-size", d.EncoderSize, "Square encoder input size in pixels")
	f.Duration("stage-timeout", 0, "Per-stage inference timeout (0 disables)")
	f.Duration("segment-timeout", 0, "Timeout for a whole /segment request (0 disables)")
	f.String("remote-url", "", "Model server base URL; empty uses the built-in reference model (SEGD_REMOTE_URL)")
	f.Duration("remote-timeout", ms(d.RemoteTimeoutMs), "Per-call model server timeout")
	f.Duration("auto-interval", 0, "Segment the latest frame at this interval (0 disables)")
	f.StringArray("auto-point", nil, "Prompt point for timed segmentation, x,y[,fg|bg] (repeatable)")
	f.Bool("cors", false, "Enable CORS")
	f.String("cors-origins", "*", "Comma-separated allowed CORS origins")
	f.String("cors-methods", "GET,POST,PUT,OPTIONS", "Comma-separated allowed CORS methods")
	f.String("cors-headers", "Content-Type,X-Log-Level", "Comma-separated allowed CORS headers")
	f.String("http-log-level", d.HTTPLogLevel, "Per-request log level: off|error|info|debug")
	f.String("export-dir", d.ExportDir, "Directory POST /display/export writes masks to (SEGD_EXPORT_DIR)")
	f.Int64("max-frame-pixels", d.MaxFramePixels, "Largest accepted frame, in pixels")
	return cmd
}

// resolveConfig layers configuration: explicit flags, then the config file,
// then SEGD_* environment variables, then built-in defaults.
func resolveConfig(fs *pflag.FlagSet) (config.Config, error) {
	var cfg config.Config
	if path, _ := fs.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	applyEnv(&cfg)
	cfg = cfg.WithDefaults()
	applyFlags(&cfg, fs)
	return cfg.ExpandPaths()
}

func applyEnv(cfg *config.Config) {
	setStr := func(dst *string, key string) {
		if *dst == "" {
			*dst = os.Getenv(key)
		}
	}
	setStr(&cfg.Addr, "SEGD_ADDR")
	setStr(&cfg.FramesDir, "SEGD_FRAMES_DIR")
	setStr(&cfg.RemoteURL, "SEGD_REMOTE_URL")
	setStr(&cfg.RemoteAPIKey, "SEGD_REMOTE_API_KEY")
	setStr(&cfg.LogLevel, "SEGD_LOG_LEVEL")
	setStr(&cfg.LogFormat, "SEGD_LOG_FORMAT")
	setStr(&cfg.ExportDir, "SEGD_EXPORT_DIR")
	if cfg.EncoderSize == 0 {
		if n, err := strconv.Atoi(os.Getenv("SEGD_ENCODER_SIZE")); err == nil {
			cfg.EncoderSize = n
		}
	}
}

func applyFlags(cfg *config.Config, fs *pflag.FlagSet) {
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Addr = f.Value.String()
		case "frames-dir":
			cfg.FramesDir = f.Value.String()
		case "frame-interval":
			cfg.FrameIntervalMs = durMs(fs, f.Name)
		case "encoder-size":
			cfg.EncoderSize, _ = fs.GetInt(f.Name)
		case "stage-timeout":
			cfg.StageTimeoutMs = durMs(fs, f.Name)
		case "segment-timeout":
			cfg.SegmentTimeoutMs = durMs(fs, f.Name)
		case "remote-url":
			cfg.RemoteURL = f.Value.String()
		case "remote-timeout":
			cfg.RemoteTimeoutMs = durMs(fs, f.Name)
		case "auto-interval":
			cfg.AutoSegmentMs = durMs(fs, f.Name)
		case "auto-point":
			cfg.AutoPoints, _ = fs.GetStringArray(f.Name)
		case "cors":
			cfg.CORSEnabled, _ = fs.GetBool(f.Name)
		case "cors-origins":
			cfg.CORSAllowedOrigins = splitCSV(f.Value.String())
		case "cors-methods":
			cfg.CORSAllowedMethods = splitCSV(f.Value.String())
		case "cors-headers":
			cfg.CORSAllowedHeaders = splitCSV(f.Value.String())
		case "http-log-level":
			cfg.HTTPLogLevel = f.Value.String()
		case "export-dir":
			cfg.ExportDir = f.Value.String()
		case "max-frame-pixels":
			cfg.MaxFramePixels, _ = fs.GetInt64(f.Name)
		}
	})
	// log flags are persistent and may come from the root command
	if f := fs.Lookup("log-level"); f != nil && (f.Changed || cfg.LogLevel == "") {
		cfg.LogLevel = f.Value.String()
	}
	if f := fs.Lookup("log-format"); f != nil && (f.Changed || cfg.LogFormat == "") {
		cfg.LogFormat = f.Value.String()
	}
	if cfg.CORSEnabled {
		for name, dst := range map[string]*[]string{
			"cors-origins": &cfg.CORSAllowedOrigins,
			"cors-methods": &cfg.CORSAllowedMethods,
			"cors-headers": &cfg.CORSAllowedHeaders,
		} {
			if len(*dst) == 0 {
				if f := fs.Lookup(name); f != nil {
					*dst = splitCSV(f.DefValue)
				}
			}
		}
	}
}

func durMs(fs *pflag.FlagSet, name string) int {
	d, _ := fs.GetDuration(name)
	return int(d / time.Millisecond)
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// serve runs the daemon until ctx is canceled.
func serve(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	autoPoints, err := parsePoints(cfg.AutoPoints)
	if err != nil {
		return err
	}

	store := present.NewStore(cfg.History)
	coord := pipeline.NewWithConfig(pipeline.Config{
		Service:      newService(cfg.RemoteURL, cfg.RemoteAPIKey, ms(cfg.RemoteTimeoutMs)),
		EncoderSize:  cfg.EncoderSize,
		StageTimeout: ms(cfg.StageTimeoutMs),
	})
	coord.SetLogger(log)
	coord.SetPresenter(store)

	httpapi.SetLogger(log)
	httpapi.SetDefaultLogLevel(cfg.HTTPLogLevel)
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetMaxFrameBytes(cfg.MaxFrameBytes)
	httpapi.SetMaxFramePixels(cfg.MaxFramePixels)
	httpapi.SetExportDir(cfg.ExportDir)
	httpapi.SetSegmentTimeout(ms(cfg.SegmentTimeoutMs))
	httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSAllowedOrigins, cfg.CORSAllowedMethods, cfg.CORSAllowedHeaders)
	httpapi.SetBaseContext(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(coord, store),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := coord.LoadModel(ctx); err != nil {
			log.Error().Err(err).Msg("model load failed; segmentation requests will be dropped")
			return
		}
		log.Info().Msg("model ready")
	}()
	if cfg.FramesDir != "" {
		src := &frames.DirSource{Dir: cfg.FramesDir, Interval: ms(cfg.FrameIntervalMs), Log: log}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := src.Run(ctx, coord); err != nil {
				log.Error().Err(err).Msg("frame source stopped")
			}
		}()
	}
	if cfg.AutoSegmentMs > 0 && len(autoPoints) > 0 {
		tr := &frames.Trigger{Interval: ms(cfg.AutoSegmentMs), Points: autoPoints, Log: log}
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Run(ctx, coord)
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("frames_dir", cfg.FramesDir).Bool("remote", cfg.RemoteURL != "").Msg("segd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	wg.Wait()
	log.Info().Msg("segd stopped")
	return nil
}
