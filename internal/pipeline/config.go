package pipeline

import "time"

// Defaults applied when corresponding Config fields are unset.
const (
	DefaultEncoderSize = 1024
	DefaultTitle       = "Camera Segmentation"
)

// Config encapsulates all tunables for Coordinator construction.
type Config struct {
	Service InferenceService
	// EncoderSize is the square input edge of the image encoder.
	EncoderSize int
	// Title labels every result produced by this coordinator.
	Title string
	// StageTimeout bounds each stage call; zero disables it.
	StageTimeout time.Duration
	// ModelReady marks the model ready at construction, for services without a Loader.
	ModelReady bool
}

// NewWithConfig constructs a Coordinator from Config.
func NewWithConfig(cfg Config) *Coordinator {
	c := &Coordinator{
		svc:          cfg.Service,
		encoderSize:  cfg.EncoderSize,
		title:        cfg.Title,
		stageTimeout: cfg.StageTimeout,
		presenter:    noopPresenter{},
	}
	if c.encoderSize <= 0 {
		c.encoderSize = DefaultEncoderSize
	}
	if c.title == "" {
		c.title = DefaultTitle
	}
	if c.stageTimeout < 0 {
		c.stageTimeout = 0
	}
	c.log = nopLogger()
	if cfg.ModelReady {
		c.st.setModelReady(true)
	}
	return c
}
