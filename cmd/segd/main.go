package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"segd/internal/inference"
	"segd/internal/pipeline"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "segd",
		Short:         "Point-prompted segmentation over a live frame stream",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("log-level", envStr("SEGD_LOG_LEVEL", "info"), "Log level: debug|info|warn|error")
	root.PersistentFlags().String("log-format", envStr("SEGD_LOG_FORMAT", "console"), "Log format: console|json")
	root.AddCommand(newServeCmd(), newSegmentCmd())
	return root
}

// newLogger builds the process logger. Unknown levels fall back to info.
func newLogger(level, format string, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// newService picks the remote model server when a URL is configured and the
// built-in reference model otherwise.
func newService(remoteURL, apiKey string, timeout time.Duration) pipeline.InferenceService {
	if remoteURL != "" {
		return inference.NewRemote(remoteURL, apiKey, timeout, 5*time.Second)
	}
	return inference.NewReference(inference.ReferenceOptions{})
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// splitCSV splits a comma-separated list, trimming blanks.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
