// Package ffmpeg builds and executes ffmpeg command lines for the
// composition pipeline: Ken Burns synthesis from still images, clip
// standardization, splice concatenation with optional head trimming,
// background music mixing, and subtitle burn-in.
//
// Argument construction is separated from execution so tests can verify
// the exact command lines without invoking ffmpeg.
package ffmpeg

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"montage/internal/logging"
	"montage/internal/services"
)

// Runner executes an external command and returns its combined output.
// The default implementation shells out; tests substitute a recorder.
type Runner interface {
	Run(ctx context.Context, binary string, args []string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, binary string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	return cmd.CombinedOutput()
}

// RenderSettings carries the encoding parameters shared by all toolkit
// operations for one task.
type RenderSettings struct {
	Width      int
	Height     int
	FPS        int
	VideoCodec string
	AudioCodec string
}

// Toolkit wraps the ffmpeg binary with the pipeline's operations.
type Toolkit struct {
	binary   string
	settings RenderSettings
	runner   Runner
	logger   *slog.Logger
}

// Option customizes a Toolkit.
type Option func(*Toolkit)

// WithRunner substitutes the command runner. Tests use this to capture
// argument lists instead of executing ffmpeg.
func WithRunner(r Runner) Option {
	return func(t *Toolkit) { t.runner = r }
}

// WithLogger attaches a logger for command tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Toolkit) { t.logger = logger }
}

// NewToolkit builds a Toolkit for the given binary and render settings.
func NewToolkit(binary string, settings RenderSettings, opts ...Option) *Toolkit {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	t := &Toolkit{
		binary:   binary,
		settings: settings,
		runner:   execRunner{},
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Settings returns the toolkit's render settings.
func (t *Toolkit) Settings() RenderSettings {
	return t.settings
}

func (t *Toolkit) run(ctx context.Context, operation string, args []string) error {
	t.logger.Debug("running ffmpeg",
		logging.String("operation", operation),
		logging.String("args", strings.Join(args, " ")))

	output, err := t.runner.Run(ctx, t.binary, args)
	if err != nil {
		detail := tailLines(string(output), 12)
		if ctx.Err() != nil {
			return services.Wrap(services.ErrTimeout, "ffmpeg", operation,
				fmt.Sprintf("cancelled: %s", detail), ctx.Err())
		}
		return services.Wrap(services.ErrExternalTool, "ffmpeg", operation, detail, err)
	}
	return nil
}

// tailLines keeps the last n lines of ffmpeg output. Errors are reported
// at the end of the stream and the full log can run to megabytes.
func tailLines(output string, n int) string {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return "no output"
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
