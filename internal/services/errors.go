package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks missing or inconsistent source material. Fatal for
	// the whole task; sub-steps are not retried.
	ErrValidation = errors.New("validation error")
	// ErrProvider marks a failed generation call for a single unit.
	ErrProvider = errors.New("provider error")
	// ErrDownload marks an unreachable cached or generated artifact.
	ErrDownload = errors.New("download error")
	// ErrConcatenation marks a failed dedup filter graph. Recovered locally
	// via the stream-copy fallback.
	ErrConcatenation = errors.New("concatenation error")
	// ErrMixing marks a failed background-audio mix. Recovered locally by
	// keeping the un-mixed video.
	ErrMixing = errors.New("mixing error")
	// ErrUpload marks a failure storing the final artifact. Fatal.
	ErrUpload = errors.New("upload error")
	// ErrExternalTool marks a media-processor subprocess failure.
	ErrExternalTool = errors.New("external tool error")
	// ErrConfiguration marks invalid or missing configuration.
	ErrConfiguration = errors.New("configuration error")
	// ErrTimeout marks an operation that exceeded its deadline.
	ErrTimeout = errors.New("timeout")
	// ErrTransient marks failures with no better classification.
	ErrTransient = errors.New("transient failure")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Fatal reports whether an error should terminate the whole task rather than
// a single unit or a recoverable sub-step.
func Fatal(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrUpload) || errors.Is(err, ErrConfiguration)
}

// ErrorDetails carries the user-facing portion of a classified error.
type ErrorDetails struct {
	Message string
}

// Details extracts a human-readable message from a stage error, stripping the
// sentinel prefix so task rows and CLI output stay terse.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	msg := strings.TrimSpace(err.Error())
	for _, marker := range []error{
		ErrValidation, ErrProvider, ErrDownload, ErrConcatenation,
		ErrMixing, ErrUpload, ErrExternalTool, ErrConfiguration,
		ErrTimeout, ErrTransient,
	} {
		prefix := marker.Error() + ": "
		if strings.HasPrefix(msg, prefix) {
			msg = strings.TrimPrefix(msg, prefix)
			break
		}
	}
	return ErrorDetails{Message: msg}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
