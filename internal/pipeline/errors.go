package pipeline

import (
	"errors"
	"fmt"
)

// InferenceFailedError reports that one stage of the model failed. The gate
// has always been released by the time the caller sees it.
type InferenceFailedError struct {
	Stage Stage
	Err   error
}

func (e *InferenceFailedError) Error() string {
	return fmt.Sprintf("inference failed at %s: %v", e.Stage, e.Err)
}

func (e *InferenceFailedError) Unwrap() error { return e.Err }

// IsInferenceFailed reports whether err is a stage failure.
func IsInferenceFailed(err error) bool {
	var ie *InferenceFailedError
	return errors.As(err, &ie)
}

// FailedStage returns the stage of an inference failure, or "" if err is not one.
func FailedStage(err error) Stage {
	var ie *InferenceFailedError
	if errors.As(err, &ie) {
		return ie.Stage
	}
	return ""
}

// invalidPromptError signals malformed request input (400 mapping).
type invalidPromptError struct{ msg string }

func (e invalidPromptError) Error() string { return "invalid prompt: " + e.msg }

// ErrInvalidPrompt constructs an invalid prompt error.
func ErrInvalidPrompt(msg string) error { return invalidPromptError{msg: msg} }

// IsInvalidPrompt reports whether err indicates malformed points or target size.
func IsInvalidPrompt(err error) bool {
	var ip invalidPromptError
	return errors.As(err, &ip)
}

// dependencyUnavailableError signals the model runtime could not be reached or loaded.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing/failed model runtime.
func IsDependencyUnavailable(err error) bool {
	var de dependencyUnavailableError
	return errors.As(err, &de)
}
