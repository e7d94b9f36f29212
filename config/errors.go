package config

import (
	"fmt"

	"github.com/pkg/errors"
)

// ConfigurationError reports an invalid stage descriptor or architecture setting.
// It is raised when the configuration is built and is never recovered from.
type ConfigurationError struct {
	Field   string
	Message string
}

func NewConfigurationError(field, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid configuration: %s", e.Message)
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Message)
}

// ShapeMismatchError reports a tensor whose shape disagrees with the box count
// derived from the configuration of its stage.
type ShapeMismatchError struct {
	Stage    string
	Tensor   string
	Expected []int
	Got      []int
}

func NewShapeMismatchError(stage, tensorName string, expected, got []int) *ShapeMismatchError {
	return &ShapeMismatchError{
		Stage:    stage,
		Tensor:   tensorName,
		Expected: append([]int(nil), expected...),
		Got:      append([]int(nil), got...),
	}
}

func (e *ShapeMismatchError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("shape mismatch: %s expected %v, got %v", e.Tensor, e.Expected, e.Got)
	}
	return fmt.Sprintf("shape mismatch in stage %q: %s expected %v, got %v", e.Stage, e.Tensor, e.Expected, e.Got)
}

// IsConfigurationError reports whether err, or any error it wraps, is a *ConfigurationError.
func IsConfigurationError(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// IsShapeMismatchError reports whether err, or any error it wraps, is a *ShapeMismatchError.
func IsShapeMismatchError(err error) bool {
	var target *ShapeMismatchError
	return errors.As(err, &target)
}
