package service

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidState    = errors.New("invalid state")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrLimitExceeded   = errors.New("limit exceeded")
	ErrRenderFailure   = errors.New("render failure")
)

// LimitExceededError carries the computed combination count so the operator
// can narrow the key columns
type LimitExceededError struct {
	Estimated int64
	Limit     int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("estimated %d combinations exceeds the limit of %d", e.Estimated, e.Limit)
}

func (e *LimitExceededError) Is(target error) bool {
	return target == ErrLimitExceeded
}

// RenderError reports a template that failed to compile or evaluate
type RenderError struct {
	Field string
	Err   error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("%s template: %v", e.Field, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

func (e *RenderError) Is(target error) bool {
	return target == ErrRenderFailure
}

func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
	}
	return fmt.Errorf("failed to load %s: %w", fmt.Sprintf(format, args...), err)
}
