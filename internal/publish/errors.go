package publish

import (
	"errors"
	"fmt"
)

// ErrMissingFields is returned by the prerequisite check before any remote call
var ErrMissingFields = errors.New("missing fields")

// ErrNotPublishable is returned when the entity's status does not allow a publish attempt
var ErrNotPublishable = errors.New("entity is not in a publishable status")

// ErrAllUploadsFailed is returned by the image step when no image could be uploaded
var ErrAllUploadsFailed = errors.New("all uploads failed")

// StepError tags a publish failure with the step that caused it
type StepError struct {
	Step int
	Name string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("publish Step %d (%s) failed: %v", e.Step, e.Name, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
