// Package steps provides step definitions and dependency validation for the multi-step
// marketplace publish sequence.
package steps

import (
	"fmt"
	"time"
)

// Step names, in execution order
const (
	CreateDraft  = "create_draft"
	UploadImages = "upload_images"
	UploadFile   = "upload_file"
	Activate     = "activate"
)

// StepStatus is the outcome of one step
type StepStatus string

// StepStatus constants
const (
	StatusCompleted StepStatus = "completed"
	StatusSkipped   StepStatus = "skipped"
	StatusFailed    StepStatus = "failed"
)

// StepDefinition defines metadata for a publish step
type StepDefinition struct {
	Number       int
	Name         string
	Dependencies []string
}

// StepResult represents the result of executing a step
type StepResult struct {
	Step     string         `json:"step"`
	Number   int            `json:"number"`
	Status   StepStatus     `json:"status"`
	Duration int64          `json:"duration_ms"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MetadataKey is the run metadata key a step's result is recorded under
func (r StepResult) MetadataKey() string {
	return fmt.Sprintf("step_%d_%s", r.Number, r.Step)
}

// NewResult builds a result for def with the elapsed time since start
func NewResult(def StepDefinition, status StepStatus, start time.Time, err error) StepResult {
	r := StepResult{
		Step:     def.Name,
		Number:   def.Number,
		Status:   status,
		Duration: time.Since(start).Milliseconds(),
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// PublishSteps is the fixed publish sequence
var PublishSteps = []StepDefinition{
	{Number: 1, Name: CreateDraft, Dependencies: []string{}},
	{Number: 2, Name: UploadImages, Dependencies: []string{CreateDraft}},
	{Number: 3, Name: UploadFile, Dependencies: []string{CreateDraft}},
	{Number: 4, Name: Activate, Dependencies: []string{CreateDraft, UploadImages, UploadFile}},
}

// Lookup returns the definition of a named step
func Lookup(name string) (StepDefinition, bool) {
	for _, def := range PublishSteps {
		if def.Name == name {
			return def, true
		}
	}
	return StepDefinition{}, false
}

// DependencyError represents a dependency validation error
type DependencyError struct {
	Step                string
	MissingDependencies []string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("missing dependencies: %v", e.MissingDependencies)
}

// ValidateDependencies checks that every dependency of stepName has a completed or skipped result
func ValidateDependencies(stepName string, done map[string]StepStatus) error {
	def, ok := Lookup(stepName)
	if !ok {
		return fmt.Errorf("unknown step: %s", stepName)
	}

	var missing []string
	for _, dep := range def.Dependencies {
		status, ok := done[dep]
		if !ok || status == StatusFailed {
			missing = append(missing, dep)
		}
	}

	if len(missing) > 0 {
		return &DependencyError{
			Step:                stepName,
			MissingDependencies: missing,
		}
	}
	return nil
}
