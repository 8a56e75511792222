package steps

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSteps(t *testing.T) {
	expected := []string{CreateDraft, UploadImages, UploadFile, Activate}

	require.Len(t, PublishSteps, len(expected))
	for i, name := range expected {
		def, ok := Lookup(name)
		require.True(t, ok, "Step %s should be in registry", name)
		assert.Equal(t, i+1, def.Number)
		assert.Equal(t, PublishSteps[i], def)
	}

	_, ok := Lookup("unknown")
	assert.False(t, ok)
}

func TestValidateDependencies(t *testing.T) {
	assert.NoError(t, ValidateDependencies(CreateDraft, nil))

	err := ValidateDependencies(UploadImages, map[string]StepStatus{})
	var depErr *DependencyError
	require.True(t, errors.As(err, &depErr))
	assert.Equal(t, []string{CreateDraft}, depErr.MissingDependencies)

	assert.NoError(t, ValidateDependencies(UploadImages, map[string]StepStatus{CreateDraft: StatusSkipped}))

	err = ValidateDependencies(Activate, map[string]StepStatus{
		CreateDraft:  StatusCompleted,
		UploadImages: StatusFailed,
		UploadFile:   StatusCompleted,
	})
	require.True(t, errors.As(err, &depErr))
	assert.Equal(t, []string{UploadImages}, depErr.MissingDependencies)

	assert.Error(t, ValidateDependencies("nope", nil))
}

func TestDependencyError(t *testing.T) {
	err := &DependencyError{
		Step:                "test_step",
		MissingDependencies: []string{"dep1", "dep2"},
	}

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "missing dependencies")
	assert.Equal(t, "test_step", err.Step)
}

func TestStepResult(t *testing.T) {
	def, _ := Lookup(UploadFile)
	r := NewResult(def, StatusFailed, time.Now(), errors.New("download failed"))
	assert.Equal(t, "step_3_upload_file", r.MetadataKey())
	assert.Equal(t, "download failed", r.Error)
	assert.GreaterOrEqual(t, r.Duration, int64(0))
}
