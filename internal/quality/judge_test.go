package quality

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/storefront-agent/internal/llm"
	"github.com/jonathan/storefront-agent/internal/llm/llmtest"
	"github.com/jonathan/storefront-agent/internal/types"
)

func artifact() *types.Artifact {
	return &types.Artifact{
		Title:       "Weekly Meal Planner",
		Description: "Printable planner",
		Price:       4.99,
		Tags:        []string{"planner"},
		Sections: []types.Section{
			{Heading: "Monday", Items: []string{"Breakfast"}},
			{Heading: "Notes", Body: "Write here"},
		},
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name       string
		response   string
		wantPassed bool
		wantScores map[string]float64
	}{
		{
			name:       "pass",
			response:   `{"scores": {"completeness": 0.9, "clarity": 0.8, "listing": 0.7, "originality": 0.6}, "feedback": ""}`,
			wantPassed: true,
			wantScores: map[string]float64{"completeness": 0.9, "clarity": 0.8, "listing": 0.7, "originality": 0.6},
		},
		{
			name:       "mean below threshold",
			response:   `{"scores": {"completeness": 0.6, "clarity": 0.6, "listing": 0.6, "originality": 0.6}}`,
			wantPassed: false,
		},
		{
			name:       "one criterion below floor",
			response:   `{"scores": {"completeness": 1, "clarity": 1, "listing": 1, "originality": 0.3}}`,
			wantPassed: false,
		},
		{
			name:       "missing criterion counts as zero",
			response:   `{"scores": {"completeness": 1, "clarity": 1, "listing": 1}}`,
			wantPassed: false,
			wantScores: map[string]float64{"completeness": 1, "clarity": 1, "listing": 1, "originality": 0},
		},
		{
			name:       "out of range clamped",
			response:   "Sure:\n" + `{"scores": {"completeness": 1.5, "clarity": 0.9, "listing": 0.9, "originality": 0.9}}`,
			wantPassed: true,
			wantScores: map[string]float64{"completeness": 1, "clarity": 0.9, "listing": 0.9, "originality": 0.9},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &llmtest.MockClient{Responses: []string{tt.response}}

			result, err := NewJudge(client, nil).Evaluate(context.Background(), artifact())
			require.NoError(t, err)

			assert.Equal(t, tt.wantPassed, result.Passed)
			if tt.wantScores != nil {
				assert.Equal(t, tt.wantScores, result.Scores)
			}
			calls := client.Calls()
			require.Len(t, calls, 1)
			assert.Equal(t, llm.TierLite, calls[0].Tier)
			assert.Contains(t, calls[0].Prompt, "## Monday\n- Breakfast")
		})
	}
}

func TestEvaluate_StructuralFailureSkipsLLM(t *testing.T) {
	client := &llmtest.MockClient{}
	a := artifact()
	a.Sections[1].Body = ""

	result, err := NewJudge(client, nil).Evaluate(context.Background(), a)
	require.NoError(t, err)

	assert.False(t, result.Passed)
	assert.Equal(t, map[string]float64{StructureScore: 0}, result.Scores)
	assert.Contains(t, result.Feedback, `section "Notes" is empty`)
	assert.Empty(t, client.Calls())
}

func TestEvaluate_LLMError(t *testing.T) {
	client := &llmtest.MockClient{
		GenerateFunc: func(context.Context, llm.Request) (string, error) {
			return "", errors.New("unavailable")
		},
	}

	_, err := NewJudge(client, nil).Evaluate(context.Background(), artifact())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quality judgment failed")
}
