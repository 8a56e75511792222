// Package quality scores generated artifacts before they are offered for review.
package quality

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jonathan/storefront-agent/internal/llm"
	"github.com/jonathan/storefront-agent/internal/prompts"
	"github.com/jonathan/storefront-agent/internal/schemas"
	"github.com/jonathan/storefront-agent/internal/types"
)

// Criteria are the scores the judge must return
var Criteria = []string{"completeness", "clarity", "listing", "originality"}

// StructureScore is the score key set when the structural check fails
const StructureScore = "structure"

const (
	// DefaultThreshold is the minimum mean score to pass
	DefaultThreshold = 0.7
	// DefaultFloor is the minimum score any single criterion may have
	DefaultFloor = 0.4
)

// Judge combines a structural check with LLM scoring
type Judge struct {
	client    llm.Client
	logger    *zap.Logger
	Threshold float64
	Floor     float64
}

// NewJudge creates a Judge with the default thresholds
func NewJudge(client llm.Client, logger *zap.Logger) *Judge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Judge{
		client:    client,
		logger:    logger.Named("quality"),
		Threshold: DefaultThreshold,
		Floor:     DefaultFloor,
	}
}

type verdict struct {
	Scores   map[string]float64 `json:"scores"`
	Feedback string             `json:"feedback"`
}

// Evaluate scores the artifact. Structurally incomplete artifacts fail without an LLM call.
func (j *Judge) Evaluate(ctx context.Context, artifact *types.Artifact) (*types.QualityResult, error) {
	if problems := structuralProblems(artifact); len(problems) > 0 {
		j.logger.Info("quality_structure_failed", zap.Strings("problems", problems))
		return &types.QualityResult{
			Passed:   false,
			Scores:   map[string]float64{StructureScore: 0},
			Feedback: strings.Join(problems, "; "),
		}, nil
	}

	prompt, err := prompts.Render("quality.json", "judge-product", map[string]string{
		"Product": FormatArtifact(artifact),
	})
	if err != nil {
		return nil, err
	}

	var v verdict
	if err := llm.GenerateInto(ctx, j.client, llm.Request{Task: "judge", Prompt: prompt, Tier: llm.TierLite}, &v); err != nil {
		return nil, fmt.Errorf("quality judgment failed: %w", err)
	}

	scores := make(map[string]float64, len(Criteria))
	for _, c := range Criteria {
		scores[c] = clamp(v.Scores[c])
	}
	if err := schemas.Validate(schemas.Quality, map[string]any{"scores": scores, "feedback": v.Feedback}); err != nil {
		return nil, fmt.Errorf("quality judgment invalid: %w", err)
	}

	result := &types.QualityResult{
		Passed:   j.passes(scores),
		Scores:   scores,
		Feedback: v.Feedback,
	}
	j.logger.Info("quality_evaluated",
		zap.Bool("passed", result.Passed),
		zap.Float64("mean", mean(scores)))
	return result, nil
}

func (j *Judge) passes(scores map[string]float64) bool {
	for _, s := range scores {
		if s < j.Floor {
			return false
		}
	}
	return mean(scores) >= j.Threshold
}

func structuralProblems(a *types.Artifact) []string {
	var problems []string
	if strings.TrimSpace(a.Title) == "" {
		problems = append(problems, "missing title")
	}
	if strings.TrimSpace(a.Description) == "" {
		problems = append(problems, "missing description")
	}
	if len(a.Sections) == 0 {
		problems = append(problems, "no sections")
	}
	for _, s := range a.Sections {
		if strings.TrimSpace(s.Body) == "" && len(s.Items) == 0 {
			problems = append(problems, fmt.Sprintf("section %q is empty", s.Heading))
		}
	}
	return problems
}

// FormatArtifact renders an artifact as plain text for prompts
func FormatArtifact(a *types.Artifact) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Title: %s\nPrice: %.2f\nTags: %s\n\nDescription:\n%s\n", a.Title, a.Price, strings.Join(a.Tags, ", "), a.Description)
	for _, s := range a.Sections {
		fmt.Fprintf(&sb, "\n## %s\n", s.Heading)
		if s.Body != "" {
			sb.WriteString(s.Body)
			sb.WriteString("\n")
		}
		for _, item := range s.Items {
			fmt.Fprintf(&sb, "- %s\n", item)
		}
	}
	return sb.String()
}

func mean(scores map[string]float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
