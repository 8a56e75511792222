// Package generation produces product artifacts for opportunities with the LLM.
package generation

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

const (
	maxSections   = 8
	maxTags       = 13
	maxTagLength  = 20
	maxTitleChars = 140
)

// Progress checkpoints reported during a generation
const (
	progressStarted  = 5
	progressOutlined = 15
	progressWritten  = 95
)

// Generator writes an outline and then each section of the product
type Generator struct {
	client llm.Client
	logger *zap.Logger
}

// NewGenerator creates a Generator
func NewGenerator(client llm.Client, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{client: client, logger: logger.Named("generation")}
}

type outline struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Price       float64  `json:"price"`
	Tags        []string `json:"tags"`
	ImageURLs   []string `json:"image_urls"`
	Sections    []struct {
		Heading string `json:"heading"`
	} `json:"sections"`
}

type sectionContent struct {
	Body  string   `json:"body"`
	Items []string `json:"items"`
}

// Generate builds the artifact for opp. attempt starts at 1; later attempts ask for a more
// complete product.
func (g *Generator) Generate(ctx context.Context, opp types.Opportunity, attempt int, progress func(percent int)) (*types.Artifact, error) {
	report := func(p int) {
		if progress != nil {
			progress(p)
		}
	}
	report(progressStarted)

	feedback := ""
	if attempt > 1 {
		feedback = fmt.Sprintf("\nThis is attempt %d. A previous version failed review: make every section complete and specific.\n", attempt)
	}
	prompt, err := prompts.Render("generation.json", "outline-product", map[string]string{
		"Title":     opp.Title,
		"Niche":     opp.Niche,
		"Rationale": opp.Rationale,
		"Keywords":  strings.Join(opp.Keywords, ", "),
		"Price":     fmt.Sprintf("%.2f", opp.SuggestedPrice),
		"Feedback":  feedback,
	})
	if err != nil {
		return nil, err
	}

	var out outline
	if err := llm.GenerateInto(ctx, g.client, llm.Request{Task: "outline", Prompt: prompt, Tier: llm.TierStandard}, &out); err != nil {
		return nil, fmt.Errorf("outline generation failed: %w", err)
	}
	if len(out.Sections) == 0 {
		return nil, fmt.Errorf("outline generation failed: no sections")
	}
	if len(out.Sections) > maxSections {
		out.Sections = out.Sections[:maxSections]
	}
	report(progressOutlined)

	headings := make([]string, len(out.Sections))
	for i, s := range out.Sections {
		headings[i] = s.Heading
	}

	artifact := &types.Artifact{
		Title:       truncate(strings.TrimSpace(out.Title), maxTitleChars),
		Description: strings.TrimSpace(out.Description),
		Price:       out.Price,
		Tags:        normalizeTags(append(out.Tags, opp.Keywords...)),
		ImageURLs:   out.ImageURLs,
		Sections:    make([]types.Section, 0, len(headings)),
	}
	if artifact.Price <= 0 {
		artifact.Price = opp.SuggestedPrice
	}

	for i, heading := range headings {
		prompt, err := prompts.Render("generation.json", "write-section", map[string]string{
			"Title":   artifact.Title,
			"Niche":   opp.Niche,
			"Heading": heading,
			"Outline": strings.Join(headings, ", "),
		})
		if err != nil {
			return nil, err
		}
		var content sectionContent
		if err := llm.GenerateInto(ctx, g.client, llm.Request{Task: "section", Prompt: prompt, Tier: llm.TierAdvanced}, &content); err != nil {
			return nil, fmt.Errorf("section %q generation failed: %w", heading, err)
		}
		artifact.Sections = append(artifact.Sections, types.Section{
			Heading: heading,
			Body:    content.Body,
			Items:   content.Items,
		})
		report(progressOutlined + (progressWritten-progressOutlined)*(i+1)/len(headings))
	}

	if err := schemas.Validate(schemas.Artifact, artifact); err != nil {
		return nil, fmt.Errorf("generated artifact invalid: %w", err)
	}

	g.logger.Info("artifact_generated",
		zap.String("opportunity_id", opp.ID),
		zap.Int("attempt", attempt),
		zap.Int("sections", len(artifact.Sections)))
	return artifact, nil
}

// normalizeTags lowercases, dedupes and drops tags the marketplace would reject
func normalizeTags(tags []string) []string {
	out := make([]string, 0, maxTags)
	seen := make(map[string]bool)
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || len(tag) > maxTagLength || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
		if len(out) == maxTags {
			break
		}
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
