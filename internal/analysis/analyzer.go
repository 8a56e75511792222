// Package analysis turns research findings into ranked product opportunities.
package analysis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/storefront-agent/internal/llm"
	"github.com/jonathan/storefront-agent/internal/prompts"
	"github.com/jonathan/storefront-agent/internal/schemas"
	"github.com/jonathan/storefront-agent/internal/types"
)

const (
	// DefaultMaxItems caps the listings included in the prompt
	DefaultMaxItems = 80
	// DefaultMaxOpportunities caps the opportunities returned
	DefaultMaxOpportunities = 5
	// descriptionLimit truncates each listing description in the prompt
	descriptionLimit = 300
)

// Analyzer asks the LLM to find opportunities in competitor listings
type Analyzer struct {
	client           llm.Client
	logger           *zap.Logger
	MaxItems         int
	MaxOpportunities int
}

// NewAnalyzer creates an Analyzer
func NewAnalyzer(client llm.Client, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{
		client:           client,
		logger:           logger.Named("analysis"),
		MaxItems:         DefaultMaxItems,
		MaxOpportunities: DefaultMaxOpportunities,
	}
}

// Analyze returns the opportunities found in items. No items means no opportunities and no
// LLM call.
func (a *Analyzer) Analyze(ctx context.Context, items []types.MarketItem, categories []string) (*types.Analysis, error) {
	if len(items) == 0 {
		return &types.Analysis{Opportunities: []types.Opportunity{}, Summary: "no listings found"}, nil
	}

	prompt, err := prompts.Render("analysis.json", "analyze-opportunities", map[string]string{
		"Categories":       strings.Join(categories, ", "),
		"MaxOpportunities": strconv.Itoa(a.MaxOpportunities),
		"Listings":         formatItems(topItems(items, a.MaxItems)),
	})
	if err != nil {
		return nil, err
	}

	var analysis types.Analysis
	if err := llm.GenerateInto(ctx, a.client, llm.Request{Task: "analysis", Prompt: prompt, Tier: llm.TierStandard}, &analysis); err != nil {
		return nil, fmt.Errorf("opportunity analysis failed: %w", err)
	}
	for i := range analysis.Opportunities {
		opp := &analysis.Opportunities[i]
		opp.ID = uuid.NewString()
		opp.DemandScore = clamp(opp.DemandScore)
		opp.CompetitionScore = clamp(opp.CompetitionScore)
		if opp.Keywords == nil {
			opp.Keywords = []string{}
		}
	}
	if err := schemas.Validate(schemas.Analysis, analysis); err != nil {
		return nil, fmt.Errorf("opportunity analysis invalid: %w", err)
	}

	if len(analysis.Opportunities) > a.MaxOpportunities {
		analysis.Opportunities = analysis.Opportunities[:a.MaxOpportunities]
	}
	a.logger.Info("analysis_completed",
		zap.Int("items", len(items)),
		zap.Int("opportunities", len(analysis.Opportunities)))
	return &analysis, nil
}

// topItems returns up to n items, most favorited first
func topItems(items []types.MarketItem, n int) []types.MarketItem {
	sorted := append([]types.MarketItem(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Favorites != sorted[j].Favorites {
			return sorted[i].Favorites > sorted[j].Favorites
		}
		return sorted[i].Views > sorted[j].Views
	})
	if n > 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func formatItems(items []types.MarketItem) string {
	var sb strings.Builder
	for _, item := range items {
		desc := item.Description
		if len(desc) > descriptionLimit {
			desc = desc[:descriptionLimit] + "..."
		}
		fmt.Fprintf(&sb, "- [%s] %s | price %.2f %s | views %d | favorites %d",
			item.Category, item.Title, item.Price, item.Currency, item.Views, item.Favorites)
		if len(item.Tags) > 0 {
			fmt.Fprintf(&sb, " | tags: %s", strings.Join(item.Tags, ", "))
		}
		if desc != "" {
			fmt.Fprintf(&sb, "\n  %s", strings.ReplaceAll(desc, "\n", " "))
		}
		sb.WriteString("\n")
	}
	return sb.String()
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
