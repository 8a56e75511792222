package types

import (
	"time"

	"github.com/google/uuid"
)

// ResearchParams controls a research phase
type ResearchParams struct {
	Categories     []string `json:"categories" validate:"required,min=1,dive,required"`
	ItemsPerSearch int      `json:"items_per_search,omitempty" validate:"omitempty,min=1,max=100"`
}

// MarketItem is one competitor listing discovered during research
type MarketItem struct {
	ListingID   int64    `json:"listing_id"`
	Category    string   `json:"category"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Price       float64  `json:"price"`
	Currency    string   `json:"currency,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Views       int      `json:"views,omitempty"`
	Favorites   int      `json:"favorites,omitempty"`
	URL         string   `json:"url,omitempty"`
}

// WebResult is a web search hit used as a demand signal
type WebResult struct {
	Category string `json:"category"`
	Title    string `json:"title"`
	Link     string `json:"link"`
	Snippet  string `json:"snippet,omitempty"`
}

// ResearchFindings is the raw output of the researcher
type ResearchFindings struct {
	Items              []MarketItem `json:"items"`
	CategoriesAnalyzed []string     `json:"categories_analyzed"`
	Trends             []WebResult  `json:"trends,omitempty"`
}

// Opportunity is a product idea derived from research
type Opportunity struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	Niche            string   `json:"niche"`
	Rationale        string   `json:"rationale"`
	SuggestedPrice   float64  `json:"suggested_price"`
	Keywords         []string `json:"keywords"`
	DemandScore      float64  `json:"demand_score"`
	CompetitionScore float64  `json:"competition_score"`
}

// Analysis is the output of the opportunity analyzer
type Analysis struct {
	Opportunities []Opportunity `json:"opportunities"`
	Summary       string        `json:"summary"`
}

// Report is a persisted analysis with the findings it was computed from
type Report struct {
	ID            uuid.UUID     `json:"id"`
	RunID         uuid.UUID     `json:"run_id"`
	FindingsID    uuid.UUID     `json:"findings_id"`
	Opportunities []Opportunity `json:"opportunities"`
	Summary       string        `json:"summary"`
	CreatedAt     time.Time     `json:"created_at"`
}
