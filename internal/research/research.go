// Package research discovers competitor listings on the marketplace for a set of categories.
package research

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/storefront-agent/internal/fetch"
	"github.com/jonathan/storefront-agent/internal/marketplace"
	"github.com/jonathan/storefront-agent/internal/types"
)

// DefaultItemsPerSearch is used when the request does not set one
const DefaultItemsPerSearch = 25

// maxConcurrentSearches bounds parallel category searches
const maxConcurrentSearches = 4

// ListingSearcher is the marketplace search surface
type ListingSearcher interface {
	SearchListings(ctx context.Context, keywords string, limit, offset int) (*marketplace.SearchResult, error)
}

// WebSearcher returns web results for a query
type WebSearcher interface {
	Search(ctx context.Context, query string, n int) ([]types.WebResult, error)
}

// Researcher handles competitor research
type Researcher struct {
	listings ListingSearcher
	web      WebSearcher
	logger   *zap.Logger
}

// Option configures a Researcher
type Option func(*Researcher)

// WithWebSearch adds web search trend signals to the findings
func WithWebSearch(w WebSearcher) Option {
	return func(r *Researcher) { r.web = w }
}

// NewResearcher creates a new Researcher instance
func NewResearcher(listings ListingSearcher, logger *zap.Logger, opts ...Option) *Researcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Researcher{listings: listings, logger: logger.Named("research")}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Research searches every category and returns the deduplicated listings. A failed
// marketplace search fails the whole call; failed web searches are skipped.
func (r *Researcher) Research(ctx context.Context, params types.ResearchParams) (*types.ResearchFindings, error) {
	limit := params.ItemsPerSearch
	if limit <= 0 {
		limit = DefaultItemsPerSearch
	}

	perCategory := make([][]types.MarketItem, len(params.Categories))
	var (
		trendsMu sync.Mutex
		trends   []types.WebResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSearches)
	for i, category := range params.Categories {
		g.Go(func() error {
			res, err := r.listings.SearchListings(gctx, category, limit, 0)
			if err != nil {
				return fmt.Errorf("search %q failed: %w", category, err)
			}
			items := make([]types.MarketItem, 0, len(res.Results))
			for _, l := range res.Results {
				items = append(items, r.toItem(category, l))
			}
			perCategory[i] = items

			if r.web != nil {
				hits, err := r.web.Search(gctx, category+" printable best sellers", 5)
				if err != nil {
					r.logger.Warn("web_search_failed", zap.String("category", category), zap.Error(err))
					return nil
				}
				for j := range hits {
					hits[j].Category = category
				}
				trendsMu.Lock()
				trends = append(trends, hits...)
				trendsMu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	findings := &types.ResearchFindings{
		Items:              []types.MarketItem{},
		CategoriesAnalyzed: append([]string(nil), params.Categories...),
		Trends:             trends,
	}
	seen := make(map[int64]bool)
	for _, items := range perCategory {
		for _, item := range items {
			if seen[item.ListingID] {
				continue
			}
			seen[item.ListingID] = true
			findings.Items = append(findings.Items, item)
		}
	}

	r.logger.Info("research_completed",
		zap.Int("items", len(findings.Items)),
		zap.Int("categories", len(findings.CategoriesAnalyzed)),
		zap.Int("trends", len(findings.Trends)))
	return findings, nil
}

func (r *Researcher) toItem(category string, l marketplace.Listing) types.MarketItem {
	desc, err := fetch.HTMLToText(l.Description)
	if err != nil {
		desc = strings.TrimSpace(l.Description)
	}
	return types.MarketItem{
		ListingID:   l.ListingID,
		Category:    category,
		Title:       l.Title,
		Description: desc,
		Price:       l.Price.Float(),
		Currency:    l.Price.CurrencyCode,
		Tags:        l.Tags,
		Views:       l.Views,
		Favorites:   l.NumFavorers,
		URL:         l.URL,
	}
}
