package research

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/jonathan/storefront-agent/internal/marketplace"
	"github.com/jonathan/storefront-agent/internal/types"
)

type fakeSearch struct {
	mu      sync.Mutex
	results map[string][]marketplace.Listing
	fail    map[string]error
	limits  []int
}

func (f *fakeSearch) SearchListings(_ context.Context, keywords string, limit, _ int) (*marketplace.SearchResult, error) {
	f.mu.Lock()
	f.limits = append(f.limits, limit)
	f.mu.Unlock()
	if err := f.fail[keywords]; err != nil {
		return nil, err
	}
	res := f.results[keywords]
	return &marketplace.SearchResult{Count: len(res), Results: res}, nil
}

type fakeWeb struct {
	err error
}

func (f *fakeWeb) Search(_ context.Context, query string, _ int) ([]types.WebResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []types.WebResult{{Title: query, Link: "https://example.com"}}, nil
}

func listing(id int64, title string) marketplace.Listing {
	return marketplace.Listing{
		ListingID:   id,
		Title:       title,
		Description: "<p>Printable <b>planner</b></p><p>A4 and Letter</p>",
		Price:       marketplace.Money{Amount: 450, Divisor: 100, CurrencyCode: "USD"},
		Views:       10,
		NumFavorers: 3,
	}
}

func TestResearch_MergesAndDedupes(t *testing.T) {
	search := &fakeSearch{results: map[string][]marketplace.Listing{
		"planners":  {listing(1, "Meal Planner"), listing(2, "Budget Planner")},
		"checklist": {listing(2, "Budget Planner"), listing(3, "Moving Checklist")},
	}}
	r := NewResearcher(search, nil)

	findings, err := r.Research(context.Background(), types.ResearchParams{Categories: []string{"planners", "checklist"}})
	require.NoError(t, err)

	require.Len(t, findings.Items, 3)
	assert.Equal(t, []string{"planners", "checklist"}, findings.CategoriesAnalyzed)
	assert.Equal(t, "planners", findings.Items[0].Category)
	assert.Equal(t, "Printable planner\nA4 and Letter", findings.Items[0].Description)
	assert.InDelta(t, 4.5, findings.Items[0].Price, 1e-9)
	assert.Equal(t, 3, findings.Items[0].Favorites)
	assert.Equal(t, int64(3), findings.Items[2].ListingID)
	assert.Empty(t, findings.Trends)
	assert.Equal(t, []int{DefaultItemsPerSearch, DefaultItemsPerSearch}, search.limits)
}

func TestResearch_SearchFailureFails(t *testing.T) {
	search := &fakeSearch{fail: map[string]error{"planners": &marketplace.RemoteError{Status: 503}}}
	r := NewResearcher(search, nil)

	_, err := r.Research(context.Background(), types.ResearchParams{Categories: []string{"planners"}, ItemsPerSearch: 5})

	var remoteErr *marketplace.RemoteError
	require.True(t, errors.As(err, &remoteErr))
	assert.Equal(t, 503, remoteErr.Status)
	assert.Equal(t, []int{5}, search.limits)
}

func TestResearch_WebTrends(t *testing.T) {
	search := &fakeSearch{results: map[string][]marketplace.Listing{"planners": {listing(1, "Meal Planner")}}}

	r := NewResearcher(search, nil, WithWebSearch(&fakeWeb{}))
	findings, err := r.Research(context.Background(), types.ResearchParams{Categories: []string{"planners"}})
	require.NoError(t, err)
	require.Len(t, findings.Trends, 1)
	assert.Equal(t, "planners", findings.Trends[0].Category)

	r = NewResearcher(search, nil, WithWebSearch(&fakeWeb{err: errors.New("quota")}))
	findings, err = r.Research(context.Background(), types.ResearchParams{Categories: []string{"planners"}})
	require.NoError(t, err)
	assert.Empty(t, findings.Trends)
	assert.Len(t, findings.Items, 1)
}

func TestCustomSearch(t *testing.T) {
	var gotQuery, gotCX string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotCX = r.URL.Query().Get("cx")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items": [{"title": "Top planners", "link": "https://blog.example/planners", "snippet": "best of"}]}`))
	}))
	defer srv.Close()

	cs, err := NewCustomSearch(context.Background(), "key", "engine-1",
		option.WithEndpoint(srv.URL+"/"), option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	results, err := cs.Search(context.Background(), "planners trends", 3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "https://blog.example/planners", results[0].Link)
	assert.Equal(t, "planners trends", gotQuery)
	assert.Equal(t, "engine-1", gotCX)
}
