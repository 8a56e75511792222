package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/storefront-agent/internal/config"
	"github.com/jonathan/storefront-agent/internal/db/memstore"
	"github.com/jonathan/storefront-agent/internal/marketplace"
	"github.com/jonathan/storefront-agent/internal/pipeline"
	"github.com/jonathan/storefront-agent/internal/publish"
	"github.com/jonathan/storefront-agent/internal/server/ratelimit"
	"github.com/jonathan/storefront-agent/internal/types"
)

type fakeWorkflow struct {
	runID    uuid.UUID
	err      error
	research []types.ResearchParams
	gens     []pipeline.GenerationRequest
	entity   *types.Entity
}

func (f *fakeWorkflow) StartResearch(_ context.Context, p types.ResearchParams) (uuid.UUID, error) {
	f.research = append(f.research, p)
	return f.runID, f.err
}

func (f *fakeWorkflow) StartGeneration(_ context.Context, req pipeline.GenerationRequest) (uuid.UUID, error) {
	f.gens = append(f.gens, req)
	return f.runID, f.err
}

func (f *fakeWorkflow) ApproveEntity(_ context.Context, _ uuid.UUID) (*types.Entity, error) {
	return f.entity, f.err
}

func (f *fakeWorkflow) StartPublish(_ context.Context, _ uuid.UUID) (uuid.UUID, error) {
	return f.runID, f.err
}

type fakeReconciler struct{ result types.ReconcileResult }

func (f fakeReconciler) Reconcile(context.Context) (types.ReconcileResult, error) {
	return f.result, nil
}

type fakeOAuth struct {
	code, verifier, challenge string
}

func (f *fakeOAuth) AuthorizeURL(state, challenge string, _ []string) string {
	f.challenge = challenge
	return "https://marketplace.test/oauth/connect?state=" + state
}

func (f *fakeOAuth) ExchangeCode(_ context.Context, code, verifier string) (*types.Credential, error) {
	f.code, f.verifier = code, verifier
	return &types.Credential{AccessToken: "a", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

type fixture struct {
	srv      *Server
	store    *memstore.Store
	workflow *fakeWorkflow
	oauth    *fakeOAuth
}

func newFixture(t *testing.T, mutate func(*Deps)) *fixture {
	t.Helper()
	f := &fixture{
		store:    memstore.New(),
		workflow: &fakeWorkflow{runID: uuid.New()},
		oauth:    &fakeOAuth{},
	}
	deps := Deps{
		Workflow:   f.workflow,
		Reconciler: fakeReconciler{result: types.ReconcileResult{Inserted: 2, Skipped: 1}},
		Store:      f.store,
		OAuth:      f.oauth,
		RateLimit:  &ratelimit.Config{Enabled: false},
	}
	if mutate != nil {
		mutate(&deps)
	}
	f.srv = New(Config{EventPollInterval: 5 * time.Millisecond}, deps)
	t.Cleanup(f.srv.rateLimiter.Stop)
	return f
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do("GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestResearch_Accepted(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do("POST", "/research", `{"categories":["planner","budget"]}`)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, f.workflow.runID.String(), decode(t, w)["run_id"])
	require.Len(t, f.workflow.research, 1)
	assert.Equal(t, []string{"planner", "budget"}, f.workflow.research[0].Categories)
}

func TestResearch_BadBody(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do("POST", "/research", `{"categories":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, f.workflow.research)
}

func TestGenerate_PassesRequest(t *testing.T) {
	f := newFixture(t, nil)
	reportID := uuid.New()
	w := f.do("POST", "/generations", fmt.Sprintf(`{"opportunity_id":"opp-1","report_id":%q}`, reportID))

	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, f.workflow.gens, 1)
	assert.Equal(t, "opp-1", f.workflow.gens[0].OpportunityID)
	assert.Equal(t, reportID, f.workflow.gens[0].ReportID)
}

func TestWorkflowErrors_MapToStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		method string
		path   string
		want   int
	}{
		{"busy", pipeline.ErrEntityBusy, "POST", "/entities/%s/publish", http.StatusConflict},
		{"not publishable", fmt.Errorf("%w: draft", publish.ErrNotPublishable), "POST", "/entities/%s/publish", http.StatusConflict},
		{"missing fields", fmt.Errorf("%w: price", publish.ErrMissingFields), "POST", "/entities/%s/publish", http.StatusBadRequest},
		{"not found", types.ErrEntityNotFound, "POST", "/entities/%s/approve", http.StatusNotFound},
		{"conflict", types.ErrStatusConflict, "POST", "/entities/%s/approve", http.StatusConflict},
		{"internal", errors.New("boom"), "POST", "/entities/%s/approve", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.workflow.err = tt.err
			w := f.do(tt.method, fmt.Sprintf(tt.path, uuid.New()), "")
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusInternalServerError {
				assert.Equal(t, "internal error", decode(t, w)["error"])
			}
		})
	}
}

func TestEntityPath_InvalidID(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do("POST", "/entities/not-a-uuid/approve", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestApprove_ReturnsEntity(t *testing.T) {
	f := newFixture(t, nil)
	f.workflow.entity = &types.Entity{ID: uuid.New(), Status: types.EntityApproved}
	w := f.do("POST", "/entities/"+f.workflow.entity.ID.String()+"/approve", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(types.EntityApproved), decode(t, w)["status"])
}

func TestReconcile_ReturnsCounts(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do("POST", "/reconcile", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(2), body["inserted"])
	assert.Equal(t, float64(1), body["skipped"])
}

func TestRuns_GetAndList(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	run, err := f.store.CreateRun(ctx, types.PhaseResearch, map[string]any{"categories": []string{"a"}})
	require.NoError(t, err)

	w := f.do("GET", "/runs/"+run.ID.String(), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "running", decode(t, w)["status"])

	w = f.do("GET", "/runs/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do("GET", "/runs?phase=research&limit=10", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])

	w = f.do("GET", "/runs?phase=publish", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decode(t, w)["count"])

	w = f.do("GET", "/runs?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunEvents_StreamsUntilTerminal(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	run, err := f.store.CreateRun(ctx, types.PhaseGenerate, map[string]any{"progress": 5})
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = f.store.MergeRunMetadata(ctx, run.ID, map[string]any{"progress": 50})
		time.Sleep(20 * time.Millisecond)
		_ = f.store.FinishRun(ctx, run.ID, types.RunStatusCompleted, map[string]any{"progress": 100})
	}()

	w := f.do("GET", "/runs/"+run.ID.String()+"/events", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	body := w.Body.String()
	assert.GreaterOrEqual(t, strings.Count(body, "event: run\n"), 2)
	assert.Contains(t, body, `"progress":100`)
	assert.Contains(t, body, "event: complete\n")
	assert.Contains(t, body, `"status":"completed"`)
}

func TestEntityReads(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	e := &types.Entity{ID: uuid.New(), Title: "Budget Planner", Status: types.EntityPublished}
	f.store.PutEntity(e)
	for i := int64(1); i <= 2; i++ {
		_, err := f.store.InsertSale(ctx, &types.SaleRecord{
			EntityID: e.ID, ExternalReceiptID: 100, ExternalTransactionID: i,
			Amount: 4.5, Currency: "USD", TransactionTimestamp: time.Now(),
		})
		require.NoError(t, err)
	}

	w := f.do("GET", "/entities/"+e.ID.String(), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Budget Planner", decode(t, w)["title"])

	w = f.do("GET", "/entities/"+e.ID.String()+"/sales", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(2), body["count"])
	assert.InDelta(t, 9.0, body["total"], 0.0001)

	w = f.do("GET", "/entities/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do("GET", "/reports/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTasks_EmptyWithoutSupervisor(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do("GET", "/tasks", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["tasks"])
}

func TestOAuth_AuthorizeAndCallback(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do("GET", "/oauth/authorize?redirect=false", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	state := body["state"].(string)
	require.NotEmpty(t, state)
	assert.Contains(t, body["url"], state)
	assert.NotEmpty(t, f.oauth.challenge)

	w = f.do("GET", "/oauth/callback?state=unknown&code=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do("GET", "/oauth/callback?state="+url.QueryEscape(state)+"&code=abc", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["authorized"])
	assert.Equal(t, "abc", f.oauth.code)
	assert.NotEmpty(t, f.oauth.verifier)
	assert.NotEqual(t, f.oauth.challenge, f.oauth.verifier)

	// state is single use
	w = f.do("GET", "/oauth/callback?state="+url.QueryEscape(state)+"&code=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOAuth_AuthorizeRedirects(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do("GET", "/oauth/authorize", "")
	assert.Equal(t, http.StatusFound, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Location"), "https://marketplace.test/"))
}

func TestOAuth_NotConfigured(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.OAuth = nil })
	w := f.do("GET", "/oauth/authorize", "")
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestAuth_RequiredWhenConfigured(t *testing.T) {
	jwtSvc := NewJWTService(&config.JWTConfig{Secret: "0123456789abcdef0123", ExpirationHours: 1})
	f := newFixture(t, func(d *Deps) { d.JWT = jwtSvc })

	w := f.do("GET", "/runs", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do("GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	token, err := jwtSvc.GenerateToken("ops")
	require.NoError(t, err)
	req := httptest.NewRequest("GET", "/runs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit_Returns429(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.RateLimit = &ratelimit.Config{
			Enabled: true,
			EndpointConfigs: []ratelimit.EndpointConfig{
				{Path: "/reconcile", Method: "POST", Limit: 1, Window: time.Hour, Burst: 1},
			},
		}
	})

	w := f.do("POST", "/reconcile", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))

	w = f.do("POST", "/reconcile", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limit_exceeded", decode(t, w)["error"])
}

func TestFiles_Served(t *testing.T) {
	files := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("path=" + r.URL.Path))
	})
	f := newFixture(t, func(d *Deps) { d.Files = files })

	w := f.do("GET", "/files/entities/abc/product.zip", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "path=/entities/abc/product.zip", w.Body.String())
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(&ErrValidation{Field: "x"}))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(fmt.Errorf("wrap: %w", pipeline.ErrOpportunityNotFound)))
	assert.Equal(t, http.StatusConflict, HTTPStatus(pipeline.ErrNotRegenerable))
	assert.Equal(t, http.StatusPreconditionFailed, HTTPStatus(&marketplace.NoCredentialError{}))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("x")))
}
