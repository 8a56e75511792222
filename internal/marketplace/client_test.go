package marketplace

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jonathan/storefront-agent/internal/types"
)

type memCredentialStore struct {
	mu   sync.Mutex
	cred *types.Credential
	err  error
}

func (m *memCredentialStore) GetCredential(_ context.Context) (*types.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if m.cred == nil {
		return nil, nil
	}
	c := *m.cred
	return &c, nil
}

func (m *memCredentialStore) ReplaceCredential(_ context.Context, cred *types.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *cred
	m.cred = &c
	return nil
}

type recordedSleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleeps) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

func newTestClient(t *testing.T, srv *httptest.Server, store CredentialStore, opts ...Option) (*Client, *recordedSleeps) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.TokenURL = srv.URL + "/oauth/token"
	cfg.APIKey = "key"
	cfg.ShopID = 7
	cfg.RateLimit = 0

	sleeps := &recordedSleeps{}
	opts = append([]Option{WithSleep(sleeps.sleep)}, opts...)
	return New(cfg, store, zap.NewNop(), opts...), sleeps
}

func validStore() *memCredentialStore {
	return &memCredentialStore{cred: &types.Credential{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Hour),
	}}
}

func TestRequest_RetriesTransientStatusUpToFiveAttempts(t *testing.T) {
	for _, status := range []int{429, 500, 502, 503} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(status)
			}))
			defer srv.Close()

			c, sleeps := newTestClient(t, srv, validStore())
			err := c.Request(context.Background(), http.MethodGet, "/ping", nil, nil, nil)

			var remote *RemoteError
			require.ErrorAs(t, err, &remote)
			assert.Equal(t, status, remote.Status)
			assert.Equal(t, int32(5), calls.Load())
			assert.Len(t, sleeps.delays, 4)
		})
	}
}

func TestRequest_BackoffDelaysFollowPolicy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, sleeps := newTestClient(t, srv, validStore(), WithJitter(func() float64 { return 0 }))
	_ = c.Request(context.Background(), http.MethodGet, "/ping", nil, nil, nil)

	assert.Equal(t, []time.Duration{
		500 * time.Millisecond,
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
	}, sleeps.delays)
}

func TestRequest_NeverRetriesCallerErrors(t *testing.T) {
	for _, status := range []int{400, 401, 403, 404, 422} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			}))
			defer srv.Close()

			c, sleeps := newTestClient(t, srv, validStore())
			err := c.Request(context.Background(), http.MethodGet, "/ping", nil, nil, nil)

			var remote *RemoteError
			require.ErrorAs(t, err, &remote)
			assert.Equal(t, status, remote.Status)
			assert.Contains(t, remote.Body, "nope")
			assert.Equal(t, int32(1), calls.Load())
			assert.Empty(t, sleeps.delays)
		})
	}
}

func TestRequest_RecoversAfterTransientFault(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"listing_id": 99}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, validStore())
	var out Listing
	err := c.Request(context.Background(), http.MethodGet, "/ping", nil, nil, &out)
	require.NoError(t, err)
	assert.Equal(t, int64(99), out.ListingID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRequest_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>not json</html>`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, validStore())
	var out map[string]any
	err := c.Request(context.Background(), http.MethodGet, "/ping", nil, nil, &out)

	var malformed *MalformedResponseError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, http.StatusOK, malformed.Status)
}

func TestRequest_SendsAuthHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		assert.Equal(t, "shoes", r.URL.Query().Get("keywords"))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, validStore())
	err := c.Request(context.Background(), http.MethodGet, "/x", nil, url.Values{"keywords": {"shoes"}}, nil)
	require.NoError(t, err)
}

func TestPublicRequest_OmitsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"count":0,"results":[]}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, nil)
	res, err := c.SearchListings(context.Background(), "planner", 25, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Count)
}

func TestRequest_NoCredentialFailsWithoutCallingServer(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, &memCredentialStore{})
	err := c.Request(context.Background(), http.MethodGet, "/ping", nil, nil, nil)

	assert.ErrorIs(t, err, ErrNoCredential)
	var noCred *NoCredentialError
	assert.ErrorAs(t, err, &noCred)
	assert.Equal(t, int32(0), calls.Load())
}

func TestRequest_StaticTokenFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer static", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.StaticToken = "static"
	cfg.RateLimit = 0
	c := New(cfg, &memCredentialStore{}, zap.NewNop())

	require.NoError(t, c.Request(context.Background(), http.MethodGet, "/ping", nil, nil, nil))
}

func TestRequest_RefreshesExpiringToken(t *testing.T) {
	var refreshes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/token" {
			refreshes.Add(1)
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
			assert.Equal(t, "refresh-1", r.PostForm.Get("refresh_token"))
			_, _ = w.Write([]byte(`{"access_token":"access-2","refresh_token":"refresh-2","expires_in":3600,"scope":"listings_w transactions_r"}`))
			return
		}
		assert.Equal(t, "Bearer access-2", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	store := &memCredentialStore{cred: &types.Credential{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(2 * time.Minute),
	}}
	c, _ := newTestClient(t, srv, store)

	require.NoError(t, c.Request(context.Background(), http.MethodGet, "/ping", nil, nil, nil))
	require.NoError(t, c.Request(context.Background(), http.MethodGet, "/ping", nil, nil, nil))

	assert.Equal(t, int32(1), refreshes.Load())
	assert.Equal(t, "access-2", store.cred.AccessToken)
	assert.Equal(t, "refresh-2", store.cred.RefreshToken)
	assert.Equal(t, []string{"listings_w", "transactions_r"}, store.cred.Scopes)
}

func TestRequest_RefreshFailureIsNotRetried(t *testing.T) {
	var refreshes, calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/token" {
			refreshes.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		calls.Add(1)
	}))
	defer srv.Close()

	store := &memCredentialStore{cred: &types.Credential{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}}
	c, sleeps := newTestClient(t, srv, store)

	err := c.Request(context.Background(), http.MethodGet, "/ping", nil, nil, nil)
	assert.ErrorIs(t, err, ErrNoCredential)
	assert.Equal(t, int32(1), refreshes.Load())
	assert.Equal(t, int32(0), calls.Load())
	assert.Empty(t, sleeps.delays)
	assert.Equal(t, "access-1", store.cred.AccessToken, "stored credential untouched on failure")
}

func TestRequest_TokenWithTenMinutesLeftIsReused(t *testing.T) {
	var refreshes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/token" {
			refreshes.Add(1)
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := &memCredentialStore{cred: &types.Credential{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    now.Add(10 * time.Minute),
	}}
	c, _ := newTestClient(t, srv, store, WithClock(func() time.Time { return now }))

	require.NoError(t, c.Request(context.Background(), http.MethodGet, "/ping", nil, nil, nil))
	assert.Equal(t, int32(0), refreshes.Load())
	assert.Equal(t, "access-1", store.cred.AccessToken)
}

func TestRequest_MultipartBodyResentIdenticallyOnRetry(t *testing.T) {
	var bodies []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		n := len(bodies)
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"listing_image_id":1}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, validStore())
	err := c.UploadListingImage(context.Background(), 5, "cover.png", []byte("png-bytes"), "image/png")
	require.NoError(t, err)
	require.Len(t, bodies, 2)
	assert.Equal(t, bodies[0], bodies[1])
	assert.Contains(t, bodies[1], "png-bytes")
}

func TestRequest_ContextCancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cancelled := errors.New("stop")
	c, _ := newTestClient(t, srv, validStore(), WithSleep(func(context.Context, time.Duration) error { return cancelled }))
	err := c.Request(context.Background(), http.MethodGet, "/ping", nil, nil, nil)
	assert.ErrorIs(t, err, cancelled)
}

func TestExchangeCode_StoresCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "abc", r.PostForm.Get("code"))
		assert.Equal(t, "verifier", r.PostForm.Get("code_verifier"))
		_, _ = w.Write([]byte(`{"access_token":"a","refresh_token":"r","expires_in":3600}`))
	}))
	defer srv.Close()

	store := &memCredentialStore{}
	c, _ := newTestClient(t, srv, store)
	cred, err := c.ExchangeCode(context.Background(), "abc", "verifier")
	require.NoError(t, err)
	assert.Equal(t, "a", cred.AccessToken)
	assert.Equal(t, "a", store.cred.AccessToken)
}

func TestCircuitBreaker_OpensOnTransientFaults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.RateLimit = 0
	cfg.StaticToken = "t"
	cfg.BreakerEnabled = true
	cfg.BreakerMinRequests = 2
	cfg.BreakerFailureThreshold = 2
	sleeps := &recordedSleeps{}
	c := New(cfg, nil, zap.NewNop(), WithSleep(sleeps.sleep))

	err := c.Request(context.Background(), http.MethodGet, "/ping", nil, nil, nil)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}
