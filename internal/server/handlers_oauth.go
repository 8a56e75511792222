package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/storefront-agent/internal/marketplace"
)

// handleAuthorize starts a consent flow. The operator is redirected to the marketplace, or
// gets the URL as JSON with ?redirect=false.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if s.deps.OAuth == nil {
		s.errorResponse(w, http.StatusNotImplemented, "marketplace authorization is not configured")
		return
	}
	pkce, err := marketplace.NewPKCE()
	if err != nil {
		s.failure(w, r, err)
		return
	}
	state := uuid.NewString()

	s.mu.Lock()
	s.prunePending(time.Now())
	s.pending[state] = pendingAuth{verifier: pkce.Verifier, created: time.Now()}
	s.mu.Unlock()

	var scopes []string
	if v := r.URL.Query().Get("scopes"); v != "" {
		scopes = strings.Fields(strings.ReplaceAll(v, ",", " "))
	}
	target := s.deps.OAuth.AuthorizeURL(state, pkce.Challenge, scopes)

	if r.URL.Query().Get("redirect") == "false" {
		s.jsonResponse(w, http.StatusOK, map[string]string{"url": target, "state": state})
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// handleCallback completes a consent flow and stores the first credential
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if s.deps.OAuth == nil {
		s.errorResponse(w, http.StatusNotImplemented, "marketplace authorization is not configured")
		return
	}
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		s.errorResponse(w, http.StatusBadRequest, "authorization denied: "+e)
		return
	}
	state, code := q.Get("state"), q.Get("code")
	if state == "" || code == "" {
		s.failure(w, r, &ErrValidation{Field: "code", Message: "state and code are required"})
		return
	}

	s.mu.Lock()
	p, ok := s.pending[state]
	delete(s.pending, state)
	s.mu.Unlock()
	if !ok || time.Since(p.created) > authStateTTL {
		s.errorResponse(w, http.StatusBadRequest, "unknown or expired state")
		return
	}

	cred, err := s.deps.OAuth.ExchangeCode(r.Context(), code, p.verifier)
	if err != nil {
		s.logger.Error("oauth_exchange_failed", zap.Error(err))
		s.errorResponse(w, http.StatusBadGateway, "code exchange failed")
		return
	}
	s.logger.Info("oauth_authorized", zap.Time("expires_at", cred.ExpiresAt))
	s.jsonResponse(w, http.StatusOK, map[string]any{"authorized": true, "expires_at": cred.ExpiresAt})
}

// prunePending drops expired flows. Caller holds s.mu.
func (s *Server) prunePending(now time.Time) {
	for state, p := range s.pending {
		if now.Sub(p.created) > authStateTTL {
			delete(s.pending, state)
		}
	}
}
