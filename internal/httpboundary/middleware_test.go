package httpboundary_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavecore/botdetect/internal/action"
	"github.com/wavecore/botdetect/internal/detector"
	"github.com/wavecore/botdetect/internal/httpboundary"
	"github.com/wavecore/botdetect/internal/logging"
	"github.com/wavecore/botdetect/internal/orchestrator"
	"github.com/wavecore/botdetect/internal/policy"
)

func newPipeline(t *testing.T, actionType policy.Action) *httpboundary.Pipeline {
	t.Helper()
	registry := detector.NewRegistry()
	orch := orchestrator.New(registry, logging.NoOpLogger{})

	resolver := policy.NewResolver()
	resolver.RegisterDetectionPolicy(&policy.DetectionPolicy{Name: "default"})
	resolver.RegisterActionPolicy(&policy.ActionPolicy{Name: "default-action", Type: actionType, StatusCode: 403})
	resolver.SetDefault("default", "default-action")

	return &httpboundary.Pipeline{
		Orchestrator: orch,
		Resolver:     resolver,
		Actions:      action.NewRegistry(),
	}
}

func TestPipeline_Middleware_AllowSetsEvidenceHeadersAndCallsNext(t *testing.T) {
	p := newPipeline(t, policy.ActionAllow)
	nextCalled := false
	handler := p.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.True(t, nextCalled)
	assert.NotEmpty(t, rec.Header().Get("X-Bot-Probability"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPipeline_Middleware_BlockShortCircuitsBeforeNext(t *testing.T) {
	p := newPipeline(t, policy.ActionBlock)
	nextCalled := false
	handler := p.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.False(t, nextCalled)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPipeline_Middleware_BlockDoesNotSetEvidenceHeaders(t *testing.T) {
	p := newPipeline(t, policy.ActionBlock)
	handler := p.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("X-Bot-Probability"))
}

func TestPipeline_Middleware_NilResponsesAndSignaturesSkipObserve(t *testing.T) {
	p := newPipeline(t, policy.ActionAllow)
	require.Nil(t, p.Responses)
	require.Nil(t, p.Signatures)

	handler := p.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()
	assert.NotPanics(t, func() { handler.ServeHTTP(rec, req) })
}
