package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supportstack/orchestrad/pkg/models"
)

func seedGoldenPath(t *testing.T, h *apiHarness, tenantID, query string) *models.GoldenPath {
	t.Helper()
	g, err := h.collector.RecordSuccess(context.Background(), tenantID, &models.ResolutionTrace{
		Blueprint:  "support-triage",
		Category:   "account",
		Query:      query,
		Resolution: "walked the user through the self-service reset flow",
		Confidence: 0.9,
	})
	require.NoError(t, err)
	return g
}

func TestGoldenPathEndpoints(t *testing.T) {
	h := newAPIHarness(t)
	acme := seedGoldenPath(t, h, "acme", "how do i reset my password")
	seedGoldenPath(t, h, "globex", "password reset link expired")

	t.Run("list by tenant", func(t *testing.T) {
		var got ListResponse[models.GoldenPath]
		w := h.do(t, http.MethodGet, "/api/v1/goldenpaths?tenant_id=acme", nil, &got)
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, 1, got.Count)
		assert.Equal(t, acme.Fingerprint, got.Items[0].Fingerprint)
	})

	t.Run("get by fingerprint", func(t *testing.T) {
		var got models.GoldenPath
		w := h.do(t, http.MethodGet, "/api/v1/goldenpaths/"+acme.Fingerprint, nil, &got)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 1, got.SuccessCount)

		w = h.do(t, http.MethodGet, "/api/v1/goldenpaths/ffff000011112222", nil, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("search respects tenant isolation", func(t *testing.T) {
		var got ListResponse[models.GoldenPath]
		w := h.do(t, http.MethodPost, "/api/v1/goldenpaths/search", SearchGoldenPathsRequest{
			TenantID: "acme",
			Query:    "reset password",
		}, &got)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		require.Equal(t, 1, got.Count)
		assert.Equal(t, "acme", got.Items[0].TenantID)
	})

	t.Run("search requires a query", func(t *testing.T) {
		w := h.do(t, http.MethodPost, "/api/v1/goldenpaths/search", SearchGoldenPathsRequest{
			TenantID: "acme",
		}, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRecordCSATEndpoint(t *testing.T) {
	h := newAPIHarness(t)

	trace := models.ResolutionTrace{
		Blueprint:  "support-triage",
		Category:   "billing",
		Query:      "was charged twice this month",
		Resolution: "refunded the duplicate charge",
		Confidence: 0.8,
	}

	w := h.do(t, http.MethodPost, "/api/v1/feedback/csat", CSATRequest{
		TenantID: "acme", Score: 5, Trace: trace,
	}, nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	paths := h.collector.List("acme")
	require.Len(t, paths, 1)
	assert.Equal(t, 1, paths[0].SuccessCount)

	t.Run("score out of range", func(t *testing.T) {
		w := h.do(t, http.MethodPost, "/api/v1/feedback/csat", CSATRequest{
			TenantID: "acme", Score: 6, Trace: trace,
		}, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
