package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supportstack/orchestrad/pkg/models"
)

func TestTenantLifecycle(t *testing.T) {
	h := newAPIHarness(t)
	h.createTenant(t, "acme", models.TierProfessional)

	t.Run("duplicate create conflicts", func(t *testing.T) {
		w := h.do(t, http.MethodPost, "/api/v1/tenants", CreateTenantRequest{
			TenantID: "acme", Tier: "free",
		}, nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("unknown tier rejected", func(t *testing.T) {
		w := h.do(t, http.MethodPost, "/api/v1/tenants", CreateTenantRequest{
			TenantID: "t2", Tier: "platinum",
		}, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("get", func(t *testing.T) {
		var got models.Tenant
		w := h.do(t, http.MethodGet, "/api/v1/tenants/acme", nil, &got)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, models.TierProfessional, got.Tier)
		assert.Equal(t, models.TenantStatusActive, got.Status)
		assert.Equal(t, 20, got.Limits.MaxAgents)
	})

	t.Run("get missing", func(t *testing.T) {
		w := h.do(t, http.MethodGet, "/api/v1/tenants/nope", nil, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("usage starts at zero", func(t *testing.T) {
		var usage models.TenantUsage
		w := h.do(t, http.MethodGet, "/api/v1/tenants/acme/usage", nil, &usage)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Zero(t, usage.ConcurrentExecutions)
	})

	t.Run("suspend and resume", func(t *testing.T) {
		w := h.do(t, http.MethodPost, "/api/v1/tenants/acme/suspend", nil, nil)
		require.Equal(t, http.StatusNoContent, w.Code)

		var got models.Tenant
		h.do(t, http.MethodGet, "/api/v1/tenants/acme", nil, &got)
		assert.Equal(t, models.TenantStatusSuspended, got.Status)

		w = h.do(t, http.MethodPost, "/api/v1/tenants/acme/resume", nil, nil)
		require.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("delete is terminal", func(t *testing.T) {
		h.createTenant(t, "doomed", models.TierFree)
		w := h.do(t, http.MethodDelete, "/api/v1/tenants/doomed", nil, nil)
		require.Equal(t, http.StatusNoContent, w.Code)

		w = h.do(t, http.MethodPost, "/api/v1/tenants/doomed/resume", nil, nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("list filters by status", func(t *testing.T) {
		var got ListResponse[models.Tenant]
		w := h.do(t, http.MethodGet, "/api/v1/tenants?status=active", nil, &got)
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, 1, got.Count)
		assert.Equal(t, "acme", got.Items[0].TenantID)
	})
}
