package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supportstack/orchestrad/pkg/apperr"
	"github.com/supportstack/orchestrad/pkg/masking"
)

func TestRespondErrorMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := NewServer(Deps{})

	cases := []struct {
		kind      apperr.Kind
		status    int
		retryable bool
	}{
		{apperr.KindValidation, http.StatusBadRequest, false},
		{apperr.KindNotFound, http.StatusNotFound, false},
		{apperr.KindIllegalState, http.StatusConflict, false},
		{apperr.KindQuotaExceeded, http.StatusTooManyRequests, true},
		{apperr.KindTimeout, http.StatusGatewayTimeout, true},
		{apperr.KindTransient, http.StatusServiceUnavailable, true},
		{apperr.KindFatal, http.StatusInternalServerError, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			s.respondError(c, apperr.New(tc.kind, "boom"))
			assert.Equal(t, tc.status, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tc.kind, resp.Kind)
			assert.Equal(t, "boom", resp.Message)
			assert.Equal(t, tc.retryable, resp.Retryable)
		})
	}
}

func TestRespondErrorRetryAfter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := NewServer(Deps{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	s.respondError(c, apperr.New(apperr.KindQuotaExceeded, "rate limited").
		WithRetryAfter(2500*time.Millisecond))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "3", w.Header().Get("Retry-After"), "hint rounds up to whole seconds")
}

func TestRespondErrorDocRef(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := NewServer(Deps{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	s.respondError(c, apperr.New(apperr.KindQuotaExceeded, "rate limited").
		WithDocRef("https://docs.example.com/limits"))

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "https://docs.example.com/limits", resp.DocRef)
}

func TestRespondErrorMasksSecrets(t *testing.T) {
	gin.SetMode(gin.TestMode)
	masker := masking.NewService([]string{"hunter2-prod-pass"})
	s := NewServer(Deps{Masker: masker})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	s.respondError(c, apperr.New(apperr.KindTransient,
		"dial postgres: password hunter2-prod-pass rejected"))

	body := w.Body.String()
	assert.NotContains(t, body, "hunter2-prod-pass")
	assert.Contains(t, body, masking.MaskToken)
}

func TestRespondValidationError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := NewServer(Deps{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	s.respondValidationError(c, assert.AnError)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, apperr.KindValidation, resp.Kind)
	assert.False(t, resp.Retryable)
}
