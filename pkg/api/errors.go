package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/supportstack/orchestrad/pkg/apperr"
)

// respondError maps an error to an HTTP status and writes the standard
// error envelope. The message is run through the masker so a secret
// that leaked into an error chain never reaches a client. Quota
// rejections carry a Retry-After header when the error provides a hint.
func (s *Server) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError

	kind := apperr.KindOf(err)
	switch kind {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindIllegalState:
		status = http.StatusConflict
	case apperr.KindQuotaExceeded:
		status = http.StatusTooManyRequests
	case apperr.KindTimeout:
		status = http.StatusGatewayTimeout
	case apperr.KindTransient:
		status = http.StatusServiceUnavailable
	}

	resp := ErrorResponse{
		Kind:      kind,
		Message:   s.deps.Masker.Mask(err.Error()),
		Retryable: apperr.IsRetryable(err),
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		resp.DocRef = ae.DocRef
		if ae.RetryAfter > 0 {
			secs := int64(math.Ceil(ae.RetryAfter.Seconds()))
			c.Header("Retry-After", strconv.FormatInt(secs, 10))
		}
	}

	c.JSON(status, resp)
}

// respondValidationError wraps a binding failure in the standard
// envelope with 400.
func (s *Server) respondValidationError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Kind:    apperr.KindValidation,
		Message: s.deps.Masker.Mask("invalid request: " + err.Error()),
	})
}
