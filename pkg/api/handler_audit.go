package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/supportstack/orchestrad/pkg/apperr"
	"github.com/supportstack/orchestrad/pkg/models"
)

// maxAuditPageSize caps one audit query page.
const maxAuditPageSize = 500

// QueryAuditEvents handles GET /api/v1/audit/events. Events return
// newest first; start is inclusive and end exclusive, both RFC 3339.
func (s *Server) QueryAuditEvents(c *gin.Context) {
	filter := models.AuditFilter{
		TenantID:  c.Query("tenant_id"),
		AgentID:   c.Query("agent_id"),
		EventType: c.Query("event_type"),
	}

	for _, bound := range []struct {
		param string
		dst   **time.Time
	}{
		{"start", &filter.Start},
		{"end", &filter.End},
	} {
		raw := c.Query(bound.param)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Kind: apperr.KindValidation, Message: "invalid " + bound.param + ": " + err.Error()})
			return
		}
		*bound.dst = &ts
	}

	filter.Offset, _ = strconv.Atoi(c.Query("offset"))
	filter.Limit, _ = strconv.Atoi(c.Query("limit"))
	if filter.Limit <= 0 || filter.Limit > maxAuditPageSize {
		filter.Limit = maxAuditPageSize
	}

	events, err := s.deps.Store.QueryAuditEvents(c.Request.Context(), filter)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse(events))
}

// ReadActivity handles GET /api/v1/activity/:tenant_id, reading the
// tenant's Redis activity stream. With from_id set the read is
// exclusive of that id; otherwise the latest n events return in
// chronological order.
func (s *Server) ReadActivity(c *gin.Context) {
	if s.deps.Stream == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Kind: apperr.KindNotFound, Message: "activity stream not configured"})
		return
	}

	tenantID := c.Param("tenant_id")
	count, _ := strconv.ParseInt(c.Query("count"), 10, 64)
	if count <= 0 || count > 1000 {
		count = 100
	}

	var (
		events []*models.ActivityEvent
		err    error
	)
	if fromID := c.Query("from_id"); fromID != "" {
		events, err = s.deps.Stream.Read(c.Request.Context(), tenantID, fromID, count)
	} else {
		events, err = s.deps.Stream.ReadLatest(c.Request.Context(), tenantID, count)
	}
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse(events))
}
