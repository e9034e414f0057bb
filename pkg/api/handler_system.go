package api

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/supportstack/orchestrad/pkg/apperr"
)

// ListBreakers handles GET /api/v1/system/breakers.
func (s *Server) ListBreakers(c *gin.Context) {
	if s.deps.Breakers == nil {
		c.JSON(http.StatusOK, listResponse([]BreakerResponse{}))
		return
	}
	breakers := s.deps.Breakers.All()
	out := make([]BreakerResponse, 0, len(breakers))
	for _, cb := range breakers {
		out = append(out, BreakerResponse{Name: cb.Name(), State: cb.State()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	c.JSON(http.StatusOK, listResponse(out))
}

// ExecutorStats handles GET /api/v1/system/executor.
func (s *Server) ExecutorStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Executor.Stats())
}

// ResetBreaker handles POST /api/v1/system/breakers/:name/reset,
// forcing the named breaker closed.
func (s *Server) ResetBreaker(c *gin.Context) {
	if s.deps.Breakers == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Kind: apperr.KindNotFound, Message: "breakers not configured"})
		return
	}
	cb := s.deps.Breakers.Get(c.Param("name"))
	cb.Reset()
	c.JSON(http.StatusOK, BreakerResponse{Name: cb.Name(), State: cb.State()})
}
