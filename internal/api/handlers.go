package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/VeinDevTtv/vein-smc-bot/internal/logging"
)

// handleHealth reports liveness
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"uptime":     time.Since(s.startedAt).Round(time.Second).String(),
		"ws_clients": s.hub.ClientCount(),
	})
}

// handleStatus returns the engine snapshot and run progress
func (s *Server) handleStatus(c *gin.Context) {
	if s.source == nil {
		errorResponse(c, http.StatusServiceUnavailable, "no run attached")
		return
	}

	resp := gin.H{"progress": s.source.Progress()}
	if snap, ok := s.source.Snapshot(); ok {
		resp["engine"] = snap
	}
	c.JSON(http.StatusOK, resp)
}

// handleResult returns the summary of the last finished run
func (s *Server) handleResult(c *gin.Context) {
	s.mu.RLock()
	result := s.result
	s.mu.RUnlock()

	if result == nil {
		errorResponse(c, http.StatusNotFound, "no finished run")
		return
	}
	c.JSON(http.StatusOK, result)
}

func errorResponse(c *gin.Context, code int, message string) {
	l := logging.FromContext(c.Request.Context())
	l.Debug().Int("status_code", code).Msg(message)
	c.JSON(code, gin.H{"error": message})
}
