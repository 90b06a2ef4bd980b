package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/myhometown/textline/internal/sms"
)

type MonitorHandler struct {
	monitor *sms.StreamMonitor
}

func NewMonitorHandler(monitor *sms.StreamMonitor) *MonitorHandler {
	return &MonitorHandler{monitor: monitor}
}

// GetStatus handles GET /monitor: active-stream snapshot plus health.
func (h *MonitorHandler) GetStatus(c *gin.Context) {
	streams := h.monitor.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"activeStreams": len(streams),
		"streams":       streams,
		"health":        h.monitor.Health(),
	})
}

type monitorActionRequest struct {
	Action string `json:"action"`
}

// PostAction handles POST /monitor. Only "cleanup-orphaned" is supported.
func (h *MonitorHandler) PostAction(c *gin.Context) {
	var req monitorActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if req.Action != "cleanup-orphaned" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown action: " + req.Action})
		return
	}

	expired, orphaned := h.monitor.CleanupOrphaned()
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"cleaned":  expired + orphaned,
		"expired":  expired,
		"orphaned": orphaned,
	})
}
