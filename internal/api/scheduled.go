package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/myhometown/textline/internal/logging"
	"github.com/myhometown/textline/internal/store"
)

type ScheduledTextsHandler struct {
	dispatcher ScheduledDispatcher
}

func NewScheduledTextsHandler(dispatcher ScheduledDispatcher) *ScheduledTextsHandler {
	return &ScheduledTextsHandler{dispatcher: dispatcher}
}

type sendScheduledRequest struct {
	ID string `json:"id"`
}

// SendScheduled handles POST /scheduled-texts/send.
func (h *ScheduledTextsHandler) SendScheduled(c *gin.Context) {
	logCtx := logging.ContextWithHandler(c.Request.Context(), "SendScheduled")

	var req sendScheduledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if req.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}
	scheduleID, err := uuid.Parse(req.ID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid schedule id"})
		return
	}
	logCtx = logging.ContextWithScheduleID(logCtx, scheduleID.String())

	res, err := h.dispatcher.Dispatch(logCtx, scheduleID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "scheduled message not found"})
			return
		}
		slog.ErrorContext(logCtx, "Scheduled dispatch failed", slog.Any("error", err))
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     res.Success,
		"id":          res.ID,
		"messageId":   res.MessageGroupID,
		"results":     res.Results,
		"deleted":     res.Deleted,
		"logsCreated": res.LogsCreated,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
}
