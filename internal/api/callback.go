package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/myhometown/textline/internal/carrier"
	"github.com/myhometown/textline/internal/logging"
	"github.com/myhometown/textline/pkg/statusmap"
)

type CallbackHandler struct {
	updater StatusApplier
}

func NewCallbackHandler(updater StatusApplier) *CallbackHandler {
	return &CallbackHandler{updater: updater}
}

// StatusCallback handles POST /carrier/status-callback, the form-encoded
// webhook the carrier hits as delivery status changes. The carrier only
// cares about our status code: 2xx stops redelivery, anything else makes
// it retry.
func (h *CallbackHandler) StatusCallback(c *gin.Context) {
	logCtx := logging.ContextWithHandler(c.Request.Context(), "StatusCallback")

	sid := c.PostForm("MessageSid")
	carrierStatus := c.PostForm("MessageStatus")
	if sid == "" || carrierStatus == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "MessageSid and MessageStatus are required"})
		return
	}
	logCtx = logging.ContextWithCarrierMsgID(logCtx, sid)

	update := carrier.StatusUpdate{
		CarrierMessageID: sid,
		Status:           statusmap.MapCarrierStatus(carrierStatus, "http"),
		Timestamp:        time.Now().UTC(),
	}
	if errMsg := c.PostForm("ErrorMessage"); errMsg != "" {
		update.ErrorMessage = &errMsg
	}

	if err := h.updater.Apply(logCtx, update); err != nil {
		slog.ErrorContext(logCtx, "Failed to apply status callback", slog.Any("error", err))
		// Non-2xx so the carrier redelivers. The dedupe cache only marks
		// after a successful apply, so the redelivery is not dropped.
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process status update"})
		return
	}
	c.Status(http.StatusNoContent)
}
