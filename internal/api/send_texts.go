package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/myhometown/textline/internal/logging"
	"github.com/myhometown/textline/internal/sms"
)

type SendTextsHandler struct {
	sender BatchSender
}

func NewSendTextsHandler(sender BatchSender) *SendTextsHandler {
	return &SendTextsHandler{sender: sender}
}

type recipientRequest struct {
	Name      string  `json:"name"`
	Phone     string  `json:"phone"`
	ContactID *string `json:"contactId"`
	// LogID references a pre-created delivery log row. Its presence makes
	// the recipient durable; omitted means ephemeral (sent, not persisted).
	LogID *string `json:"logId"`
}

type sendTextsRequest struct {
	Message    string             `json:"message"`
	Recipients []recipientRequest `json:"recipients"`
	MediaURLs  []string           `json:"mediaUrls"`
}

// SendTexts handles POST /send-texts?batchId=<id>.
func (h *SendTextsHandler) SendTexts(c *gin.Context) {
	logCtx := logging.ContextWithHandler(c.Request.Context(), "SendTexts")

	batchID := c.Query("batchId")
	if batchID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required query parameter: batchId"})
		return
	}
	logCtx = logging.ContextWithBatchID(logCtx, batchID)

	var req sendTextsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	if len(req.Recipients) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "recipients list is empty"})
		return
	}

	recipients := make([]sms.Recipient, len(req.Recipients))
	for i, r := range req.Recipients {
		rec := sms.Recipient{Name: r.Name, Phone: r.Phone, ContactID: r.ContactID}
		if r.LogID != nil {
			logID, err := uuid.Parse(*r.LogID)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid logId for recipient " + r.Phone})
				return
			}
			rec.LogID = &logID
		}
		recipients[i] = rec
	}

	summary, err := h.sender.Send(logCtx, batchID, req.Message, recipients, req.MediaURLs)
	if err != nil {
		slog.ErrorContext(logCtx, "Batch send failed", slog.Any("error", err))
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"batchId": batchID,
		"summary": summary,
	})
}
