// Package api exposes the HTTP surface of the messaging pipeline: batch
// send, scheduled dispatch, the stream monitor and the carrier status
// callback.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/myhometown/textline/internal/carrier"
	"github.com/myhometown/textline/internal/sms"
)

// BatchSender is the live send entry point. Implemented by sms.BatchSender.
type BatchSender interface {
	Send(ctx context.Context, batchID, message string, recipients []sms.Recipient, mediaURLs []string) (*sms.BatchSummary, error)
}

// ScheduledDispatcher replays one queued message. Implemented by
// sms.Dispatcher.
type ScheduledDispatcher interface {
	Dispatch(ctx context.Context, scheduleID uuid.UUID) (*sms.DispatchResult, error)
}

// StatusApplier applies carrier-pushed status updates. Implemented by
// sms.StatusUpdater.
type StatusApplier interface {
	Apply(ctx context.Context, update carrier.StatusUpdate) error
}

// respondError writes the taxonomy-appropriate status for err. Validation
// problems are the caller's fault; credential rejection and everything
// else surface as 500.
func respondError(c *gin.Context, err error) {
	var vErr *sms.ValidationError
	switch {
	case errors.As(err, &vErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": vErr.Message})
	case carrier.IsAuthError(err):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "carrier authentication failed"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
