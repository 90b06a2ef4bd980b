package carrier

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// SendParams carries everything needed to submit one message to the
// carrier. StatusCallbackURL is only attached for durable recipients so
// the carrier can push async delivery updates back to us.
type SendParams struct {
	To                string
	From              string
	Body              string
	MediaURLs         []string
	StatusCallbackURL string
}

// SendResult is the carrier's acknowledgement of an accepted message.
type SendResult struct {
	CarrierMessageID string
	Status           string
}

// StatusResult is the carrier's authoritative view of one message,
// fetched during reconciliation.
type StatusResult struct {
	Status       string
	ErrorMessage *string
	DateUpdated  *time.Time
	Price        *decimal.Decimal
}

// Gateway wraps the third-party SMS/MMS transport. Retries and backoff for
// carrier calls live behind this interface; callers only see typed
// failures (AuthError, SendError).
type Gateway interface {
	// Send submits one message and returns the carrier-assigned id.
	Send(ctx context.Context, params SendParams) (*SendResult, error)

	// FetchStatus retrieves the authoritative delivery status for a
	// previously accepted message.
	FetchStatus(ctx context.Context, carrierMessageID string) (*StatusResult, error)

	// VerifyCredentials performs one lightweight authenticated probe and
	// returns the account status. Used to fail a batch fast before any
	// per-recipient attempt.
	VerifyCredentials(ctx context.Context) (string, error)
}

// StatusUpdate is a carrier-pushed delivery status change, arriving either
// via the HTTP status callback or an SMPP delivery receipt.
type StatusUpdate struct {
	CarrierMessageID string
	Status           string
	ErrorMessage     *string
	Timestamp        time.Time
}

// StatusHandlerFunc is the callback signature for processing pushed
// status updates.
type StatusHandlerFunc func(ctx context.Context, update StatusUpdate) error
