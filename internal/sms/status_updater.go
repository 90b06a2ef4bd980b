package sms

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/myhometown/textline/internal/carrier"
	"github.com/myhometown/textline/internal/logging"
	"github.com/myhometown/textline/internal/store"
	"github.com/myhometown/textline/pkg/codes"
)

// Deduper remembers status updates that were already applied. Implemented
// by the redis-backed cache; a nil Deduper disables dedupe, which is safe
// because the store's transition guard makes re-applies no-ops anyway.
type Deduper interface {
	// Seen reports whether key was already processed. It does not mark.
	Seen(ctx context.Context, key string) (bool, error)
	// Mark records key as processed. Only called once the update has been
	// handled, so a failed apply stays eligible for carrier redelivery.
	Mark(ctx context.Context, key string) error
}

// StatusUpdater applies carrier-pushed delivery status changes to the log
// store. Both push sources, the HTTP status callback and the SMPP receipt
// receiver, funnel through here with an already-mapped local status.
type StatusUpdater struct {
	logs   DeliveryLogStore
	dedupe Deduper
}

func NewStatusUpdater(logs DeliveryLogStore, dedupe Deduper) *StatusUpdater {
	return &StatusUpdater{logs: logs, dedupe: dedupe}
}

// Apply patches the row referenced by the update's carrier message id.
// Updates for unknown ids are dropped: ephemeral sends have no log row and
// carriers redeliver callbacks, so this is expected traffic, not an error.
func (u *StatusUpdater) Apply(ctx context.Context, update carrier.StatusUpdate) error {
	logCtx := logging.ContextWithCarrierMsgID(ctx, update.CarrierMessageID)
	dedupeKey := update.CarrierMessageID + ":" + update.Status

	if u.dedupe != nil {
		seen, err := u.dedupe.Seen(logCtx, dedupeKey)
		if err != nil {
			slog.WarnContext(logCtx, "Dedupe check failed, applying update anyway", slog.Any("error", err))
		} else if seen {
			slog.DebugContext(logCtx, "Dropping duplicate status update", slog.String("status", update.Status))
			return nil
		}
	}

	row, err := u.logs.FindByCarrierMessageID(logCtx, update.CarrierMessageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			slog.InfoContext(logCtx, "Status update for unknown carrier message id, dropping",
				slog.String("status", update.Status))
			u.markSeen(logCtx, dedupeKey)
			return nil
		}
		return err
	}
	logCtx = logging.ContextWithLogID(logCtx, row.ID.String())

	if row.Status == update.Status {
		u.markSeen(logCtx, dedupeKey)
		return nil
	}
	if !codes.IsValid(update.Status) || !codes.CanTransition(row.Status, update.Status) {
		slog.WarnContext(logCtx, "Ignoring illegal pushed status transition",
			slog.String("from", row.Status),
			slog.String("to", update.Status),
		)
		u.markSeen(logCtx, dedupeKey)
		return nil
	}

	var deliveredAt *time.Time
	if update.Status == codes.StatusDelivered {
		t := update.Timestamp
		if t.IsZero() {
			t = time.Now().UTC()
		}
		deliveredAt = &t
	}
	var errMsg *string
	if update.Status == codes.StatusFailed {
		errMsg = update.ErrorMessage
		if errMsg == nil {
			generic := "carrier reported failure"
			errMsg = &generic
		}
	}

	wrote, err := u.logs.ApplyCarrierStatus(logCtx, row.ID, row.Status, update.Status, errMsg, deliveredAt, nil)
	if err != nil {
		return err
	}
	if wrote {
		slog.InfoContext(logCtx, "Applied pushed status update",
			slog.String("from", row.Status),
			slog.String("to", update.Status),
		)
	}
	u.markSeen(logCtx, dedupeKey)
	return nil
}

// markSeen records a handled update in the dedupe cache. Marking happens
// after the apply, so an update that errored out is not suppressed when
// the carrier redelivers it.
func (u *StatusUpdater) markSeen(ctx context.Context, key string) {
	if u.dedupe == nil {
		return
	}
	if err := u.dedupe.Mark(ctx, key); err != nil {
		slog.WarnContext(ctx, "Failed to record status update in dedupe cache", slog.Any("error", err))
	}
}
