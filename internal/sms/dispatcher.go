package sms

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/myhometown/textline/internal/carrier"
	"github.com/myhometown/textline/internal/logging"
	"github.com/myhometown/textline/internal/store"
	"github.com/myhometown/textline/pkg/codes"
	"github.com/myhometown/textline/pkg/phone"
)

// DispatchResult reports one scheduled message's dispatch.
type DispatchResult struct {
	Success        bool          `json:"success"`
	ID             uuid.UUID     `json:"id"`
	MessageGroupID uuid.UUID     `json:"messageId"`
	Results        []SendOutcome `json:"results"`
	Deleted        bool          `json:"deleted"`
	LogsCreated    int           `json:"logsCreated"`
}

// DispatcherConfig identifies the sending number for scheduled dispatches.
type DispatcherConfig struct {
	FromNumber  string
	CallbackURL string
}

// Dispatcher replays a previously queued message. Recipients are processed
// strictly sequentially; scheduled jobs trade throughput for predictable
// load on the carrier.
type Dispatcher struct {
	gateway   carrier.Gateway
	logs      DeliveryLogStore
	schedules ScheduleStore
	monitor   *StreamMonitor
	cfg       DispatcherConfig
}

func NewDispatcher(gateway carrier.Gateway, logs DeliveryLogStore, schedules ScheduleStore, monitor *StreamMonitor, cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		gateway:   gateway,
		logs:      logs,
		schedules: schedules,
		monitor:   monitor,
		cfg:       cfg,
	}
}

// Dispatch loads one schedule, pre-creates a pending delivery log row per
// recipient under a shared message group id, sends sequentially, writes the
// outcomes back onto the schedule row and deletes it. Deletion is
// best-effort: the delivery log rows are the authoritative record, so a
// failed delete is logged and the dispatch still reports success.
func (d *Dispatcher) Dispatch(ctx context.Context, scheduleID uuid.UUID) (*DispatchResult, error) {
	logCtx := logging.ContextWithScheduleID(ctx, scheduleID.String())

	schedule, err := d.schedules.GetByID(logCtx, scheduleID)
	if err != nil {
		return nil, err
	}
	if len(schedule.Recipients) == 0 {
		return nil, NewValidationError("scheduled message has no recipients")
	}

	mediaURLs := decodeMediaURLs(schedule.MediaURLs)
	groupID := uuid.New()
	logCtx = logging.ContextWithGroupID(logCtx, groupID.String())
	if d.monitor != nil {
		var release context.CancelFunc
		logCtx, release = d.monitor.Track(logCtx, groupID.String())
		defer release()
		defer d.monitor.Release(groupID.String())
	}
	slog.InfoContext(logCtx, "Dispatching scheduled message",
		slog.Int("recipients", len(schedule.Recipients)),
		slog.Time("scheduled_for", schedule.ScheduledFor),
	)

	// The metadata snapshot embeds the full recipient list and sender
	// identity so delivery-analysis views never need to re-join against the
	// schedules table, which is deleted after dispatch.
	metadata := map[string]any{
		"scheduled":    true,
		"scheduledFor": schedule.ScheduledFor.UTC().Format(time.RFC3339),
		"scheduleId":   schedule.ID.String(),
		"sentBy":       schedule.OwnerUserID,
		"recipients":   schedule.Recipients,
	}

	logIDs := make([]uuid.UUID, len(schedule.Recipients))
	now := time.Now().UTC()
	for i, rec := range schedule.Recipients {
		entry := &store.DeliveryLogEntry{
			ID:                 uuid.New(),
			MessageGroupID:     groupID,
			SenderID:           schedule.OwnerUserID,
			OwnerID:            schedule.OwnerUserID,
			OwnerType:          "user",
			RecipientPhone:     rec.Phone,
			RecipientContactID: rec.ContactID,
			MessageContent:     schedule.MessageContent,
			MediaURLs:          mediaURLs,
			Status:             codes.StatusPending,
			Metadata:           metadata,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := d.logs.Create(logCtx, entry); err != nil {
			return nil, fmt.Errorf("create delivery log for recipient %d of %d: %w", i+1, len(schedule.Recipients), err)
		}
		logIDs[i] = entry.ID
	}
	slog.InfoContext(logCtx, "Created pending delivery log rows", slog.Int("count", len(logIDs)))

	results := make([]SendOutcome, len(schedule.Recipients))
	for i, rec := range schedule.Recipients {
		results[i] = d.sendOne(logCtx, schedule.MessageContent, mediaURLs, rec, logIDs[i])
	}

	if err := d.schedules.RecordResults(logCtx, scheduleID, results, time.Now().UTC()); err != nil {
		slog.ErrorContext(logCtx, "Failed to record dispatch results on schedule", slog.Any("error", err))
	}

	deleted := true
	if err := d.schedules.Delete(logCtx, scheduleID); err != nil {
		deleted = false
		slog.ErrorContext(logCtx, "Failed to delete dispatched schedule", slog.Any("error", err))
	}

	return &DispatchResult{
		Success:        true,
		ID:             scheduleID,
		MessageGroupID: groupID,
		Results:        results,
		Deleted:        deleted,
		LogsCreated:    len(logIDs),
	}, nil
}

// sendOne attempts one recipient and applies exactly one terminal update to
// its pre-created log row. Errors here never stop the remaining recipients.
func (d *Dispatcher) sendOne(ctx context.Context, message string, mediaURLs []string, rec store.ScheduledRecipient, logID uuid.UUID) SendOutcome {
	logCtx := logging.ContextWithRecipient(ctx, rec.Phone)
	logCtx = logging.ContextWithLogID(logCtx, logID.String())

	normalized, err := phone.Normalize(rec.Phone)
	if err != nil {
		d.markFailed(logCtx, logID, err.Error())
		return SendOutcome{Recipient: rec.Phone, Status: codes.StatusFailed, Error: err.Error()}
	}

	res, err := d.gateway.Send(logCtx, carrier.SendParams{
		To:                normalized,
		From:              d.cfg.FromNumber,
		Body:              message,
		MediaURLs:         mediaURLs,
		StatusCallbackURL: d.cfg.CallbackURL,
	})
	if err != nil {
		slog.WarnContext(logCtx, "Scheduled send failed for recipient", slog.Any("error", err))
		d.markFailed(logCtx, logID, err.Error())
		return SendOutcome{Recipient: rec.Phone, Phone: normalized, Status: codes.StatusFailed, Error: err.Error()}
	}

	if err := d.logs.MarkSent(logCtx, logID, res.CarrierMessageID, time.Now().UTC()); err != nil {
		slog.ErrorContext(logCtx, "Failed to mark scheduled delivery log sent", slog.Any("error", err))
	}
	return SendOutcome{
		Recipient:        rec.Phone,
		Phone:            normalized,
		Status:           codes.StatusSent,
		CarrierMessageID: res.CarrierMessageID,
	}
}

func (d *Dispatcher) markFailed(ctx context.Context, logID uuid.UUID, reason string) {
	if err := d.logs.MarkFailed(ctx, logID, reason); err != nil {
		slog.ErrorContext(ctx, "Failed to mark scheduled delivery log failed", slog.Any("error", err))
	}
}

// decodeMediaURLs reverses the percent-encoding the scheduling UI applies
// before storing media URLs. An undecodable entry is passed through as-is.
func decodeMediaURLs(raw []string) []string {
	if len(raw) == 0 {
		return nil
	}
	out := make([]string, len(raw))
	for i, u := range raw {
		decoded, err := url.QueryUnescape(u)
		if err != nil {
			out[i] = u
			continue
		}
		out[i] = decoded
	}
	return out
}
