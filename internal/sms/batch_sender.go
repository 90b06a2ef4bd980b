package sms

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/myhometown/textline/internal/carrier"
	"github.com/myhometown/textline/internal/logging"
	"github.com/myhometown/textline/pkg/codes"
	"github.com/myhometown/textline/pkg/phone"
)

// BatchSummary is the aggregate result of one live batch send. Recipients
// left unattempted when the batch deadline hit stay pending and are counted
// in Total but in neither Successful nor Failed.
type BatchSummary struct {
	Total      int           `json:"total"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Results    []SendOutcome `json:"results"`
}

// BatchSenderConfig bounds the fan-out and identifies the sending number.
type BatchSenderConfig struct {
	FromNumber     string
	CallbackURL    string
	MaxConcurrency int64
	SendTimeout    time.Duration
}

// BatchSender orchestrates a live "send now" request: one credential probe,
// then a bounded concurrent fan-out with all-settled semantics. One
// recipient's failure never cancels its siblings.
type BatchSender struct {
	gateway  carrier.Gateway
	logs     DeliveryLogStore
	counters BatchCounterStore
	notifier Notifier
	monitor  *StreamMonitor
	cfg      BatchSenderConfig
}

func NewBatchSender(gateway carrier.Gateway, logs DeliveryLogStore, counters BatchCounterStore, notifier Notifier, monitor *StreamMonitor, cfg BatchSenderConfig) *BatchSender {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 10
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 60 * time.Second
	}
	return &BatchSender{
		gateway:  gateway,
		logs:     logs,
		counters: counters,
		notifier: notifier,
		monitor:  monitor,
		cfg:      cfg,
	}
}

// Send runs one batch. Validation failures and credential rejection return
// before any per-recipient attempt; after that point every recipient
// resolves independently and the summary reflects all of them.
func (s *BatchSender) Send(ctx context.Context, batchID, message string, recipients []Recipient, mediaURLs []string) (*BatchSummary, error) {
	if batchID == "" {
		return nil, NewValidationError("batchId is required")
	}
	if strings.TrimSpace(message) == "" {
		return nil, NewValidationError("message is required")
	}
	if len(recipients) == 0 {
		return nil, NewValidationError("recipients list is empty")
	}

	logCtx := logging.ContextWithBatchID(ctx, batchID)
	if s.monitor != nil {
		var release context.CancelFunc
		logCtx, release = s.monitor.Track(logCtx, batchID)
		defer release()
		defer s.monitor.Release(batchID)
	}
	slog.InfoContext(logCtx, "Starting batch send",
		slog.Int("recipients", len(recipients)),
		slog.Int("media_urls", len(mediaURLs)),
	)

	// One lightweight authenticated probe. Rejected credentials abort the
	// batch with zero log rows and zero counter mutations.
	accountStatus, err := s.gateway.VerifyCredentials(logCtx)
	if err != nil {
		if carrier.IsAuthError(err) {
			slog.ErrorContext(logCtx, "Carrier rejected credentials, aborting batch", slog.Any("error", err))
			s.notifyAuthFailure(logCtx, batchID, err)
		} else {
			slog.ErrorContext(logCtx, "Carrier credential probe failed, aborting batch", slog.Any("error", err))
		}
		return nil, err
	}
	slog.DebugContext(logCtx, "Carrier credentials verified", slog.String("account_status", accountStatus))

	durable := 0
	for _, r := range recipients {
		if r.Durable() {
			durable++
		}
	}
	if durable > 0 {
		if err := s.counters.Create(logCtx, batchID, durable); err != nil {
			slog.ErrorContext(logCtx, "Failed to create batch counters", slog.Any("error", err))
		}
	}

	sendCtx, cancel := context.WithTimeout(logCtx, s.cfg.SendTimeout)
	defer cancel()

	sem := semaphore.NewWeighted(s.cfg.MaxConcurrency)
	results := make([]SendOutcome, len(recipients))
	var wg sync.WaitGroup
	unattempted := 0

	for i, rec := range recipients {
		if err := sem.Acquire(sendCtx, 1); err != nil {
			// Batch deadline reached before this recipient got a slot. It
			// stays pending; a later reconciler sweep or retry resolves it.
			results[i] = SendOutcome{
				Recipient: rec.Phone,
				Status:    codes.StatusPending,
				Error:     "not attempted before batch deadline",
			}
			unattempted++
			continue
		}

		wg.Add(1)
		go func(i int, rec Recipient) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = s.sendOne(sendCtx, batchID, message, mediaURLs, rec)
		}(i, rec)
	}
	wg.Wait()

	// The batch only completes once every recipient has been attempted.
	// Deadline-starved recipients keep their pending counter and the batch
	// stays in progress for a later retry to finish.
	if durable > 0 && unattempted == 0 {
		if err := s.counters.MarkCompleted(logCtx, batchID); err != nil {
			slog.ErrorContext(logCtx, "Failed to mark batch completed", slog.Any("error", err))
		}
	} else if unattempted > 0 {
		slog.WarnContext(logCtx, "Batch deadline left recipients unattempted, counters stay in progress",
			slog.Int("unattempted", unattempted))
	}

	summary := &BatchSummary{Total: len(recipients), Results: results}
	for _, r := range results {
		switch r.Status {
		case codes.StatusSent:
			summary.Successful++
		case codes.StatusFailed:
			summary.Failed++
		}
	}
	slog.InfoContext(logCtx, "Batch send finished",
		slog.Int("total", summary.Total),
		slog.Int("successful", summary.Successful),
		slog.Int("failed", summary.Failed),
	)
	return summary, nil
}

// sendOne runs a single recipient's pipeline. Bookkeeping failures are
// logged and swallowed: a failed log or counter write never changes the
// outcome of an already-resolved carrier send.
func (s *BatchSender) sendOne(ctx context.Context, batchID, message string, mediaURLs []string, rec Recipient) SendOutcome {
	logCtx := logging.ContextWithRecipient(ctx, rec.Phone)

	normalized, err := phone.Normalize(rec.Phone)
	if err != nil {
		slog.InfoContext(logCtx, "Recipient rejected by normalizer", slog.String("reason", err.Error()))
		s.recordFailure(logCtx, batchID, rec, err.Error())
		return SendOutcome{Recipient: rec.Phone, Status: codes.StatusFailed, Error: err.Error()}
	}

	params := carrier.SendParams{
		To:        normalized,
		From:      s.cfg.FromNumber,
		Body:      message,
		MediaURLs: mediaURLs,
	}
	if rec.Durable() && s.cfg.CallbackURL != "" {
		params.StatusCallbackURL = s.cfg.CallbackURL
	}

	res, err := s.gateway.Send(logCtx, params)
	if err != nil {
		slog.WarnContext(logCtx, "Carrier send failed", slog.Any("error", err))
		s.recordFailure(logCtx, batchID, rec, err.Error())
		return SendOutcome{Recipient: rec.Phone, Phone: normalized, Status: codes.StatusFailed, Error: err.Error()}
	}

	if rec.Durable() {
		if err := s.logs.MarkSent(logCtx, *rec.LogID, res.CarrierMessageID, time.Now().UTC()); err != nil {
			slog.ErrorContext(logCtx, "Failed to mark delivery log sent",
				slog.String("log_id", rec.LogID.String()), slog.Any("error", err))
		}
		if err := s.counters.Move(logCtx, batchID, codes.StatusPending, codes.StatusSent); err != nil {
			slog.ErrorContext(logCtx, "Failed to move batch counter", slog.Any("error", err))
		}
	}

	return SendOutcome{
		Recipient:        rec.Phone,
		Phone:            normalized,
		Status:           codes.StatusSent,
		CarrierMessageID: res.CarrierMessageID,
	}
}

func (s *BatchSender) recordFailure(ctx context.Context, batchID string, rec Recipient, reason string) {
	if !rec.Durable() {
		return
	}
	if err := s.logs.MarkFailed(ctx, *rec.LogID, reason); err != nil {
		slog.ErrorContext(ctx, "Failed to mark delivery log failed",
			slog.String("log_id", rec.LogID.String()), slog.Any("error", err))
	}
	if err := s.counters.Move(ctx, batchID, codes.StatusPending, codes.StatusFailed); err != nil {
		slog.ErrorContext(ctx, "Failed to move batch counter", slog.Any("error", err))
	}
}

func (s *BatchSender) notifyAuthFailure(ctx context.Context, batchID string, cause error) {
	if s.notifier == nil {
		return
	}
	msg := fmt.Sprintf("batch %s aborted before any send: %v", batchID, cause)
	if err := s.notifier.Notify(ctx, "carrier authentication failure", msg); err != nil {
		slog.WarnContext(ctx, "Failed to send auth failure notification", slog.Any("error", err))
	}
}
