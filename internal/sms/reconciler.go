package sms

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/myhometown/textline/internal/carrier"
	"github.com/myhometown/textline/internal/logging"
	"github.com/myhometown/textline/internal/store"
	"github.com/myhometown/textline/pkg/codes"
	"github.com/myhometown/textline/pkg/statusmap"
)

// SweepSummary aggregates one reconciliation sweep for operator reporting.
// Transitions is keyed "oldStatus->newStatus".
type SweepSummary struct {
	Scanned     int                 `json:"scanned"`
	Updated     int                 `json:"updated"`
	Unchanged   int                 `json:"unchanged"`
	Errors      int                 `json:"errors"`
	Transitions map[string]int      `json:"transitions"`
	TotalPrice  decimal.Decimal     `json:"totalPrice"`
	Window      time.Duration       `json:"-"`
	StartedAt   time.Time           `json:"startedAt"`
	FinishedAt  time.Time           `json:"finishedAt"`
}

// ReconcilerConfig bounds the sweep's batching and lookback window.
type ReconcilerConfig struct {
	BatchSize  int
	BatchDelay time.Duration
	Window     time.Duration
}

// Reconciler walks delivery log rows that reference an in-flight carrier
// message id, re-fetches the authoritative status and patches rows whose
// status has drifted. Writes are conditional on the row's current status,
// so concurrent sweeps racing on the same row self-correct.
type Reconciler struct {
	gateway carrier.Gateway
	logs    DeliveryLogStore
	cfg     ReconcilerConfig
}

func NewReconciler(gateway carrier.Gateway, logs DeliveryLogStore, cfg ReconcilerConfig) *Reconciler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.BatchDelay <= 0 {
		cfg.BatchDelay = time.Second
	}
	if cfg.Window <= 0 {
		cfg.Window = 7 * 24 * time.Hour
	}
	return &Reconciler{gateway: gateway, logs: logs, cfg: cfg}
}

// Sweep reconciles all candidate rows inside the configured window, one
// fixed-size batch at a time with a delay between batches. Within a batch,
// carrier fetches run concurrently with all-settled semantics; a single
// row's failure is recorded and never aborts the sweep.
func (r *Reconciler) Sweep(ctx context.Context) (*SweepSummary, error) {
	summary := &SweepSummary{
		Transitions: make(map[string]int),
		Window:      r.cfg.Window,
		StartedAt:   time.Now().UTC(),
	}
	since := summary.StartedAt.Add(-r.cfg.Window)

	var mu sync.Mutex
	offset := 0
	for {
		rows, err := r.logs.ListReconcilable(ctx, since, r.cfg.BatchSize, offset)
		if err != nil {
			return summary, fmt.Errorf("list reconcilable rows at offset %d: %w", offset, err)
		}
		if len(rows) == 0 {
			break
		}

		var wg sync.WaitGroup
		for i := range rows {
			wg.Add(1)
			go func(row store.DeliveryLogEntry) {
				defer wg.Done()
				updated, transition, price, err := r.reconcileRow(ctx, row)

				mu.Lock()
				defer mu.Unlock()
				summary.Scanned++
				switch {
				case err != nil:
					summary.Errors++
				case updated:
					summary.Updated++
					summary.Transitions[transition]++
					if price != nil {
						summary.TotalPrice = summary.TotalPrice.Add(*price)
					}
				default:
					summary.Unchanged++
				}
			}(rows[i])
		}
		wg.Wait()

		if len(rows) < r.cfg.BatchSize {
			break
		}
		offset += r.cfg.BatchSize

		select {
		case <-ctx.Done():
			summary.FinishedAt = time.Now().UTC()
			return summary, ctx.Err()
		case <-time.After(r.cfg.BatchDelay):
		}
	}

	summary.FinishedAt = time.Now().UTC()
	slog.InfoContext(ctx, "Reconciliation sweep finished",
		slog.Int("scanned", summary.Scanned),
		slog.Int("updated", summary.Updated),
		slog.Int("unchanged", summary.Unchanged),
		slog.Int("errors", summary.Errors),
		slog.String("total_price", summary.TotalPrice.String()),
	)
	return summary, nil
}

// reconcileRow fetches one row's carrier status and writes only when the
// mapped status differs from the stored one.
func (r *Reconciler) reconcileRow(ctx context.Context, row store.DeliveryLogEntry) (updated bool, transition string, price *decimal.Decimal, err error) {
	logCtx := logging.ContextWithLogID(ctx, row.ID.String())
	if row.CarrierMessageID == nil || *row.CarrierMessageID == "" {
		return false, "", nil, nil
	}
	logCtx = logging.ContextWithCarrierMsgID(logCtx, *row.CarrierMessageID)

	res, err := r.gateway.FetchStatus(logCtx, *row.CarrierMessageID)
	if err != nil {
		slog.WarnContext(logCtx, "Failed to fetch carrier status", slog.Any("error", err))
		return false, "", nil, err
	}

	mapped := statusmap.MapCarrierStatus(res.Status, "http")
	if mapped == row.Status {
		return false, "", nil, nil
	}
	if !codes.IsValid(mapped) {
		slog.DebugContext(logCtx, "Carrier status has no local mapping, skipping",
			slog.String("carrier_status", res.Status))
		return false, "", nil, nil
	}
	if !codes.CanTransition(row.Status, mapped) {
		slog.WarnContext(logCtx, "Ignoring illegal status transition from carrier",
			slog.String("from", row.Status),
			slog.String("to", mapped),
		)
		return false, "", nil, nil
	}

	var deliveredAt *time.Time
	if mapped == codes.StatusDelivered {
		t := time.Now().UTC()
		if res.DateUpdated != nil {
			t = *res.DateUpdated
		}
		deliveredAt = &t
	}
	var errMsg *string
	if mapped == codes.StatusFailed {
		errMsg = res.ErrorMessage
		if errMsg == nil {
			generic := "carrier reported " + res.Status
			errMsg = &generic
		}
	}

	wrote, err := r.logs.ApplyCarrierStatus(logCtx, row.ID, row.Status, mapped, errMsg, deliveredAt, res.Price)
	if err != nil {
		slog.WarnContext(logCtx, "Failed to apply carrier status", slog.Any("error", err))
		return false, "", nil, err
	}
	if !wrote {
		// Another writer got there first. The next sweep sees the new state.
		return false, "", nil, nil
	}

	slog.InfoContext(logCtx, "Reconciled delivery log row",
		slog.String("from", row.Status),
		slog.String("to", mapped),
	)
	return true, row.Status + "->" + mapped, res.Price, nil
}
