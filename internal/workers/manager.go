package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/myhometown/textline/internal/config"
	"github.com/myhometown/textline/internal/sms"
	"github.com/myhometown/textline/internal/store"
)

// DueScheduleLister finds schedules whose send time has arrived.
// Implemented by store.ScheduleRepo.
type DueScheduleLister interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]store.ScheduledMessage, error)
}

// Dispatcher replays one due schedule. Implemented by sms.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, scheduleID uuid.UUID) (*sms.DispatchResult, error)
}

// Sweeper runs one reconciliation pass. Implemented by sms.Reconciler.
type Sweeper interface {
	Sweep(ctx context.Context) (*sms.SweepSummary, error)
}

// Manager orchestrates the background worker loops: due-schedule dispatch,
// status reconciliation and stream monitor cleanup.
type Manager struct {
	schedules  DueScheduleLister
	dispatcher Dispatcher
	reconciler Sweeper
	monitor    *sms.StreamMonitor
	cfg        config.WorkerConfig
}

func NewManager(schedules DueScheduleLister, dispatcher Dispatcher, reconciler Sweeper, monitor *sms.StreamMonitor, cfg config.WorkerConfig) *Manager {
	return &Manager{
		schedules:  schedules,
		dispatcher: dispatcher,
		reconciler: reconciler,
		monitor:    monitor,
		cfg:        cfg,
	}
}

// Start launches every worker loop. Loops exit when ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	slog.Info("Starting background workers")
	go runWorkerLoop(ctx, "ScheduledDispatch", m.cfg.ScheduledInterval, m.cfg.ScheduledBatchSize, m.dispatchDueSchedules)
	go runWorkerLoop(ctx, "StatusReconciler", m.cfg.ReconcileInterval, m.cfg.ReconcileBatchSize, m.reconcile)
	go runWorkerLoop(ctx, "MonitorCleanup", m.cfg.MonitorCleanupInterval, 0, m.cleanupStreams)
}

// dispatchDueSchedules replays every schedule whose send time has passed.
// One schedule's failure does not stop the rest of the tick.
func (m *Manager) dispatchDueSchedules(ctx context.Context, batchSize int) (int, error) {
	due, err := m.schedules.ListDue(ctx, time.Now().UTC(), batchSize)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, sched := range due {
		res, err := m.dispatcher.Dispatch(ctx, sched.ID)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to dispatch due schedule",
				slog.String("schedule_id", sched.ID.String()),
				slog.Any("error", err),
			)
			continue
		}
		processed++
		slog.InfoContext(ctx, "Dispatched due schedule",
			slog.String("schedule_id", sched.ID.String()),
			slog.Int("logs_created", res.LogsCreated),
			slog.Bool("deleted", res.Deleted),
		)
	}
	return processed, nil
}

func (m *Manager) reconcile(ctx context.Context, _ int) (int, error) {
	summary, err := m.reconciler.Sweep(ctx)
	if err != nil {
		return 0, err
	}
	return summary.Updated, nil
}

func (m *Manager) cleanupStreams(ctx context.Context, _ int) (int, error) {
	expired, orphaned := m.monitor.CleanupOrphaned()
	return expired + orphaned, nil
}
