package store

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/myhometown/textline/pkg/codes"
)

// BatchCounterRepo maintains the aggregate counters for batch sends. All
// counter movement happens as signed deltas inside a single UPDATE so that
// concurrent per-recipient resolutions never lose updates.
type BatchCounterRepo struct {
	db *pgxpool.Pool
	sb sq.StatementBuilderType
}

func NewBatchCounterRepo(db *pgxpool.Pool) *BatchCounterRepo {
	return &BatchCounterRepo{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Create initializes the counter row for a batch: all recipients pending.
func (r *BatchCounterRepo) Create(ctx context.Context, batchID string, total int) error {
	if batchID == "" {
		return fmt.Errorf("batch id is empty")
	}
	if total <= 0 {
		return fmt.Errorf("total must be > 0")
	}

	query := r.sb.
		Insert("batch_counters").
		Columns("batch_id", "pending", "sent", "delivered", "failed", "status").
		Values(batchID, total, 0, 0, 0, codes.BatchStatusInProgress)

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build insert batch counters sql: %w", err)
	}
	if _, err := r.db.Exec(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("insert batch counters: %w", err)
	}
	return nil
}

// Move shifts one recipient between counter columns atomically, e.g.
// Move(ctx, id, "pending", "failed") on a failed send. The column whitelist
// keeps the dynamic SQL honest.
func (r *BatchCounterRepo) Move(ctx context.Context, batchID, from, to string) error {
	if !counterColumn(from) || !counterColumn(to) {
		return fmt.Errorf("unknown counter column %q -> %q", from, to)
	}
	if from == to {
		return nil
	}

	sqlStr := fmt.Sprintf(
		`UPDATE batch_counters SET %s = %s - 1, %s = %s + 1, updated_at = NOW() WHERE batch_id = $1 AND %s > 0`,
		from, from, to, to, from,
	)
	tag, err := r.db.Exec(ctx, sqlStr, batchID)
	if err != nil {
		return fmt.Errorf("move batch counter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkCompleted flips the batch status once every recipient was attempted.
func (r *BatchCounterRepo) MarkCompleted(ctx context.Context, batchID string) error {
	query := r.sb.
		Update("batch_counters").
		Set("status", codes.BatchStatusCompleted).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"batch_id": batchID})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build mark completed sql: %w", err)
	}
	tag, err := r.db.Exec(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("mark batch completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Get fetches one batch's counters, or ErrNotFound.
func (r *BatchCounterRepo) Get(ctx context.Context, batchID string) (*BatchCounters, error) {
	query := r.sb.
		Select("batch_id", "pending", "sent", "delivered", "failed", "status", "created_at", "updated_at").
		From("batch_counters").
		Where(sq.Eq{"batch_id": batchID}).
		Limit(1)

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get batch counters sql: %w", err)
	}

	var b BatchCounters
	err = r.db.QueryRow(ctx, sqlStr, args...).Scan(
		&b.BatchID,
		&b.Pending,
		&b.Sent,
		&b.Delivered,
		&b.Failed,
		&b.Status,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get batch counters: %w", err)
	}
	return &b, nil
}

func counterColumn(name string) bool {
	switch name {
	case "pending", "sent", "delivered", "failed":
		return true
	}
	return false
}
