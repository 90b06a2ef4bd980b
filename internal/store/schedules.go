package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ScheduleRepo persists queued messages awaiting dispatch. Recipients and
// media URLs are stored JSON-encoded on the row, mirroring how the
// scheduling UI writes them.
type ScheduleRepo struct {
	db *pgxpool.Pool
	sb sq.StatementBuilderType
}

func NewScheduleRepo(db *pgxpool.Pool) *ScheduleRepo {
	return &ScheduleRepo{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

const scheduleColumns = "id, message_content, recipients, media_urls, owner_user_id, scheduled_for, metadata, processed_at, created_at"

// GetByID fetches one schedule, decoding the stored recipient set, or
// ErrNotFound.
func (r *ScheduleRepo) GetByID(ctx context.Context, id uuid.UUID) (*ScheduledMessage, error) {
	query := r.sb.
		Select(scheduleColumns).
		From("scheduled_messages").
		Where(sq.Eq{"id": id}).
		Limit(1)

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get schedule sql: %w", err)
	}

	row := r.db.QueryRow(ctx, sqlStr, args...)
	return scanSchedule(row)
}

// ListDue returns schedules whose send time has arrived and that have not
// been processed yet, oldest first.
func (r *ScheduleRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]ScheduledMessage, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	query := r.sb.
		Select(scheduleColumns).
		From("scheduled_messages").
		Where(sq.LtOrEq{"scheduled_for": now}).
		Where(sq.Eq{"processed_at": nil}).
		OrderBy("scheduled_for ASC").
		Limit(uint64(limit))

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list due schedules sql: %w", err)
	}

	rows, err := r.db.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list due schedules: %w", err)
	}
	defer rows.Close()

	var out []ScheduledMessage
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// RecordResults writes the per-recipient dispatch outcomes and the
// processed timestamp back onto the schedule row before deletion.
func (r *ScheduleRepo) RecordResults(ctx context.Context, id uuid.UUID, results any, processedAt time.Time) error {
	payload, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshal dispatch results: %w", err)
	}

	query := r.sb.
		Update("scheduled_messages").
		Set("metadata", sq.Expr("COALESCE(metadata, '{}'::jsonb) || jsonb_build_object('deliveryResults', ?::jsonb)", payload)).
		Set("processed_at", processedAt).
		Where(sq.Eq{"id": id})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build record results sql: %w", err)
	}
	tag, err := r.db.Exec(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("record dispatch results: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a fully-dispatched schedule. Callers treat failure as
// non-fatal; the delivery log rows are the authoritative record.
func (r *ScheduleRepo) Delete(ctx context.Context, id uuid.UUID) error {
	query := r.sb.
		Delete("scheduled_messages").
		Where(sq.Eq{"id": id})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build delete schedule sql: %w", err)
	}
	tag, err := r.db.Exec(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSchedule(row pgx.Row) (*ScheduledMessage, error) {
	var (
		s          ScheduledMessage
		recipients []byte
		mediaURLs  []byte
		metadata   []byte
	)
	err := row.Scan(
		&s.ID,
		&s.MessageContent,
		&recipients,
		&mediaURLs,
		&s.OwnerUserID,
		&s.ScheduledFor,
		&metadata,
		&s.ProcessedAt,
		&s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan schedule: %w", err)
	}

	if len(recipients) > 0 {
		if err := json.Unmarshal(recipients, &s.Recipients); err != nil {
			return nil, fmt.Errorf("unmarshal schedule recipients: %w", err)
		}
	}
	if len(mediaURLs) > 0 {
		if err := json.Unmarshal(mediaURLs, &s.MediaURLs); err != nil {
			return nil, fmt.Errorf("unmarshal schedule media urls: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &s.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal schedule metadata: %w", err)
		}
	}
	return &s, nil
}
