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
	"github.com/shopspring/decimal"

	"github.com/myhometown/textline/pkg/codes"
)

const deliveryLogColumns = `id, message_group_id, sender_id, owner_id, owner_type,
	recipient_phone, recipient_contact_id, message_content, media_urls, status,
	carrier_message_id, error_message, price, metadata, created_at, updated_at,
	sent_at, delivered_at`

// DeliveryLogRepo persists delivery log rows. All mutations are id-scoped
// single-row updates; rows are never deleted.
type DeliveryLogRepo struct {
	db *pgxpool.Pool
	sb sq.StatementBuilderType
}

func NewDeliveryLogRepo(db *pgxpool.Pool) *DeliveryLogRepo {
	return &DeliveryLogRepo{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Create inserts a new delivery log row. The caller supplies the id so the
// row can be referenced before the insert resolves.
func (r *DeliveryLogRepo) Create(ctx context.Context, e *DeliveryLogEntry) error {
	if e == nil {
		return fmt.Errorf("entry is nil")
	}
	if e.ID == uuid.Nil {
		return fmt.Errorf("entry id is empty")
	}
	if !codes.IsValid(e.Status) {
		return fmt.Errorf("invalid status %q", e.Status)
	}

	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	query := r.sb.
		Insert("delivery_logs").
		Columns(
			"id",
			"message_group_id",
			"sender_id",
			"owner_id",
			"owner_type",
			"recipient_phone",
			"recipient_contact_id",
			"message_content",
			"media_urls",
			"status",
			"carrier_message_id",
			"error_message",
			"metadata",
		).
		Values(
			e.ID,
			e.MessageGroupID,
			e.SenderID,
			e.OwnerID,
			e.OwnerType,
			e.RecipientPhone,
			e.RecipientContactID,
			e.MessageContent,
			e.MediaURLs,
			e.Status,
			e.CarrierMessageID,
			e.ErrorMessage,
			metadata,
		)

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build insert delivery log sql: %w", err)
	}
	if _, err := r.db.Exec(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("insert delivery log: %w", err)
	}
	return nil
}

// GetByID fetches one row, or ErrNotFound.
func (r *DeliveryLogRepo) GetByID(ctx context.Context, id uuid.UUID) (*DeliveryLogEntry, error) {
	query := r.sb.
		Select(deliveryLogColumns).
		From("delivery_logs").
		Where(sq.Eq{"id": id}).
		Limit(1)

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get delivery log sql: %w", err)
	}
	return r.scanOne(ctx, sqlStr, args)
}

// FindByCarrierMessageID fetches the row the carrier's message id points at,
// or ErrNotFound. Used by the status-callback and SMPP receipt paths.
func (r *DeliveryLogRepo) FindByCarrierMessageID(ctx context.Context, carrierMessageID string) (*DeliveryLogEntry, error) {
	query := r.sb.
		Select(deliveryLogColumns).
		From("delivery_logs").
		Where(sq.Eq{"carrier_message_id": carrierMessageID}).
		Limit(1)

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build find by carrier id sql: %w", err)
	}
	return r.scanOne(ctx, sqlStr, args)
}

// MarkSent moves a pending row to sent and records the carrier message id.
// The status guard in the WHERE clause keeps a late write from clobbering a
// row that already reached a terminal state.
func (r *DeliveryLogRepo) MarkSent(ctx context.Context, id uuid.UUID, carrierMessageID string, sentAt time.Time) error {
	query := r.sb.
		Update("delivery_logs").
		Set("status", codes.StatusSent).
		Set("carrier_message_id", carrierMessageID).
		Set("sent_at", sentAt).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id, "status": codes.StatusPending})

	return r.execExpectingRow(ctx, query)
}

// MarkFailed moves a pending or sent row to failed with a reason.
func (r *DeliveryLogRepo) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	query := r.sb.
		Update("delivery_logs").
		Set("status", codes.StatusFailed).
		Set("error_message", errorMessage).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id}).
		Where(sq.Eq{"status": []string{codes.StatusPending, codes.StatusSent}})

	return r.execExpectingRow(ctx, query)
}

// ApplyCarrierStatus patches a row whose authoritative carrier status has
// drifted from the local one. The fromStatus guard makes concurrent sweeps
// race-safe: whichever update lands first wins and the other becomes a
// no-op. Returns true when a row was actually written.
func (r *DeliveryLogRepo) ApplyCarrierStatus(
	ctx context.Context,
	id uuid.UUID,
	fromStatus, toStatus string,
	errorMessage *string,
	deliveredAt *time.Time,
	price *decimal.Decimal,
) (bool, error) {
	if !codes.CanTransition(fromStatus, toStatus) {
		return false, fmt.Errorf("illegal status transition %s -> %s", fromStatus, toStatus)
	}

	query := r.sb.
		Update("delivery_logs").
		Set("status", toStatus).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id, "status": fromStatus})
	if errorMessage != nil {
		query = query.Set("error_message", *errorMessage)
	}
	if deliveredAt != nil {
		query = query.Set("delivered_at", *deliveredAt)
	}
	if price != nil {
		query = query.Set("price", *price)
	}

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return false, fmt.Errorf("build apply carrier status sql: %w", err)
	}
	tag, err := r.db.Exec(ctx, sqlStr, args...)
	if err != nil {
		return false, fmt.Errorf("apply carrier status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListReconcilable returns rows the status reconciler should re-check:
// carrier id present, non-terminal status, created within the window.
// Paged by limit/offset so sweeps can walk large ranges.
func (r *DeliveryLogRepo) ListReconcilable(ctx context.Context, since time.Time, limit, offset int) ([]DeliveryLogEntry, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	query := r.sb.
		Select(deliveryLogColumns).
		From("delivery_logs").
		Where(sq.NotEq{"carrier_message_id": nil}).
		Where(sq.Eq{"status": []string{codes.StatusPending, codes.StatusSent}}).
		Where(sq.GtOrEq{"created_at": since}).
		OrderBy("created_at ASC").
		Limit(uint64(limit)).
		Offset(uint64(offset))

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list reconcilable sql: %w", err)
	}

	rows, err := r.db.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list reconcilable: %w", err)
	}
	defer rows.Close()

	var out []DeliveryLogEntry
	for rows.Next() {
		e, err := scanDeliveryLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// ListByGroup returns every row of one logical send, oldest first.
func (r *DeliveryLogRepo) ListByGroup(ctx context.Context, groupID uuid.UUID) ([]DeliveryLogEntry, error) {
	query := r.sb.
		Select(deliveryLogColumns).
		From("delivery_logs").
		Where(sq.Eq{"message_group_id": groupID}).
		OrderBy("created_at ASC")

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list by group sql: %w", err)
	}

	rows, err := r.db.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list by group: %w", err)
	}
	defer rows.Close()

	var out []DeliveryLogEntry
	for rows.Next() {
		e, err := scanDeliveryLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (r *DeliveryLogRepo) execExpectingRow(ctx context.Context, query sq.UpdateBuilder) error {
	sqlStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build update delivery log sql: %w", err)
	}
	tag, err := r.db.Exec(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("update delivery log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *DeliveryLogRepo) scanOne(ctx context.Context, sqlStr string, args []any) (*DeliveryLogEntry, error) {
	rows, err := r.db.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query delivery log: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return scanDeliveryLog(rows)
}

func scanDeliveryLog(row pgx.Row) (*DeliveryLogEntry, error) {
	var (
		e        DeliveryLogEntry
		metadata []byte
	)
	err := row.Scan(
		&e.ID,
		&e.MessageGroupID,
		&e.SenderID,
		&e.OwnerID,
		&e.OwnerType,
		&e.RecipientPhone,
		&e.RecipientContactID,
		&e.MessageContent,
		&e.MediaURLs,
		&e.Status,
		&e.CarrierMessageID,
		&e.ErrorMessage,
		&e.Price,
		&metadata,
		&e.CreatedAt,
		&e.UpdatedAt,
		&e.SentAt,
		&e.DeliveredAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan delivery log: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &e, nil
}
