package sms

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/myhometown/textline/internal/store"
)

// DeliveryLogStore is the persistence surface the send and reconcile paths
// need. Implemented by store.DeliveryLogRepo.
type DeliveryLogStore interface {
	Create(ctx context.Context, e *store.DeliveryLogEntry) error
	FindByCarrierMessageID(ctx context.Context, carrierMessageID string) (*store.DeliveryLogEntry, error)
	MarkSent(ctx context.Context, id uuid.UUID, carrierMessageID string, sentAt time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error
	ApplyCarrierStatus(ctx context.Context, id uuid.UUID, fromStatus, toStatus string, errorMessage *string, deliveredAt *time.Time, price *decimal.Decimal) (bool, error)
	ListReconcilable(ctx context.Context, since time.Time, limit, offset int) ([]store.DeliveryLogEntry, error)
}

// BatchCounterStore mutates per-batch aggregate counters. Every mutation is
// a signed delta applied in the database; callers never read-modify-write.
type BatchCounterStore interface {
	Create(ctx context.Context, batchID string, total int) error
	Move(ctx context.Context, batchID, from, to string) error
	MarkCompleted(ctx context.Context, batchID string) error
}

// ScheduleStore is the queued-message surface the dispatcher consumes.
type ScheduleStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*store.ScheduledMessage, error)
	RecordResults(ctx context.Context, id uuid.UUID, results any, processedAt time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// Notifier pushes operator-facing alerts, e.g. a batch aborted on rejected
// carrier credentials.
type Notifier interface {
	Notify(ctx context.Context, subject, message string) error
}

// Recipient is one send target. LogID decides durability at construction
// time: a non-nil LogID references a pre-created delivery log row and the
// send mutates that row and the batch counters; a nil LogID marks an
// ephemeral recipient that is sent but leaves no persistence side effects.
type Recipient struct {
	Name      string
	Phone     string
	ContactID *string
	LogID     *uuid.UUID
}

// Durable reports whether this recipient is backed by a delivery log row.
func (r Recipient) Durable() bool {
	return r.LogID != nil
}

// SendOutcome is one recipient's result inside a batch or dispatch summary.
type SendOutcome struct {
	Recipient        string `json:"recipient"`
	Phone            string `json:"phone,omitempty"`
	Status           string `json:"status"`
	CarrierMessageID string `json:"sid,omitempty"`
	Error            string `json:"error,omitempty"`
}

// ValidationError is malformed or missing caller input. It maps to a 4xx
// response and is never retried.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}
