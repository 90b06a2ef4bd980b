package store

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DeliveryLogEntry is one row per (message, recipient) pair. Rows are never
// deleted once created; they are the authoritative audit trail for every
// outbound text.
type DeliveryLogEntry struct {
	ID                 uuid.UUID
	MessageGroupID     uuid.UUID
	SenderID           string
	OwnerID            string
	OwnerType          string
	RecipientPhone     string
	RecipientContactID *string
	MessageContent     string
	MediaURLs          []string
	Status             string
	CarrierMessageID   *string
	ErrorMessage       *string
	Price              *decimal.Decimal
	Metadata           map[string]any
	CreatedAt          time.Time
	UpdatedAt          time.Time
	SentAt             *time.Time
	DeliveredAt        *time.Time
}

// BatchCounters is the aggregate row for one batch send. The four counters
// always sum to the batch's original recipient count.
type BatchCounters struct {
	BatchID   string
	Pending   int32
	Sent      int32
	Delivered int32
	Failed    int32
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ScheduledMessage is a queued message plus recipient set, consumed exactly
// once by the scheduled dispatcher and deleted afterwards.
type ScheduledMessage struct {
	ID             uuid.UUID
	MessageContent string
	Recipients     []ScheduledRecipient
	MediaURLs      []string
	OwnerUserID    string
	ScheduledFor   time.Time
	Metadata       map[string]any
	ProcessedAt    *time.Time
	CreatedAt      time.Time
}

// ScheduledRecipient is one entry of a scheduled message's recipient set as
// stored on the schedule row.
type ScheduledRecipient struct {
	Name      string  `json:"name"`
	Phone     string  `json:"phone"`
	ContactID *string `json:"contactId,omitempty"`
}
