// Package codes centralizes delivery status vocabulary and the allowed
// transitions between statuses.
package codes

// Delivery Status Codes
const (
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

// Carrier Connection Status Codes
const (
	ConnStatusDisconnected = "disconnected"
	ConnStatusConnecting   = "connecting"
	ConnStatusBound        = "bound" // Specifically for SMPP receiver sessions
	ConnStatusUnbinding    = "unbinding"
	ConnStatusActive       = "active"
	ConnStatusError        = "error"
)

// Batch Status Codes
const (
	BatchStatusInProgress = "in_progress"
	BatchStatusCompleted  = "completed"
)

// allowedTransitions is the full set of legal status moves. Anything not
// listed here is rejected by CanTransition.
var allowedTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusSent:   true,
		StatusFailed: true,
	},
	StatusSent: {
		StatusDelivered: true,
		StatusFailed:    true,
	},
}

// IsValid reports whether s is a known delivery status.
func IsValid(s string) bool {
	switch s {
	case StatusPending, StatusSent, StatusDelivered, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether a row in this status can never change again.
func IsTerminal(s string) bool {
	return s == StatusDelivered || s == StatusFailed
}

// CanTransition reports whether moving a delivery log row from one status
// to another is legal. A same-status write is treated as a no-op and
// allowed so idempotent re-writes do not trip validation.
func CanTransition(from, to string) bool {
	if from == to {
		return true
	}
	return allowedTransitions[from][to]
}
