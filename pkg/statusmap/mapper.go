// Package statusmap translates carrier delivery status vocabulary into the
// local delivery status vocabulary used by the log store.
package statusmap

import (
	"log/slog"
	"strings"

	"github.com/myhometown/textline/pkg/codes"
)

// REST carriers report lowercase statuses on message fetch and on status
// callbacks. Non-terminal intermediate states map to "sent".
var httpToLocal = map[string]string{
	"queued":      codes.StatusSent,
	"accepted":    codes.StatusSent,
	"sending":     codes.StatusSent,
	"sent":        codes.StatusSent,
	"delivered":   codes.StatusDelivered,
	"undelivered": codes.StatusFailed,
	"failed":      codes.StatusFailed,
}

// SMPP delivery receipts use the standard appendix B "stat" values.
var smppToLocal = map[string]string{
	"DELIVRD": codes.StatusDelivered,
	"ACCEPTD": codes.StatusSent,
	"ENROUTE": codes.StatusSent,
	"EXPIRED": codes.StatusFailed,
	"DELETED": codes.StatusFailed,
	"UNDELIV": codes.StatusFailed,
	"REJECTD": codes.StatusFailed,
}

// MapCarrierStatus translates a carrier-reported status into the local
// vocabulary. Unknown statuses pass through unchanged so callers can apply
// their write-if-different check without inventing state.
func MapCarrierStatus(carrierStatus string, protocol string) string {
	switch strings.ToLower(protocol) {
	case "http":
		if local, ok := httpToLocal[strings.ToLower(carrierStatus)]; ok {
			return local
		}
	case "smpp":
		if local, ok := smppToLocal[strings.ToUpper(carrierStatus)]; ok {
			return local
		}
	default:
		slog.Warn("Unknown protocol requested for status mapping", slog.String("protocol", protocol))
		return carrierStatus
	}

	slog.Debug("No mapping found for carrier status, passing through",
		slog.String("carrier_status", carrierStatus),
		slog.String("protocol", protocol),
	)
	return carrierStatus
}
