package notification

import (
	"context"
	"log/slog"
)

// LogNotifier writes operator alerts to the structured log. Replace with
// actual email/pager delivery when an alerting channel exists.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

// Notify records one alert.
func (n *LogNotifier) Notify(ctx context.Context, subject, message string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	slog.WarnContext(ctx, "OPERATOR ALERT",
		slog.String("subject", subject),
		slog.String("message", message),
	)
	return nil
}
