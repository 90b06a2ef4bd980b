package sms

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// streamResource is one tracked long-lived send operation. done is the
// owning controller's context; a closed done channel with the resource
// still registered means the controller finished without releasing.
type streamResource struct {
	messageID string
	startedAt time.Time
	ttl       time.Duration
	cancel    context.CancelFunc
	done      <-chan struct{}
}

// StreamInfo is one resource's externally visible state.
type StreamInfo struct {
	MessageID  string  `json:"messageId"`
	AgeSeconds float64 `json:"ageSeconds"`
	TTLSeconds float64 `json:"ttlSeconds"`
	Status     string  `json:"status"`
}

// StreamMonitorConfig sets the default resource TTL and the age at which a
// stream is flagged long-running.
type StreamMonitorConfig struct {
	DefaultTTL       time.Duration
	LongRunningAfter time.Duration
}

// StreamMonitor tracks currently-open long-lived send resources keyed by
// message id and cleans up expired or orphaned ones. It holds no
// persistence; everything here is in-process state.
type StreamMonitor struct {
	streams cmap.ConcurrentMap[string, *streamResource]
	cfg     StreamMonitorConfig
}

func NewStreamMonitor(cfg StreamMonitorConfig) *StreamMonitor {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 10 * time.Minute
	}
	if cfg.LongRunningAfter <= 0 {
		cfg.LongRunningAfter = 300 * time.Second
	}
	return &StreamMonitor{
		streams: cmap.New[*streamResource](),
		cfg:     cfg,
	}
}

// Track registers a long-lived send operation and returns a context the
// owner must run under. Callers release via the returned cancel func or
// Release; anything left behind is reaped by CleanupOrphaned.
func (m *StreamMonitor) Track(ctx context.Context, messageID string) (context.Context, context.CancelFunc) {
	streamCtx, cancel := context.WithCancel(ctx)
	m.streams.Set(messageID, &streamResource{
		messageID: messageID,
		startedAt: time.Now(),
		ttl:       m.cfg.DefaultTTL,
		cancel:    cancel,
		done:      streamCtx.Done(),
	})
	slog.Debug("Tracking stream resource", slog.String("message_id", messageID))
	return streamCtx, cancel
}

// Release cancels and unregisters one resource. Releasing an unknown id is
// a no-op.
func (m *StreamMonitor) Release(messageID string) {
	if res, ok := m.streams.Pop(messageID); ok {
		res.cancel()
		slog.Debug("Released stream resource",
			slog.String("message_id", messageID),
			slog.Duration("lifetime", time.Since(res.startedAt)),
		)
	}
}

// Count returns the number of currently tracked resources.
func (m *StreamMonitor) Count() int {
	return m.streams.Count()
}

// Snapshot returns the per-resource view used by the monitor endpoint.
func (m *StreamMonitor) Snapshot() []StreamInfo {
	now := time.Now()
	out := make([]StreamInfo, 0, m.streams.Count())
	for _, res := range m.streams.Items() {
		age := now.Sub(res.startedAt)
		out = append(out, StreamInfo{
			MessageID:  res.messageID,
			AgeSeconds: age.Seconds(),
			TTLSeconds: res.ttl.Seconds(),
			Status:     m.classify(res, age),
		})
	}
	return out
}

func (m *StreamMonitor) classify(res *streamResource, age time.Duration) string {
	select {
	case <-res.done:
		return "orphaned"
	default:
	}
	if age > res.ttl {
		return "expired"
	}
	if age > m.cfg.LongRunningAfter {
		return "long-running"
	}
	return "active"
}

// CleanupOrphaned releases every resource whose age exceeds its TTL or
// whose owning controller already finished, and returns how many of each
// were reaped.
func (m *StreamMonitor) CleanupOrphaned() (expired, orphaned int) {
	now := time.Now()
	for id, res := range m.streams.Items() {
		isOrphaned := false
		select {
		case <-res.done:
			isOrphaned = true
		default:
		}
		isExpired := now.Sub(res.startedAt) > res.ttl

		if !isOrphaned && !isExpired {
			continue
		}
		if _, ok := m.streams.Pop(id); !ok {
			continue
		}
		res.cancel()
		if isOrphaned {
			orphaned++
		} else {
			expired++
		}
		slog.Info("Cleaned up stream resource",
			slog.String("message_id", id),
			slog.Bool("orphaned", isOrphaned),
			slog.Bool("expired", isExpired),
		)
	}
	return expired, orphaned
}

// Health returns "healthy" or "N long-running" once any tracked resource
// has been open past the long-running threshold.
func (m *StreamMonitor) Health() string {
	now := time.Now()
	longRunning := 0
	for _, res := range m.streams.Items() {
		if now.Sub(res.startedAt) > m.cfg.LongRunningAfter {
			longRunning++
		}
	}
	if longRunning == 0 {
		return "healthy"
	}
	return fmt.Sprintf("%d long-running", longRunning)
}
