package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T, ttl time.Duration) (*DedupeStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewDedupeStore(client, ttl), mr
}

func TestDedupeStore_SeenAndMark(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t, time.Hour)
	ctx := context.Background()

	seen, err := store.Seen(ctx, "SM1:delivered")
	if err != nil {
		t.Fatalf("Seen() error = %v", err)
	}
	if seen {
		t.Error("Seen() before Mark() = true, want false")
	}

	// Seen never marks; a repeated check stays false until Mark runs.
	seen, err = store.Seen(ctx, "SM1:delivered")
	if err != nil {
		t.Fatalf("Seen() error = %v", err)
	}
	if seen {
		t.Error("second Seen() without Mark() = true, want false")
	}

	if err := store.Mark(ctx, "SM1:delivered"); err != nil {
		t.Fatalf("Mark() error = %v", err)
	}
	seen, err = store.Seen(ctx, "SM1:delivered")
	if err != nil {
		t.Fatalf("Seen() error = %v", err)
	}
	if !seen {
		t.Error("Seen() after Mark() = false, want true")
	}

	// A different status for the same message is a distinct key.
	seen, err = store.Seen(ctx, "SM1:failed")
	if err != nil {
		t.Fatalf("Seen() error = %v", err)
	}
	if seen {
		t.Error("Seen() for new status = true, want false")
	}
}

func TestDedupeStore_TTLExpiry(t *testing.T) {
	t.Parallel()

	store, mr := newTestStore(t, time.Minute)
	ctx := context.Background()

	if err := store.Mark(ctx, "SM2:delivered"); err != nil {
		t.Fatalf("Mark() error = %v", err)
	}
	mr.FastForward(2 * time.Minute)

	seen, err := store.Seen(ctx, "SM2:delivered")
	if err != nil {
		t.Fatalf("Seen() error = %v", err)
	}
	if seen {
		t.Error("Seen() after TTL expiry = true, want false")
	}
}
