package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ChannelExperts carries the id of every inserted, updated or deleted
// expert. The experts_changed trigger publishes on it.
const ChannelExperts = "guidematch_experts"

const maxListenBackoff = 30 * time.Second

// WatchExperts calls onChange with the expert id of every change
// notification until ctx is cancelled. It holds one connection taken out of
// the pool and reconnects with backoff when that connection drops.
// Notifications sent while disconnected are lost.
func (db *DB) WatchExperts(ctx context.Context, onChange func(id string)) {
	backoff := time.Second
	for ctx.Err() == nil {
		listening, err := db.listen(ctx, ChannelExperts, onChange)
		if ctx.Err() != nil {
			return
		}
		if listening {
			backoff = time.Second
		}
		db.logger.Warn("storage: expert change listener lost", "error", err, "retry_in", backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxListenBackoff)
	}
}

// listen reports whether LISTEN succeeded before the returned error.
func (db *DB) listen(ctx context.Context, channel string, fn func(string)) (bool, error) {
	pooled, err := db.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("storage: acquire listen conn: %w", err)
	}
	// A LISTENing session must not go back to the pool.
	conn := pooled.Hijack()
	defer func() { _ = conn.Close(context.Background()) }()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return false, fmt.Errorf("storage: listen %s: %w", channel, err)
	}
	db.logger.Debug("storage: listening", "channel", channel)
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return true, fmt.Errorf("storage: wait for notification: %w", err)
		}
		fn(n.Payload)
	}
}

// Notify sends a notification on the specified channel.
func (db *DB) Notify(ctx context.Context, channel, payload string) error {
	_, err := db.pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, payload)
	if err != nil {
		return fmt.Errorf("storage: notify %s: %w", channel, err)
	}
	return nil
}
