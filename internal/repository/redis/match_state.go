package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key layout for live match state. Opening state is a JSON blob mirroring
// the in-memory registry; watchdog keys carry no value worth reading, only
// a TTL that fires a keyspace notification when a disconnect grace period
// lapses.
const (
	openingKeyPrefix  = "game:"
	openingKeySuffix  = ":opening"
	watchdogKeyPrefix = "series:"
	watchdogKeySuffix = ":watchdog"

	// Opening state outlives any realistic Swap 2 negotiation. It is
	// re-mirrored on every mutation and deleted when the opening
	// completes, so the TTL only reaps state from abandoned games.
	openingStateTTL = 24 * time.Hour

	// Watchdog keys get a small grace past the logical deadline so that
	// the poller, not the notification, is the usual first responder and
	// the expiry event acts as a backstop.
	watchdogGrace = 2 * time.Second
)

func openingKey(gameID string) string {
	return openingKeyPrefix + gameID + openingKeySuffix
}

func watchdogKey(seriesID string) string {
	return watchdogKeyPrefix + seriesID + watchdogKeySuffix
}

// SeriesIDFromWatchdogKey extracts the series ID from an expired watchdog
// key, returning false for keys that are not watchdog keys.
func SeriesIDFromWatchdogKey(key string) (string, bool) {
	if !strings.HasPrefix(key, watchdogKeyPrefix) || !strings.HasSuffix(key, watchdogKeySuffix) {
		return "", false
	}
	id := key[len(watchdogKeyPrefix) : len(key)-len(watchdogKeySuffix)]
	if id == "" {
		return "", false
	}
	return id, true
}

// SetOpeningState mirrors the serialized Swap 2 state for a game.
func (c *Client) SetOpeningState(ctx context.Context, gameID string, state json.RawMessage) error {
	if err := c.rdb.Set(ctx, openingKey(gameID), []byte(state), openingStateTTL).Err(); err != nil {
		return fmt.Errorf("set opening state for game %s: %w", gameID, err)
	}
	return nil
}

// GetOpeningState returns the mirrored Swap 2 state for a game, or nil if
// none is stored.
func (c *Client) GetOpeningState(ctx context.Context, gameID string) (json.RawMessage, error) {
	data, err := c.rdb.Get(ctx, openingKey(gameID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get opening state for game %s: %w", gameID, err)
	}
	return json.RawMessage(data), nil
}

// DeleteOpeningState removes the mirrored state once an opening completes.
func (c *Client) DeleteOpeningState(ctx context.Context, gameID string) error {
	if err := c.rdb.Del(ctx, openingKey(gameID)).Err(); err != nil {
		return fmt.Errorf("delete opening state for game %s: %w", gameID, err)
	}
	return nil
}

// SetWatchdog arms a TTL key that expires shortly after the disconnect
// deadline. Re-arming for the same series replaces any prior watchdog.
func (c *Client) SetWatchdog(ctx context.Context, seriesID string, deadline time.Time) error {
	ttl := time.Until(deadline) + watchdogGrace
	if ttl <= 0 {
		ttl = time.Millisecond
	}
	if err := c.rdb.Set(ctx, watchdogKey(seriesID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("set watchdog for series %s: %w", seriesID, err)
	}
	return nil
}

// ClearWatchdog disarms the watchdog after a reconnect or series end.
func (c *Client) ClearWatchdog(ctx context.Context, seriesID string) error {
	if err := c.rdb.Del(ctx, watchdogKey(seriesID)).Err(); err != nil {
		return fmt.Errorf("clear watchdog for series %s: %w", seriesID, err)
	}
	return nil
}

// DeleteSeriesData removes all live keys for a finished series.
func (c *Client) DeleteSeriesData(ctx context.Context, seriesID, gameID string) error {
	keys := []string{watchdogKey(seriesID)}
	if gameID != "" {
		keys = append(keys, openingKey(gameID))
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete series data for %s: %w", seriesID, err)
	}
	return nil
}
