package service

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/omok-arena/api/internal/repository/redis"
)

// WatchdogListener listens for Redis keyspace notifications on expired
// watchdog keys and forfeits timed-out disconnects. A polling fallback
// catches expirations if keyspace notifications are unavailable.
type WatchdogListener struct {
	rdb           *goredis.Client
	disconnectSvc *DisconnectService
}

// NewWatchdogListener creates a WatchdogListener.
func NewWatchdogListener(rdb *goredis.Client, disconnectSvc *DisconnectService) *WatchdogListener {
	return &WatchdogListener{rdb: rdb, disconnectSvc: disconnectSvc}
}

// Start begins listening for expired key events and runs a polling fallback.
func (w *WatchdogListener) Start(ctx context.Context) {
	go w.listenKeyspace(ctx)
	w.pollExpiredDisconnects(ctx)
}

// listenKeyspace subscribes to Redis keyspace notifications for expired keys.
func (w *WatchdogListener) listenKeyspace(ctx context.Context) {
	pubsub := w.rdb.PSubscribe(ctx, "__keyevent@0__:expired")
	defer pubsub.Close()

	log.Info().Msg("Watchdog listener started, listening for expired keys")
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.handleExpiry(ctx, msg.Payload)
		}
	}
}

// pollExpiredDisconnects sweeps for lapsed grace periods once per second.
func (w *WatchdogListener) pollExpiredDisconnects(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	log.Info().Msg("Disconnect poller started (1s interval)")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Disconnect poller stopped")
			return
		case <-ticker.C:
			w.checkExpiredDisconnects(ctx)
		}
	}
}

// checkExpiredDisconnects forfeits every series whose grace period lapsed.
func (w *WatchdogListener) checkExpiredDisconnects(ctx context.Context) {
	for _, seriesID := range w.disconnectSvc.ExpiredSeries() {
		log.Info().Str("seriesId", seriesID).Msg("Poller found lapsed disconnect")
		if _, err := w.disconnectSvc.CheckTimeout(ctx, seriesID); err != nil {
			log.Error().Err(err).Str("seriesId", seriesID).Msg("Timeout check failed from poller")
		}
	}
}

// handleExpiry processes an expired key. Only acts on watchdog keys.
func (w *WatchdogListener) handleExpiry(ctx context.Context, key string) {
	seriesID, ok := redis.SeriesIDFromWatchdogKey(key)
	if !ok {
		return
	}

	log.Info().Str("seriesId", seriesID).Msg("Watchdog expired, checking disconnect timeout")
	if _, err := w.disconnectSvc.CheckTimeout(ctx, seriesID); err != nil {
		log.Error().Err(err).Str("seriesId", seriesID).Msg("Timeout check failed after watchdog expiry")
	}
}
