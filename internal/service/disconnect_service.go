package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/omok-arena/api/internal/model"
	"github.com/omok-arena/api/internal/repository"
)

// DisconnectTimeoutSeconds is the grace period before a disconnected
// player forfeits the current game.
const DisconnectTimeoutSeconds = 60

// disconnectState records one active disconnect for a series. A series
// tracks at most one; a newer disconnect by the other player overwrites.
type disconnectState struct {
	PlayerID       string
	DisconnectedAt int64
}

// PausedResult is returned when a disconnect pauses a series.
type PausedResult struct {
	Status               string `json:"status"`
	DisconnectedPlayerID string `json:"disconnected_player_id"`
	RemainingSeconds     int64  `json:"remaining_seconds"`
}

// TimeoutResult reports the outcome of a timeout check.
type TimeoutResult struct {
	HasTimeout         bool
	Forfeited          bool
	ForfeitingPlayerID string
	SeriesState        *GameResult
}

// DisconnectService tracks disconnects and forfeits games when the grace
// period lapses. The clock is injected as monotonic seconds so tests can
// drive time; the service holds no timers of its own and relies on the
// watchdog listener to invoke CheckTimeout.
type DisconnectService struct {
	series      *SeriesService
	cache       repository.MatchCache
	broadcaster Broadcaster

	// Now returns monotonic seconds. Replaced in tests.
	Now func() int64

	mu     sync.Mutex
	active map[string]*disconnectState
}

// NewDisconnectService creates a DisconnectService with a wall-clock time
// source.
func NewDisconnectService(series *SeriesService, cache repository.MatchCache, broadcaster Broadcaster) *DisconnectService {
	if broadcaster == nil {
		broadcaster = NoopBroadcaster{}
	}
	return &DisconnectService{
		series:      series,
		cache:       cache,
		broadcaster: broadcaster,
		Now:         func() int64 { return time.Now().Unix() },
		active:      make(map[string]*disconnectState),
	}
}

// HandleDisconnect records a player's disconnect, pausing the series and
// arming the forfeit watchdog. Repeated disconnects by the same player
// keep the original timestamp; a disconnect by the other player replaces
// the record.
func (s *DisconnectService) HandleDisconnect(ctx context.Context, seriesID, playerID string) (*PausedResult, error) {
	series, err := s.series.seriesRepo.FindByID(ctx, seriesID)
	if err != nil {
		return nil, err
	}
	if series == nil {
		return nil, ErrSeriesNotFound
	}
	if !series.HasPlayer(playerID) {
		return nil, ErrNotInSeries
	}
	if series.Status != model.SeriesInProgress {
		return nil, ErrSeriesNotActive
	}

	now := s.Now()
	s.mu.Lock()
	if cur, ok := s.active[seriesID]; !ok || cur.PlayerID != playerID {
		s.active[seriesID] = &disconnectState{PlayerID: playerID, DisconnectedAt: now}
	}
	s.mu.Unlock()

	// The TTL hint and the forfeit decision must share a clock, or a
	// driven test clock would arm the key at the wrong wall time.
	deadline := time.Unix(now+DisconnectTimeoutSeconds, 0)
	if err := s.cache.SetWatchdog(ctx, seriesID, deadline); err != nil {
		log.Warn().Err(err).Str("seriesId", seriesID).Msg("Failed to arm disconnect watchdog")
	}

	log.Info().Str("seriesId", seriesID).Str("playerId", playerID).Msg("Player disconnected, series paused")
	s.broadcaster.BroadcastSeriesEvent(seriesID, "series_paused", map[string]any{
		"disconnected_player_id": playerID,
		"remaining_seconds":      DisconnectTimeoutSeconds,
	})

	return &PausedResult{
		Status:               "paused",
		DisconnectedPlayerID: playerID,
		RemainingSeconds:     DisconnectTimeoutSeconds,
	}, nil
}

// HandleReconnect clears the disconnect if the returning player is within
// the grace period. Returns false only when the disconnected player comes
// back too late; a later CheckTimeout will then forfeit. Reconnects with
// no active disconnect, or by the other player, are accepted no-ops.
func (s *DisconnectService) HandleReconnect(ctx context.Context, seriesID, playerID string) (bool, error) {
	series, err := s.series.seriesRepo.FindByID(ctx, seriesID)
	if err != nil {
		return false, err
	}
	if series == nil {
		return false, ErrSeriesNotFound
	}

	s.mu.Lock()
	cur, ok := s.active[seriesID]
	if !ok || cur.PlayerID != playerID {
		s.mu.Unlock()
		return true, nil
	}
	elapsed := s.Now() - cur.DisconnectedAt
	if elapsed >= DisconnectTimeoutSeconds {
		s.mu.Unlock()
		log.Info().Str("seriesId", seriesID).Str("playerId", playerID).
			Int64("elapsed", elapsed).Msg("Reconnect rejected, grace period expired")
		return false, nil
	}
	delete(s.active, seriesID)
	s.mu.Unlock()

	if err := s.cache.ClearWatchdog(ctx, seriesID); err != nil {
		log.Warn().Err(err).Str("seriesId", seriesID).Msg("Failed to clear disconnect watchdog")
	}

	log.Info().Str("seriesId", seriesID).Str("playerId", playerID).Msg("Player reconnected, series resumed")
	s.broadcaster.BroadcastSeriesEvent(seriesID, "series_resumed", map[string]any{
		"reconnected_player_id": playerID,
	})
	return true, nil
}

// RemainingTimeout returns the seconds left before forfeit. Negative
// values mean the grace period has lapsed. The second return is false
// when no disconnect is active.
func (s *DisconnectService) RemainingTimeout(seriesID string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.active[seriesID]
	if !ok {
		return 0, false
	}
	return DisconnectTimeoutSeconds - (s.Now() - cur.DisconnectedAt), true
}

// IsPlayerDisconnected reports whether the given player holds the active
// disconnect for the series.
func (s *DisconnectService) IsPlayerDisconnected(seriesID, playerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.active[seriesID]
	return ok && cur.PlayerID == playerID
}

// CheckTimeout forfeits the current game if a disconnect has outlived the
// grace period. Safe to call at any time; without an active disconnect or
// before the deadline it reports no timeout.
func (s *DisconnectService) CheckTimeout(ctx context.Context, seriesID string) (*TimeoutResult, error) {
	s.mu.Lock()
	cur, ok := s.active[seriesID]
	if !ok {
		s.mu.Unlock()
		return &TimeoutResult{}, nil
	}
	elapsed := s.Now() - cur.DisconnectedAt
	if elapsed <= DisconnectTimeoutSeconds {
		s.mu.Unlock()
		return &TimeoutResult{}, nil
	}
	// Claim the entry before forfeiting so a concurrent check cannot
	// forfeit the same lapse twice.
	delete(s.active, seriesID)
	s.mu.Unlock()

	log.Info().Str("seriesId", seriesID).Str("playerId", cur.PlayerID).
		Int64("elapsed", elapsed).Msg("Disconnect timeout, forfeiting current game")

	result, err := s.series.ForfeitCurrentGame(ctx, seriesID, cur.PlayerID)
	if err != nil {
		// Put the entry back so the next check retries the forfeit. A
		// fresh disconnect recorded in the meantime takes precedence.
		s.mu.Lock()
		if _, taken := s.active[seriesID]; !taken {
			s.active[seriesID] = cur
		}
		s.mu.Unlock()
		return nil, err
	}
	if err := s.cache.ClearWatchdog(ctx, seriesID); err != nil {
		log.Warn().Err(err).Str("seriesId", seriesID).Msg("Failed to clear disconnect watchdog")
	}

	return &TimeoutResult{
		HasTimeout:         true,
		Forfeited:          true,
		ForfeitingPlayerID: cur.PlayerID,
		SeriesState:        result,
	}, nil
}

// HandleAbandon ends the series on the abandoning player's behalf and
// drops any disconnect state.
func (s *DisconnectService) HandleAbandon(ctx context.Context, seriesID, playerID string) (*AbandonResult, error) {
	result, err := s.series.AbandonSeries(ctx, seriesID, playerID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	delete(s.active, seriesID)
	s.mu.Unlock()
	if err := s.cache.ClearWatchdog(ctx, seriesID); err != nil {
		log.Warn().Err(err).Str("seriesId", seriesID).Msg("Failed to clear disconnect watchdog")
	}
	return result, nil
}

// ExpiredSeries returns the IDs of series whose disconnect grace period
// has lapsed, for the polling fallback.
func (s *DisconnectService) ExpiredSeries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now()
	var expired []string
	for id, cur := range s.active {
		if now-cur.DisconnectedAt > DisconnectTimeoutSeconds {
			expired = append(expired, id)
		}
	}
	return expired
}
