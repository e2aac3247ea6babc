package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/omok-arena/api/internal/model"
	"github.com/omok-arena/api/internal/repository"
	"github.com/omok-arena/api/pkg/swap2"
)

const (
	// First to two wins takes a best-of-three.
	gamesToWin = 2

	// Rating deltas recorded on the series for an external rating
	// collaborator to apply. The engine never mutates player MP itself.
	standardLossMP   = -15
	abandonPenaltyMP = -10
)

var (
	ErrSeriesNotFound     = errors.New("series not found")
	ErrSamePlayers        = errors.New("players must be distinct")
	ErrPlayerNotFound     = errors.New("player not found")
	ErrSeriesNotActive    = errors.New("series is not in progress")
	ErrSeriesNotCompleted = errors.New("series is not completed")
	ErrNotInSeries        = errors.New("player is not a participant in this series")
)

// SeriesService orchestrates the best-of-three lifecycle: game results,
// forfeits, abandons, and the rematch handshake. Each series is the unit
// of serializability; all mutations for one series run under its lock.
type SeriesService struct {
	seriesRepo  repository.SeriesRepository
	playerRepo  repository.PlayerRepository
	cache       repository.MatchCache
	swap2Svc    *Swap2Service
	broadcaster Broadcaster

	seriesLocks sync.Map

	// Pending rematch intents keyed by completed series ID. At most one
	// intent per series; the second participant's request consumes both.
	// Process-wide: a multi-instance deployment needs this externalized.
	rematchMu sync.Mutex
	rematch   map[string]string
}

// NewSeriesService creates a SeriesService.
func NewSeriesService(
	seriesRepo repository.SeriesRepository,
	playerRepo repository.PlayerRepository,
	cache repository.MatchCache,
	swap2Svc *Swap2Service,
	broadcaster Broadcaster,
) *SeriesService {
	if broadcaster == nil {
		broadcaster = NoopBroadcaster{}
	}
	return &SeriesService{
		seriesRepo:  seriesRepo,
		playerRepo:  playerRepo,
		cache:       cache,
		swap2Svc:    swap2Svc,
		broadcaster: broadcaster,
		rematch:     make(map[string]string),
	}
}

// seriesLock returns the mutex for a given series ID.
func (s *SeriesService) seriesLock(seriesID string) *sync.Mutex {
	v, _ := s.seriesLocks.LoadOrStore(seriesID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// GameResult is the outcome of ending (or forfeiting) one game.
type GameResult struct {
	Series        *model.Series
	IsComplete    bool
	NextGameReady bool
	Swap2State    *swap2.State
	GameID        string
}

// SeriesState is a read-only view of a series.
type SeriesState struct {
	Series     *model.Series
	IsComplete bool
}

// AbandonResult reports a series ended prematurely by one player.
type AbandonResult struct {
	Series   *model.Series
	WinnerID string
	LoserID  string
}

// RematchResult reports the state of the rematch handshake after one
// player's request.
type RematchResult struct {
	RematchAccepted    bool
	WaitingForOpponent bool
	NewSeries          *model.Series
}

// CreateSeries starts a fresh best-of-three between two distinct players,
// stamping their current MP and rank and opening game 1's Swap 2 dialogue.
func (s *SeriesService) CreateSeries(ctx context.Context, player1ID, player2ID string) (*model.Series, error) {
	if player1ID == player2ID {
		return nil, ErrSamePlayers
	}

	p1, err := s.playerRepo.FindByID(ctx, player1ID)
	if err != nil {
		return nil, fmt.Errorf("find player1: %w", err)
	}
	if p1 == nil {
		return nil, ErrPlayerNotFound
	}
	p2, err := s.playerRepo.FindByID(ctx, player2ID)
	if err != nil {
		return nil, fmt.Errorf("find player2: %w", err)
	}
	if p2 == nil {
		return nil, ErrPlayerNotFound
	}

	now := time.Now().UTC()
	series := &model.Series{
		ID:                 uuid.NewString(),
		Player1ID:          player1ID,
		Player2ID:          player2ID,
		Player1InitialMP:   p1.Mindpoint,
		Player2InitialMP:   p2.Mindpoint,
		Player1InitialRank: p1.CurrentRank,
		Player2InitialRank: p2.CurrentRank,
		GamesToWin:         gamesToWin,
		CurrentGame:        1,
		Status:             model.SeriesInProgress,
		CreatedAt:          now,
		StartedAt:          &now,
		CurrentGameID:      uuid.NewString(),
	}

	opening, err := s.swap2Svc.Initialize(ctx, series.CurrentGameID, player1ID, player2ID)
	if err != nil {
		return nil, fmt.Errorf("initialize opening: %w", err)
	}
	series.Swap2State, err = json.Marshal(opening)
	if err != nil {
		return nil, fmt.Errorf("marshal opening: %w", err)
	}

	if err := s.seriesRepo.Create(ctx, series); err != nil {
		s.swap2Svc.ClearState(ctx, series.CurrentGameID)
		return nil, fmt.Errorf("create series: %w", err)
	}

	log.Info().Str("seriesId", series.ID).Str("player1", player1ID).Str("player2", player2ID).
		Str("gameId", series.CurrentGameID).Msg("Series created")
	return series, nil
}

// GetSeries returns a series and its completion flag.
func (s *SeriesService) GetSeries(ctx context.Context, seriesID string) (*SeriesState, error) {
	series, err := s.seriesRepo.FindByID(ctx, seriesID)
	if err != nil {
		return nil, err
	}
	if series == nil {
		return nil, ErrSeriesNotFound
	}
	return &SeriesState{
		Series:     series,
		IsComplete: series.Status == model.SeriesCompleted,
	}, nil
}

// ListPlayerSeries returns a player's recent series, newest first.
func (s *SeriesService) ListPlayerSeries(ctx context.Context, playerID string) ([]model.Series, error) {
	return s.seriesRepo.ListByPlayer(ctx, playerID)
}

// EndGame records a finished game's winner and either advances the series
// to the next game or finalizes it at two wins. matchID and duration are
// recorded for the audit log only.
func (s *SeriesService) EndGame(ctx context.Context, seriesID, matchID, winnerID string, durationSeconds int) (*GameResult, error) {
	mu := s.seriesLock(seriesID)
	mu.Lock()
	defer mu.Unlock()

	series, err := s.seriesRepo.FindByID(ctx, seriesID)
	if err != nil {
		return nil, err
	}
	if series == nil {
		return nil, ErrSeriesNotFound
	}
	if series.Status != model.SeriesInProgress {
		return nil, ErrSeriesNotActive
	}

	log.Info().Str("seriesId", seriesID).Str("matchId", matchID).Str("winnerId", winnerID).
		Int("durationSeconds", durationSeconds).Msg("Game ended")
	return s.endGameLocked(ctx, series, winnerID)
}

// ForfeitCurrentGame credits the opponent of the forfeiting player with
// one win. Equivalent to EndGame with the opponent as winner.
func (s *SeriesService) ForfeitCurrentGame(ctx context.Context, seriesID, forfeitingPlayerID string) (*GameResult, error) {
	mu := s.seriesLock(seriesID)
	mu.Lock()
	defer mu.Unlock()

	series, err := s.seriesRepo.FindByID(ctx, seriesID)
	if err != nil {
		return nil, err
	}
	if series == nil {
		return nil, ErrSeriesNotFound
	}
	if series.Status != model.SeriesInProgress {
		return nil, ErrSeriesNotActive
	}
	if !series.HasPlayer(forfeitingPlayerID) {
		return nil, ErrNotInSeries
	}

	winnerID := series.Opponent(forfeitingPlayerID)
	log.Info().Str("seriesId", seriesID).Str("forfeitingPlayer", forfeitingPlayerID).
		Str("winnerId", winnerID).Msg("Game forfeited")

	result, err := s.endGameLocked(ctx, series, winnerID)
	if err != nil {
		return nil, err
	}
	s.broadcaster.BroadcastSeriesEvent(seriesID, "series_forfeit", map[string]any{
		"forfeiting_player_id": forfeitingPlayerID,
		"winner_id":            winnerID,
		"is_series_complete":   result.IsComplete,
	})
	return result, nil
}

// PrepareNextSeriesGame advances a series whose score was mutated out of
// band, finalizing if a player already reached two wins.
func (s *SeriesService) PrepareNextSeriesGame(ctx context.Context, seriesID string) (*GameResult, error) {
	mu := s.seriesLock(seriesID)
	mu.Lock()
	defer mu.Unlock()

	series, err := s.seriesRepo.FindByID(ctx, seriesID)
	if err != nil {
		return nil, err
	}
	if series == nil {
		return nil, ErrSeriesNotFound
	}
	if series.Status != model.SeriesInProgress {
		return nil, ErrSeriesNotActive
	}
	return s.settleLocked(ctx, series)
}

// endGameLocked increments the winner's tally then settles the series.
// Caller must hold the series lock and have validated status.
func (s *SeriesService) endGameLocked(ctx context.Context, series *model.Series, winnerID string) (*GameResult, error) {
	switch winnerID {
	case series.Player1ID:
		series.Player1Wins++
	case series.Player2ID:
		series.Player2Wins++
	default:
		return nil, ErrNotInSeries
	}
	return s.settleLocked(ctx, series)
}

// settleLocked finalizes the series if either tally reached gamesToWin,
// otherwise rolls over to the next game with a fresh opening.
func (s *SeriesService) settleLocked(ctx context.Context, series *model.Series) (*GameResult, error) {
	endedGameID := series.CurrentGameID

	if series.Player1Wins >= gamesToWin || series.Player2Wins >= gamesToWin {
		now := time.Now().UTC()
		if series.Player1Wins >= gamesToWin {
			series.WinnerID = series.Player1ID
		} else {
			series.WinnerID = series.Player2ID
		}
		series.Status = model.SeriesCompleted
		series.FinalScore = fmt.Sprintf("%d-%d", series.Player1Wins, series.Player2Wins)
		series.EndedAt = &now
		mp := standardLossMP
		series.LoserMPChange = &mp
		series.CurrentGameID = ""
		series.Swap2State = nil

		if err := s.seriesRepo.Save(ctx, series); err != nil {
			return nil, fmt.Errorf("save completed series: %w", err)
		}

		s.swap2Svc.ClearState(ctx, endedGameID)
		if err := s.cache.DeleteSeriesData(ctx, series.ID, endedGameID); err != nil {
			log.Warn().Err(err).Str("seriesId", series.ID).Msg("Failed to delete series cache data")
		}

		log.Info().Str("seriesId", series.ID).Str("winnerId", series.WinnerID).
			Str("finalScore", series.FinalScore).Msg("Series completed")
		s.broadcaster.BroadcastSeriesEvent(series.ID, "series_completed", map[string]any{
			"winner_id":   series.WinnerID,
			"final_score": series.FinalScore,
		})
		return &GameResult{Series: series, IsComplete: true}, nil
	}

	// Next game: fresh ID, fresh opening dialogue.
	series.CurrentGame++
	series.CurrentGameID = uuid.NewString()

	opening, err := s.swap2Svc.Initialize(ctx, series.CurrentGameID, series.Player1ID, series.Player2ID)
	if err != nil {
		return nil, fmt.Errorf("initialize next opening: %w", err)
	}
	series.Swap2State, err = json.Marshal(opening)
	if err != nil {
		return nil, fmt.Errorf("marshal next opening: %w", err)
	}

	if err := s.seriesRepo.Save(ctx, series); err != nil {
		return nil, fmt.Errorf("save series: %w", err)
	}
	s.swap2Svc.ClearState(ctx, endedGameID)

	log.Info().Str("seriesId", series.ID).Int("currentGame", series.CurrentGame).
		Str("gameId", series.CurrentGameID).Msg("Series advanced to next game")
	s.broadcaster.BroadcastSeriesEvent(series.ID, "game_ended", map[string]any{
		"player1_wins":    series.Player1Wins,
		"player2_wins":    series.Player2Wins,
		"current_game":    series.CurrentGame,
		"next_game_ready": true,
		"game_id":         series.CurrentGameID,
	})

	return &GameResult{
		Series:        series,
		IsComplete:    false,
		NextGameReady: true,
		Swap2State:    opening,
		GameID:        series.CurrentGameID,
	}, nil
}

// AbandonSeries terminates a series prematurely. The abandoner takes the
// full penalty and the opponent is recorded as winner regardless of score.
func (s *SeriesService) AbandonSeries(ctx context.Context, seriesID, abandoningPlayerID string) (*AbandonResult, error) {
	mu := s.seriesLock(seriesID)
	mu.Lock()
	defer mu.Unlock()

	series, err := s.seriesRepo.FindByID(ctx, seriesID)
	if err != nil {
		return nil, err
	}
	if series == nil {
		return nil, ErrSeriesNotFound
	}
	if series.Status != model.SeriesInProgress {
		return nil, ErrSeriesNotActive
	}
	if !series.HasPlayer(abandoningPlayerID) {
		return nil, ErrNotInSeries
	}

	endedGameID := series.CurrentGameID
	now := time.Now().UTC()
	series.Status = model.SeriesAbandoned
	series.WinnerID = series.Opponent(abandoningPlayerID)
	series.EndedAt = &now
	mp := standardLossMP + abandonPenaltyMP
	series.LoserMPChange = &mp
	series.CurrentGameID = ""
	series.Swap2State = nil

	if err := s.seriesRepo.Save(ctx, series); err != nil {
		return nil, fmt.Errorf("save abandoned series: %w", err)
	}

	s.swap2Svc.ClearState(ctx, endedGameID)
	if err := s.cache.DeleteSeriesData(ctx, series.ID, endedGameID); err != nil {
		log.Warn().Err(err).Str("seriesId", series.ID).Msg("Failed to delete series cache data")
	}

	log.Info().Str("seriesId", seriesID).Str("abandoningPlayer", abandoningPlayerID).
		Str("winnerId", series.WinnerID).Msg("Series abandoned")
	s.broadcaster.BroadcastSeriesEvent(seriesID, "series_abandoned", map[string]any{
		"abandoning_player_id": abandoningPlayerID,
		"winner_id":            series.WinnerID,
		"loser_mp_change":      mp,
	})

	return &AbandonResult{
		Series:   series,
		WinnerID: series.WinnerID,
		LoserID:  abandoningPlayerID,
	}, nil
}

// RequestRematch records one player's rematch intent on a completed
// series. When both participants have requested, the intents are consumed
// atomically and a fresh series with the same players is created.
func (s *SeriesService) RequestRematch(ctx context.Context, seriesID, playerID string) (*RematchResult, error) {
	series, err := s.seriesRepo.FindByID(ctx, seriesID)
	if err != nil {
		return nil, err
	}
	if series == nil {
		return nil, ErrSeriesNotFound
	}
	if !series.HasPlayer(playerID) {
		return nil, ErrNotInSeries
	}
	if series.Status != model.SeriesCompleted {
		return nil, ErrSeriesNotCompleted
	}

	s.rematchMu.Lock()
	pending, ok := s.rematch[seriesID]
	if !ok || pending == playerID {
		s.rematch[seriesID] = playerID
		s.rematchMu.Unlock()
		log.Info().Str("seriesId", seriesID).Str("playerId", playerID).Msg("Rematch intent recorded")
		return &RematchResult{WaitingForOpponent: true}, nil
	}
	// Both intents present: take both.
	delete(s.rematch, seriesID)
	s.rematchMu.Unlock()

	newSeries, err := s.CreateSeries(ctx, series.Player1ID, series.Player2ID)
	if err != nil {
		return nil, fmt.Errorf("create rematch series: %w", err)
	}

	log.Info().Str("seriesId", seriesID).Str("newSeriesId", newSeries.ID).Msg("Rematch accepted")
	s.broadcaster.BroadcastSeriesEvent(seriesID, "rematch_ready", map[string]any{
		"new_series_id": newSeries.ID,
	})
	return &RematchResult{RematchAccepted: true, NewSeries: newSeries}, nil
}

// SyncOpeningState writes the current opening state back onto the series
// row so it survives restarts, and records the players' game 1 sides when
// the first opening completes.
func (s *SeriesService) SyncOpeningState(ctx context.Context, seriesID string, st *swap2.State) error {
	mu := s.seriesLock(seriesID)
	mu.Lock()
	defer mu.Unlock()

	series, err := s.seriesRepo.FindByID(ctx, seriesID)
	if err != nil {
		return err
	}
	if series == nil {
		return ErrSeriesNotFound
	}
	if series.CurrentGameID != st.GameID {
		// Stale write from a game that already rolled over.
		return nil
	}

	series.Swap2State, err = json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal opening state: %w", err)
	}

	if st.IsComplete() && series.CurrentGame == 1 && series.Player1Side == "" {
		if st.BlackPlayerID == series.Player1ID {
			series.Player1Side = "black"
			series.Player2Side = "white"
		} else {
			series.Player1Side = "white"
			series.Player2Side = "black"
		}
	}

	return s.seriesRepo.Save(ctx, series)
}

// RecoverActiveSeries rehydrates the opening registry and cache for all
// in-progress series after a restart.
func (s *SeriesService) RecoverActiveSeries(ctx context.Context) error {
	active, err := s.seriesRepo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active series: %w", err)
	}
	if len(active) == 0 {
		log.Info().Msg("No active series to recover")
		return nil
	}

	log.Info().Int("count", len(active)).Msg("Recovering active series after restart")
	for _, series := range active {
		if len(series.Swap2State) == 0 {
			log.Warn().Str("seriesId", series.ID).Msg("Active series has no opening state, skipping")
			continue
		}
		if _, err := s.swap2Svc.RestoreState(ctx, series.Swap2State); err != nil {
			log.Error().Err(err).Str("seriesId", series.ID).Msg("Failed to restore opening state")
			continue
		}
		log.Info().Str("seriesId", series.ID).Str("gameId", series.CurrentGameID).
			Int("currentGame", series.CurrentGame).Msg("Recovered series opening state")
	}
	return nil
}
