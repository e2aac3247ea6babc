package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/omok-arena/api/internal/repository"
	"github.com/omok-arena/api/pkg/swap2"
)

var ErrOpeningNotFound = errors.New("opening state not found for game")

// Swap2Service owns the in-memory registry of live opening dialogues and
// mirrors every mutation to the cache so state survives restarts. Reads
// return deep copies; callers never see registry-held state.
type Swap2Service struct {
	cache repository.MatchCache

	mu     sync.RWMutex
	states map[string]*swap2.State

	// gameLocks serializes all access to one game's state, reads
	// included. The registry map lock is not enough: placements mutate
	// the held state in place, so clones must not overlap them.
	gameLocks sync.Map
}

// NewSwap2Service creates a Swap2Service.
func NewSwap2Service(cache repository.MatchCache) *Swap2Service {
	return &Swap2Service{
		cache:  cache,
		states: make(map[string]*swap2.State),
	}
}

func (s *Swap2Service) gameLock(gameID string) *sync.Mutex {
	v, _ := s.gameLocks.LoadOrStore(gameID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Initialize starts a fresh opening for a game and mirrors it to the cache.
func (s *Swap2Service) Initialize(ctx context.Context, gameID, player1ID, player2ID string) (*swap2.State, error) {
	st, err := swap2.NewState(gameID, player1ID, player2ID)
	if err != nil {
		return nil, err
	}

	mu := s.gameLock(gameID)
	mu.Lock()
	defer mu.Unlock()

	s.mu.Lock()
	s.states[gameID] = st
	s.mu.Unlock()

	if err := s.mirror(ctx, st); err != nil {
		log.Warn().Err(err).Str("gameId", gameID).Msg("Failed to mirror new opening state")
	}
	return st.Clone(), nil
}

// GetState returns a copy of the opening state for a game. Falls back to
// the cache when the registry is cold, such as right after a restart.
// The clone happens under the game lock: the registry-held state is
// mutable and a concurrent placement must not interleave with the copy.
func (s *Swap2Service) GetState(ctx context.Context, gameID string) (*swap2.State, error) {
	mu := s.gameLock(gameID)
	mu.Lock()
	defer mu.Unlock()

	st, err := s.liveState(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return st.Clone(), nil
}

// PlaceStone applies a tentative placement and returns the updated state.
func (s *Swap2Service) PlaceStone(ctx context.Context, gameID, playerID string, x, y int) (*swap2.State, error) {
	mu := s.gameLock(gameID)
	mu.Lock()
	defer mu.Unlock()

	st, err := s.liveState(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if err := st.PlaceStone(playerID, x, y); err != nil {
		return nil, err
	}
	if err := s.mirror(ctx, st); err != nil {
		log.Warn().Err(err).Str("gameId", gameID).Msg("Failed to mirror opening state after placement")
	}
	return st.Clone(), nil
}

// MakeChoice applies a color pick or place_more and returns the updated state.
func (s *Swap2Service) MakeChoice(ctx context.Context, gameID, playerID string, choice swap2.Choice) (*swap2.State, error) {
	mu := s.gameLock(gameID)
	mu.Lock()
	defer mu.Unlock()

	st, err := s.liveState(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if err := st.MakeChoice(playerID, choice); err != nil {
		return nil, err
	}
	if err := s.mirror(ctx, st); err != nil {
		log.Warn().Err(err).Str("gameId", gameID).Msg("Failed to mirror opening state after choice")
	}
	return st.Clone(), nil
}

// RestoreState seeds the registry from a serialized state, used during
// startup recovery of active series.
func (s *Swap2Service) RestoreState(ctx context.Context, raw json.RawMessage) (*swap2.State, error) {
	st := &swap2.State{}
	if err := json.Unmarshal(raw, st); err != nil {
		return nil, fmt.Errorf("unmarshal opening state: %w", err)
	}
	if st.GameID == "" {
		return nil, fmt.Errorf("opening state missing game id")
	}

	mu := s.gameLock(st.GameID)
	mu.Lock()
	defer mu.Unlock()

	s.mu.Lock()
	s.states[st.GameID] = st
	s.mu.Unlock()

	if err := s.mirror(ctx, st); err != nil {
		log.Warn().Err(err).Str("gameId", st.GameID).Msg("Failed to mirror restored opening state")
	}
	return st.Clone(), nil
}

// ClearState drops a game's opening from the registry and cache, called
// when the game ends or the series is torn down.
func (s *Swap2Service) ClearState(ctx context.Context, gameID string) {
	s.mu.Lock()
	delete(s.states, gameID)
	s.mu.Unlock()
	s.gameLocks.Delete(gameID)

	if err := s.cache.DeleteOpeningState(ctx, gameID); err != nil {
		log.Warn().Err(err).Str("gameId", gameID).Msg("Failed to delete cached opening state")
	}
}

// liveState returns the registry-held (mutable) state, loading from the
// cache when cold. Caller must hold the game lock.
func (s *Swap2Service) liveState(ctx context.Context, gameID string) (*swap2.State, error) {
	s.mu.RLock()
	st, ok := s.states[gameID]
	s.mu.RUnlock()
	if ok {
		return st, nil
	}

	raw, err := s.cache.GetOpeningState(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("get cached opening state: %w", err)
	}
	if raw == nil {
		return nil, ErrOpeningNotFound
	}
	restored := &swap2.State{}
	if err := json.Unmarshal(raw, restored); err != nil {
		return nil, fmt.Errorf("unmarshal cached opening state: %w", err)
	}
	s.mu.Lock()
	s.states[gameID] = restored
	s.mu.Unlock()
	return restored, nil
}

func (s *Swap2Service) mirror(ctx context.Context, st *swap2.State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal opening state: %w", err)
	}
	return s.cache.SetOpeningState(ctx, st.GameID, raw)
}
