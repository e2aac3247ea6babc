package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/omok-arena/api/internal/model"
)

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

// mockPlayerRepo implements repository.PlayerRepository for testing.
type mockPlayerRepo struct {
	players map[string]*model.Player
}

func newMockPlayerRepo() *mockPlayerRepo {
	return &mockPlayerRepo{players: make(map[string]*model.Player)}
}

func (m *mockPlayerRepo) add(id string, mp int, rank string) {
	now := time.Now()
	m.players[id] = &model.Player{
		UserID:      id,
		Mindpoint:   mp,
		CurrentRank: rank,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (m *mockPlayerRepo) FindByID(_ context.Context, id string) (*model.Player, error) {
	p, ok := m.players[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *mockPlayerRepo) EnsurePlayer(_ context.Context, id string) (*model.Player, error) {
	if p, ok := m.players[id]; ok {
		cp := *p
		return &cp, nil
	}
	m.add(id, 1000, "stone")
	cp := *m.players[id]
	return &cp, nil
}

// mockSeriesRepo implements repository.SeriesRepository for testing.
type mockSeriesRepo struct {
	series  map[string]*model.Series
	findErr error
}

func newMockSeriesRepo() *mockSeriesRepo {
	return &mockSeriesRepo{series: make(map[string]*model.Series)}
}

func (m *mockSeriesRepo) Create(_ context.Context, s *model.Series) error {
	cp := *s
	m.series[s.ID] = &cp
	return nil
}

func (m *mockSeriesRepo) Save(_ context.Context, s *model.Series) error {
	cp := *s
	m.series[s.ID] = &cp
	return nil
}

func (m *mockSeriesRepo) FindByID(_ context.Context, id string) (*model.Series, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	s, ok := m.series[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *mockSeriesRepo) ListByPlayer(_ context.Context, playerID string) ([]model.Series, error) {
	var result []model.Series
	for _, s := range m.series {
		if s.HasPlayer(playerID) {
			result = append(result, *s)
		}
	}
	return result, nil
}

func (m *mockSeriesRepo) ListActive(_ context.Context) ([]model.Series, error) {
	var result []model.Series
	for _, s := range m.series {
		if s.Status == model.SeriesInProgress {
			result = append(result, *s)
		}
	}
	return result, nil
}

// mockMatchCache implements repository.MatchCache for testing.
type mockMatchCache struct {
	openings  map[string]json.RawMessage
	watchdogs map[string]time.Time
}

func newMockMatchCache() *mockMatchCache {
	return &mockMatchCache{
		openings:  make(map[string]json.RawMessage),
		watchdogs: make(map[string]time.Time),
	}
}

func (c *mockMatchCache) SetOpeningState(_ context.Context, gameID string, state json.RawMessage) error {
	c.openings[gameID] = state
	return nil
}

func (c *mockMatchCache) GetOpeningState(_ context.Context, gameID string) (json.RawMessage, error) {
	return c.openings[gameID], nil
}

func (c *mockMatchCache) DeleteOpeningState(_ context.Context, gameID string) error {
	delete(c.openings, gameID)
	return nil
}

func (c *mockMatchCache) SetWatchdog(_ context.Context, seriesID string, deadline time.Time) error {
	c.watchdogs[seriesID] = deadline
	return nil
}

func (c *mockMatchCache) ClearWatchdog(_ context.Context, seriesID string) error {
	delete(c.watchdogs, seriesID)
	return nil
}

func (c *mockMatchCache) DeleteSeriesData(_ context.Context, seriesID, gameID string) error {
	delete(c.watchdogs, seriesID)
	if gameID != "" {
		delete(c.openings, gameID)
	}
	return nil
}

// recordingBroadcaster captures events for assertions.
type recordingBroadcaster struct {
	events []broadcastEvent
}

type broadcastEvent struct {
	SeriesID  string
	EventType string
	Data      any
}

func (b *recordingBroadcaster) BroadcastSeriesEvent(seriesID, eventType string, data any) {
	b.events = append(b.events, broadcastEvent{SeriesID: seriesID, EventType: eventType, Data: data})
}

func (b *recordingBroadcaster) has(eventType string) bool {
	for _, e := range b.events {
		if e.EventType == eventType {
			return true
		}
	}
	return false
}
