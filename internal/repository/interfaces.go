package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/omok-arena/api/internal/model"
)

// PlayerRepository defines player rating lookups. FindByID returns
// (nil, nil) for unknown players.
type PlayerRepository interface {
	FindByID(ctx context.Context, id string) (*model.Player, error)
	// EnsurePlayer inserts a fresh rating record for the ID if none
	// exists and returns the current record either way.
	EnsurePlayer(ctx context.Context, id string) (*model.Player, error)
}

// SeriesRepository defines series persistence. The match engine depends
// only on this interface; implementations may be Postgres or in-memory.
type SeriesRepository interface {
	Create(ctx context.Context, s *model.Series) error
	Save(ctx context.Context, s *model.Series) error
	FindByID(ctx context.Context, id string) (*model.Series, error)
	ListByPlayer(ctx context.Context, playerID string) ([]model.Series, error)
	ListActive(ctx context.Context) ([]model.Series, error)
}

// MatchCache defines live match state operations (Redis): the opening
// state of in-flight games and the disconnect watchdog timers.
type MatchCache interface {
	SetOpeningState(ctx context.Context, gameID string, state json.RawMessage) error
	GetOpeningState(ctx context.Context, gameID string) (json.RawMessage, error)
	DeleteOpeningState(ctx context.Context, gameID string) error

	// SetWatchdog arms a TTL key that expires at the forfeit deadline.
	// Expiry is a scheduling hint only; the disconnect service makes
	// the forfeit decision from its own clock.
	SetWatchdog(ctx context.Context, seriesID string, deadline time.Time) error
	ClearWatchdog(ctx context.Context, seriesID string) error

	// DeleteSeriesData removes all live keys for a finished series.
	DeleteSeriesData(ctx context.Context, seriesID, gameID string) error
}
