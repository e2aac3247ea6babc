package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/omok-arena/api/internal/model"
)

// Starting rating for players without a record yet.
const (
	defaultMindpoint = 1000
	defaultRank      = "stone"
)

// PlayerRepo handles player rating database operations.
type PlayerRepo struct {
	db *sql.DB
}

// NewPlayerRepo creates a PlayerRepo.
func NewPlayerRepo(db *sql.DB) *PlayerRepo {
	return &PlayerRepo{db: db}
}

// FindByID looks up a player's rating record, or (nil, nil) if absent.
func (r *PlayerRepo) FindByID(ctx context.Context, id string) (*model.Player, error) {
	var p model.Player
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, mindpoint, current_rank, created_at, updated_at
		 FROM players WHERE user_id = $1`, id,
	).Scan(&p.UserID, &p.Mindpoint, &p.CurrentRank, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find player: %w", err)
	}
	return &p, nil
}

// EnsurePlayer creates a rating record with starting values if the
// player has none, then returns the current record.
func (r *PlayerRepo) EnsurePlayer(ctx context.Context, id string) (*model.Player, error) {
	var p model.Player
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO players (user_id, mindpoint, current_rank)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET updated_at = now()
		 RETURNING user_id, mindpoint, current_rank, created_at, updated_at`,
		id, defaultMindpoint, defaultRank,
	).Scan(&p.UserID, &p.Mindpoint, &p.CurrentRank, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("ensure player: %w", err)
	}
	return &p, nil
}
