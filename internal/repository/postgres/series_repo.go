package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/omok-arena/api/internal/model"
)

// SeriesRepo handles series database operations.
type SeriesRepo struct {
	db *sql.DB
}

// NewSeriesRepo creates a SeriesRepo.
func NewSeriesRepo(db *sql.DB) *SeriesRepo {
	return &SeriesRepo{db: db}
}

const seriesColumns = `id, player1_id, player2_id, player1_initial_mp, player2_initial_mp,
	player1_initial_rank, player2_initial_rank, player1_wins, player2_wins,
	games_to_win, current_game, player1_side, player2_side, status,
	created_at, started_at, winner_id, final_score, ended_at, loser_mp_change,
	current_game_id, swap2_state`

// Create inserts a new series row.
func (r *SeriesRepo) Create(ctx context.Context, s *model.Series) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO series (id, player1_id, player2_id, player1_initial_mp, player2_initial_mp,
		        player1_initial_rank, player2_initial_rank, player1_wins, player2_wins,
		        games_to_win, current_game, player1_side, player2_side, status,
		        created_at, started_at, current_game_id, swap2_state)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		s.ID, s.Player1ID, s.Player2ID, s.Player1InitialMP, s.Player2InitialMP,
		s.Player1InitialRank, s.Player2InitialRank, s.Player1Wins, s.Player2Wins,
		s.GamesToWin, s.CurrentGame, s.Player1Side, s.Player2Side, s.Status,
		s.CreatedAt, s.StartedAt, nullStr(s.CurrentGameID), nullRaw(s.Swap2State),
	)
	if err != nil {
		return fmt.Errorf("create series: %w", err)
	}
	return nil
}

// Save updates every mutable field of an existing series.
func (r *SeriesRepo) Save(ctx context.Context, s *model.Series) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE series SET player1_wins = $2, player2_wins = $3, current_game = $4,
		        player1_side = $5, player2_side = $6, status = $7,
		        winner_id = $8, final_score = $9, ended_at = $10, loser_mp_change = $11,
		        current_game_id = $12, swap2_state = $13
		 WHERE id = $1`,
		s.ID, s.Player1Wins, s.Player2Wins, s.CurrentGame,
		s.Player1Side, s.Player2Side, s.Status,
		nullStr(s.WinnerID), nullStr(s.FinalScore), s.EndedAt, s.LoserMPChange,
		nullStr(s.CurrentGameID), nullRaw(s.Swap2State),
	)
	if err != nil {
		return fmt.Errorf("save series: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("save series: no row with id %s", s.ID)
	}
	return nil
}

// FindByID returns a series by ID, or (nil, nil) if absent.
func (r *SeriesRepo) FindByID(ctx context.Context, id string) (*model.Series, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+seriesColumns+` FROM series WHERE id = $1`, id)
	s, err := scanSeries(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find series: %w", err)
	}
	return s, nil
}

// ListByPlayer returns all series the player participated in, most
// recent first.
func (r *SeriesRepo) ListByPlayer(ctx context.Context, playerID string) ([]model.Series, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+seriesColumns+` FROM series
		 WHERE player1_id = $1 OR player2_id = $1
		 ORDER BY created_at DESC LIMIT 50`, playerID)
	if err != nil {
		return nil, fmt.Errorf("list series by player: %w", err)
	}
	defer rows.Close()
	return collectSeries(rows)
}

// ListActive returns all in-progress series, used for restart recovery.
func (r *SeriesRepo) ListActive(ctx context.Context) ([]model.Series, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+seriesColumns+` FROM series WHERE status = 'in_progress' ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list active series: %w", err)
	}
	defer rows.Close()
	return collectSeries(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSeries(row rowScanner) (*model.Series, error) {
	var s model.Series
	var winnerID, finalScore, currentGameID sql.NullString
	var loserMPChange sql.NullInt64
	var swap2State []byte
	err := row.Scan(
		&s.ID, &s.Player1ID, &s.Player2ID, &s.Player1InitialMP, &s.Player2InitialMP,
		&s.Player1InitialRank, &s.Player2InitialRank, &s.Player1Wins, &s.Player2Wins,
		&s.GamesToWin, &s.CurrentGame, &s.Player1Side, &s.Player2Side, &s.Status,
		&s.CreatedAt, &s.StartedAt, &winnerID, &finalScore, &s.EndedAt, &loserMPChange,
		&currentGameID, &swap2State,
	)
	if err != nil {
		return nil, err
	}
	s.WinnerID = winnerID.String
	s.FinalScore = finalScore.String
	s.CurrentGameID = currentGameID.String
	if loserMPChange.Valid {
		v := int(loserMPChange.Int64)
		s.LoserMPChange = &v
	}
	if len(swap2State) > 0 {
		s.Swap2State = swap2State
	}
	return &s, nil
}

func collectSeries(rows *sql.Rows) ([]model.Series, error) {
	var result []model.Series
	for rows.Next() {
		s, err := scanSeries(rows)
		if err != nil {
			return nil, fmt.Errorf("scan series: %w", err)
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
