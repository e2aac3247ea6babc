package model

import (
	"encoding/json"
	"time"
)

// Series statuses.
const (
	SeriesInProgress = "in_progress"
	SeriesCompleted  = "completed"
	SeriesAbandoned  = "abandoned"
)

// Player represents a ranked player's rating record.
type Player struct {
	UserID      string    `json:"user_id"`
	Mindpoint   int       `json:"mindpoint"`
	CurrentRank string    `json:"current_rank"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Series represents a ranked best-of-three between two players. The
// opening state of the game currently in progress is embedded as raw
// JSON so it survives restarts alongside the series row.
type Series struct {
	ID                 string          `json:"id"`
	Player1ID          string          `json:"player1_id"`
	Player2ID          string          `json:"player2_id"`
	Player1InitialMP   int             `json:"player1_initial_mp"`
	Player2InitialMP   int             `json:"player2_initial_mp"`
	Player1InitialRank string          `json:"player1_initial_rank"`
	Player2InitialRank string          `json:"player2_initial_rank"`
	Player1Wins        int             `json:"player1_wins"`
	Player2Wins        int             `json:"player2_wins"`
	GamesToWin         int             `json:"games_to_win"`
	CurrentGame        int             `json:"current_game"`
	Player1Side        string          `json:"player1_side"` // side in game 1, set when its opening completes
	Player2Side        string          `json:"player2_side"`
	Status             string          `json:"status"` // in_progress, completed, abandoned
	CreatedAt          time.Time       `json:"created_at"`
	StartedAt          *time.Time      `json:"started_at,omitempty"`
	WinnerID           string          `json:"winner_id,omitempty"`
	FinalScore         string          `json:"final_score,omitempty"` // "<player1Wins>-<player2Wins>"
	EndedAt            *time.Time      `json:"ended_at,omitempty"`
	LoserMPChange      *int            `json:"loser_mp_change,omitempty"`
	CurrentGameID      string          `json:"current_game_id,omitempty"`
	Swap2State         json.RawMessage `json:"swap2_state,omitempty"`
}

// HasPlayer reports whether the given player is one of the two participants.
func (s *Series) HasPlayer(playerID string) bool {
	return playerID == s.Player1ID || playerID == s.Player2ID
}

// Opponent returns the other participant, or "" if playerID is not in
// the series.
func (s *Series) Opponent(playerID string) string {
	switch playerID {
	case s.Player1ID:
		return s.Player2ID
	case s.Player2ID:
		return s.Player1ID
	}
	return ""
}
