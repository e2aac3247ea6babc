// Package swap2 implements the Swap 2 opening protocol for a 15x15
// Gomoku/Renju board. One player opens with three tentative stones; the
// opponent either picks a color or asks for two more stones before the
// opener picks. The package is pure state-machine logic with no I/O: the
// service layer owns registries, locking, and persistence.
package swap2

import (
	"errors"
	"time"
)

// BoardSize is the side length of the board; coordinates run [0, BoardSize).
const BoardSize = 15

// Phase identifies where the opening dialogue currently stands.
type Phase string

const (
	PhasePlacement   Phase = "placement"    // opener places stones 1-3
	PhaseChoice      Phase = "choice"       // opponent picks color or asks for more
	PhaseExtra       Phase = "extra"        // opponent places stones 4-5
	PhaseFinalChoice Phase = "final_choice" // opener picks color
	PhaseComplete    Phase = "complete"
)

// Choice is a color pick or the request for two more stones.
type Choice string

const (
	ChoiceBlack     Choice = "black"
	ChoiceWhite     Choice = "white"
	ChoicePlaceMore Choice = "place_more"
)

// Action log entry types.
const (
	ActionPlace  = "place"
	ActionChoice = "choice"
)

var (
	ErrSamePlayer  = errors.New("swap2: players must be distinct")
	ErrWrongPhase  = errors.New("swap2: action not allowed in current phase")
	ErrNotYourTurn = errors.New("swap2: not the active player")
	ErrOffBoard    = errors.New("swap2: coordinates outside the board")
	ErrOccupied    = errors.New("swap2: square already holds a tentative stone")
	ErrBadChoice   = errors.New("swap2: invalid choice for this phase")
	ErrNotComplete = errors.New("swap2: opening is not complete")
)

// Stone is a tentative placement made during the opening. Its color is
// unknown until the dialogue completes.
type Stone struct {
	X              int    `json:"x"`
	Y              int    `json:"y"`
	PlacedBy       string `json:"placed_by"`
	PlacementOrder int    `json:"placement_order"` // 1-based, dense
	Phase          Phase  `json:"phase"`           // phase when placed
}

// Action is one entry in the total-ordered audit log.
type Action struct {
	Type      string    `json:"type"` // place or choice
	Actor     string    `json:"actor"`
	X         int       `json:"x,omitempty"`
	Y         int       `json:"y,omitempty"`
	Choice    Choice    `json:"choice,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// State holds one game's opening dialogue. Player1 is the opener.
type State struct {
	GameID          string   `json:"game_id"`
	Player1ID       string   `json:"player1_id"`
	Player2ID       string   `json:"player2_id"`
	Phase           Phase    `json:"phase"`
	ActivePlayerID  string   `json:"active_player_id"`
	TentativeStones []Stone  `json:"tentative_stones"`
	Actions         []Action `json:"actions"`
	BlackPlayerID   string   `json:"black_player_id,omitempty"`
	WhitePlayerID   string   `json:"white_player_id,omitempty"`
	FinalChoice     Choice   `json:"final_choice,omitempty"`
}

// NewState starts a fresh opening with player1 to place first.
func NewState(gameID, player1ID, player2ID string) (*State, error) {
	if player1ID == player2ID {
		return nil, ErrSamePlayer
	}
	return &State{
		GameID:         gameID,
		Player1ID:      player1ID,
		Player2ID:      player2ID,
		Phase:          PhasePlacement,
		ActivePlayerID: player1ID,
	}, nil
}

// StoneCount returns the number of tentative stones placed so far.
func (s *State) StoneCount() int { return len(s.TentativeStones) }

// IsComplete reports whether colors have been assigned.
func (s *State) IsComplete() bool { return s.Phase == PhaseComplete }

// PlaceStone appends a tentative stone. Valid only in the placement and
// extra phases, for the active player, on an empty on-board square.
// The 3rd stone hands the choice to player2; the 5th hands the final
// choice back to player1. A failed call leaves the state unchanged.
func (s *State) PlaceStone(playerID string, x, y int) error {
	if s.Phase != PhasePlacement && s.Phase != PhaseExtra {
		return ErrWrongPhase
	}
	if playerID != s.ActivePlayerID {
		return ErrNotYourTurn
	}
	if x < 0 || x >= BoardSize || y < 0 || y >= BoardSize {
		return ErrOffBoard
	}
	for _, st := range s.TentativeStones {
		if st.X == x && st.Y == y {
			return ErrOccupied
		}
	}

	s.TentativeStones = append(s.TentativeStones, Stone{
		X:              x,
		Y:              y,
		PlacedBy:       playerID,
		PlacementOrder: len(s.TentativeStones) + 1,
		Phase:          s.Phase,
	})
	s.Actions = append(s.Actions, Action{
		Type:      ActionPlace,
		Actor:     playerID,
		X:         x,
		Y:         y,
		Timestamp: time.Now().UTC(),
	})

	switch len(s.TentativeStones) {
	case 3:
		s.Phase = PhaseChoice
		s.ActivePlayerID = s.Player2ID
	case 5:
		s.Phase = PhaseFinalChoice
		s.ActivePlayerID = s.Player1ID
	}
	return nil
}

// MakeChoice resolves a choice step. In the choice phase player2 either
// takes the color they name or asks for two more stones; in the final
// choice phase player1 takes the color they name. The chooser always
// receives the color they called.
func (s *State) MakeChoice(playerID string, choice Choice) error {
	switch s.Phase {
	case PhaseChoice:
		if playerID != s.Player2ID {
			return ErrNotYourTurn
		}
		switch choice {
		case ChoiceBlack:
			s.assign(s.Player2ID, s.Player1ID, choice)
		case ChoiceWhite:
			s.assign(s.Player1ID, s.Player2ID, choice)
		case ChoicePlaceMore:
			s.Phase = PhaseExtra
			s.ActivePlayerID = s.Player2ID
		default:
			return ErrBadChoice
		}
	case PhaseFinalChoice:
		if playerID != s.Player1ID {
			return ErrNotYourTurn
		}
		switch choice {
		case ChoiceBlack:
			s.assign(s.Player1ID, s.Player2ID, choice)
		case ChoiceWhite:
			s.assign(s.Player2ID, s.Player1ID, choice)
		default:
			// place_more is only offered once, at three stones.
			return ErrBadChoice
		}
	default:
		return ErrWrongPhase
	}

	s.Actions = append(s.Actions, Action{
		Type:      ActionChoice,
		Actor:     playerID,
		Choice:    choice,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

func (s *State) assign(blackID, whiteID string, choice Choice) {
	s.BlackPlayerID = blackID
	s.WhitePlayerID = whiteID
	s.FinalChoice = choice
	s.Phase = PhaseComplete
	s.ActivePlayerID = ""
}

// Assignments is the outcome of a completed opening. FirstMover holds
// Black and plays the first move of the main game.
type Assignments struct {
	BlackPlayerID string `json:"black_player_id"`
	WhitePlayerID string `json:"white_player_id"`
	FirstMover    string `json:"first_mover"`
}

// FinalAssignments returns the color assignment of a completed opening.
func (s *State) FinalAssignments() (*Assignments, error) {
	if !s.IsComplete() {
		return nil, ErrNotComplete
	}
	return &Assignments{
		BlackPlayerID: s.BlackPlayerID,
		WhitePlayerID: s.WhitePlayerID,
		FirstMover:    s.BlackPlayerID,
	}, nil
}

// History is the full record of a completed opening.
type History struct {
	Actions         []Action    `json:"actions"`
	TentativeStones []Stone     `json:"tentative_stones"`
	FinalChoice     Choice      `json:"final_choice"`
	FinalAssignment Assignments `json:"final_assignment"`
}

// History returns the audit record of a completed opening.
func (s *State) History() (*History, error) {
	a, err := s.FinalAssignments()
	if err != nil {
		return nil, err
	}
	return &History{
		Actions:         append([]Action(nil), s.Actions...),
		TentativeStones: append([]Stone(nil), s.TentativeStones...),
		FinalChoice:     s.FinalChoice,
		FinalAssignment: *a,
	}, nil
}

// Clone returns a deep copy, so registry-held state can be handed to
// callers without aliasing the slices.
func (s *State) Clone() *State {
	cp := *s
	cp.TentativeStones = append([]Stone(nil), s.TentativeStones...)
	cp.Actions = append([]Action(nil), s.Actions...)
	return &cp
}
