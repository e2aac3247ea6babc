package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/omok-arena/api/internal/model"
	"github.com/omok-arena/api/pkg/swap2"
)

type fixture struct {
	seriesRepo  *mockSeriesRepo
	playerRepo  *mockPlayerRepo
	cache       *mockMatchCache
	swap2Svc    *Swap2Service
	seriesSvc   *SeriesService
	broadcaster *recordingBroadcaster
}

func newFixture() *fixture {
	seriesRepo := newMockSeriesRepo()
	playerRepo := newMockPlayerRepo()
	playerRepo.add("p1", 1200, "bronze")
	playerRepo.add("p2", 1350, "silver")
	cache := newMockMatchCache()
	swap2Svc := NewSwap2Service(cache)
	broadcaster := &recordingBroadcaster{}
	return &fixture{
		seriesRepo:  seriesRepo,
		playerRepo:  playerRepo,
		cache:       cache,
		swap2Svc:    swap2Svc,
		seriesSvc:   NewSeriesService(seriesRepo, playerRepo, cache, swap2Svc, broadcaster),
		broadcaster: broadcaster,
	}
}

func TestCreateSeries(t *testing.T) {
	f := newFixture()

	series, err := f.seriesSvc.CreateSeries(context.Background(), "p1", "p2")
	if err != nil {
		t.Fatalf("CreateSeries: %v", err)
	}
	if series.Status != model.SeriesInProgress {
		t.Errorf("expected status in_progress, got %s", series.Status)
	}
	if series.CurrentGame != 1 || series.GamesToWin != 2 {
		t.Errorf("expected game 1 of first-to-2, got game %d of first-to-%d", series.CurrentGame, series.GamesToWin)
	}
	if series.Player1InitialMP != 1200 || series.Player2InitialMP != 1350 {
		t.Errorf("initial MP not stamped: %d, %d", series.Player1InitialMP, series.Player2InitialMP)
	}
	if series.Player1InitialRank != "bronze" || series.Player2InitialRank != "silver" {
		t.Errorf("initial rank not stamped: %s, %s", series.Player1InitialRank, series.Player2InitialRank)
	}
	if _, err := uuid.Parse(series.ID); err != nil {
		t.Errorf("series ID is not a UUID: %s", series.ID)
	}
	if series.CurrentGameID == "" {
		t.Error("expected a game ID for game 1")
	}
	if len(series.Swap2State) == 0 {
		t.Error("expected an embedded opening state")
	}

	// Opening is registered and player1 opens.
	st, err := f.swap2Svc.GetState(context.Background(), series.CurrentGameID)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if st.Phase != swap2.PhasePlacement || st.ActivePlayerID != "p1" {
		t.Errorf("expected placement phase with p1 active, got %s/%s", st.Phase, st.ActivePlayerID)
	}
}

func TestCreateSeriesSamePlayers(t *testing.T) {
	f := newFixture()
	if _, err := f.seriesSvc.CreateSeries(context.Background(), "p1", "p1"); !errors.Is(err, ErrSamePlayers) {
		t.Errorf("expected ErrSamePlayers, got %v", err)
	}
}

func TestCreateSeriesUnknownPlayer(t *testing.T) {
	f := newFixture()
	if _, err := f.seriesSvc.CreateSeries(context.Background(), "p1", "ghost"); !errors.Is(err, ErrPlayerNotFound) {
		t.Errorf("expected ErrPlayerNotFound, got %v", err)
	}
}

func TestEndGameAdvancesSeries(t *testing.T) {
	f := newFixture()
	series, _ := f.seriesSvc.CreateSeries(context.Background(), "p1", "p2")
	game1ID := series.CurrentGameID

	result, err := f.seriesSvc.EndGame(context.Background(), series.ID, "match-1", "p1", 300)
	if err != nil {
		t.Fatalf("EndGame: %v", err)
	}
	if result.IsComplete {
		t.Error("series should not be complete after one win")
	}
	if !result.NextGameReady {
		t.Error("expected next game ready")
	}
	if result.Series.Player1Wins != 1 || result.Series.Player2Wins != 0 {
		t.Errorf("expected tally 1-0, got %d-%d", result.Series.Player1Wins, result.Series.Player2Wins)
	}
	if result.Series.CurrentGame != 2 {
		t.Errorf("expected current game 2, got %d", result.Series.CurrentGame)
	}
	if result.GameID == "" || result.GameID == game1ID {
		t.Errorf("expected a fresh game ID, got %q", result.GameID)
	}
	if result.Swap2State == nil || result.Swap2State.Phase != swap2.PhasePlacement {
		t.Error("expected a fresh opening for game 2")
	}

	// Old opening is gone, new one is registered.
	if _, err := f.swap2Svc.GetState(context.Background(), game1ID); !errors.Is(err, ErrOpeningNotFound) {
		t.Errorf("expected old opening cleared, got %v", err)
	}
	if !f.broadcaster.has("game_ended") {
		t.Error("expected game_ended broadcast")
	}
}

func TestEndGameCompletesSeries(t *testing.T) {
	f := newFixture()
	series, _ := f.seriesSvc.CreateSeries(context.Background(), "p1", "p2")

	if _, err := f.seriesSvc.EndGame(context.Background(), series.ID, "m1", "p1", 300); err != nil {
		t.Fatalf("EndGame 1: %v", err)
	}
	result, err := f.seriesSvc.EndGame(context.Background(), series.ID, "m2", "p1", 280)
	if err != nil {
		t.Fatalf("EndGame 2: %v", err)
	}
	if !result.IsComplete {
		t.Fatal("series should be complete at two wins")
	}
	s := result.Series
	if s.Status != model.SeriesCompleted {
		t.Errorf("expected status completed, got %s", s.Status)
	}
	if s.WinnerID != "p1" {
		t.Errorf("expected winner p1, got %s", s.WinnerID)
	}
	if s.FinalScore != "2-0" {
		t.Errorf("expected final score 2-0, got %s", s.FinalScore)
	}
	if s.EndedAt == nil {
		t.Error("expected endedAt to be set")
	}
	if s.LoserMPChange == nil || *s.LoserMPChange != -15 {
		t.Errorf("expected loser MP change -15, got %v", s.LoserMPChange)
	}
	if s.CurrentGameID != "" || s.Swap2State != nil {
		t.Error("expected live game state cleared on completion")
	}
	if !f.broadcaster.has("series_completed") {
		t.Error("expected series_completed broadcast")
	}
}

func TestEndGameOnCompletedSeries(t *testing.T) {
	f := newFixture()
	series, _ := f.seriesSvc.CreateSeries(context.Background(), "p1", "p2")
	f.seriesSvc.EndGame(context.Background(), series.ID, "m1", "p1", 1)
	f.seriesSvc.EndGame(context.Background(), series.ID, "m2", "p1", 1)

	if _, err := f.seriesSvc.EndGame(context.Background(), series.ID, "m3", "p1", 1); !errors.Is(err, ErrSeriesNotActive) {
		t.Errorf("expected ErrSeriesNotActive, got %v", err)
	}
}

func TestEndGameNotFound(t *testing.T) {
	f := newFixture()
	if _, err := f.seriesSvc.EndGame(context.Background(), "nonexistent", "m1", "p1", 1); !errors.Is(err, ErrSeriesNotFound) {
		t.Errorf("expected ErrSeriesNotFound, got %v", err)
	}
}

func TestEndGameUnknownWinner(t *testing.T) {
	f := newFixture()
	series, _ := f.seriesSvc.CreateSeries(context.Background(), "p1", "p2")
	if _, err := f.seriesSvc.EndGame(context.Background(), series.ID, "m1", "ghost", 1); !errors.Is(err, ErrNotInSeries) {
		t.Errorf("expected ErrNotInSeries, got %v", err)
	}
}

func TestForfeitCreditsOpponent(t *testing.T) {
	f := newFixture()
	series, _ := f.seriesSvc.CreateSeries(context.Background(), "p1", "p2")

	result, err := f.seriesSvc.ForfeitCurrentGame(context.Background(), series.ID, "p1")
	if err != nil {
		t.Fatalf("ForfeitCurrentGame: %v", err)
	}
	if result.Series.Player2Wins != 1 {
		t.Errorf("expected p2 credited a win, tally %d-%d", result.Series.Player1Wins, result.Series.Player2Wins)
	}
	if !f.broadcaster.has("series_forfeit") {
		t.Error("expected series_forfeit broadcast")
	}
}

func TestDoubleForfeitCompletesSeries(t *testing.T) {
	f := newFixture()
	series, _ := f.seriesSvc.CreateSeries(context.Background(), "p1", "p2")

	if _, err := f.seriesSvc.ForfeitCurrentGame(context.Background(), series.ID, "p1"); err != nil {
		t.Fatalf("first forfeit: %v", err)
	}
	result, err := f.seriesSvc.ForfeitCurrentGame(context.Background(), series.ID, "p1")
	if err != nil {
		t.Fatalf("second forfeit: %v", err)
	}

	s := result.Series
	if s.Status != model.SeriesCompleted {
		t.Errorf("consecutive forfeits must complete, not abandon: got %s", s.Status)
	}
	if s.WinnerID != "p2" {
		t.Errorf("expected winner p2, got %s", s.WinnerID)
	}
	if s.Player1Wins != 0 || s.Player2Wins != 2 {
		t.Errorf("expected tally 0-2, got %d-%d", s.Player1Wins, s.Player2Wins)
	}
	if s.FinalScore != "0-2" {
		t.Errorf("expected final score 0-2, got %s", s.FinalScore)
	}
}

func TestAbandonSeries(t *testing.T) {
	f := newFixture()
	series, _ := f.seriesSvc.CreateSeries(context.Background(), "p1", "p2")
	gameID := series.CurrentGameID

	result, err := f.seriesSvc.AbandonSeries(context.Background(), series.ID, "p1")
	if err != nil {
		t.Fatalf("AbandonSeries: %v", err)
	}
	if result.WinnerID != "p2" || result.LoserID != "p1" {
		t.Errorf("expected winner p2, loser p1, got %s/%s", result.WinnerID, result.LoserID)
	}
	s := result.Series
	if s.Status != model.SeriesAbandoned {
		t.Errorf("expected status abandoned, got %s", s.Status)
	}
	if s.LoserMPChange == nil || *s.LoserMPChange != -25 {
		t.Errorf("expected loser MP change -25, got %v", s.LoserMPChange)
	}
	if s.EndedAt == nil {
		t.Error("expected endedAt to be set")
	}
	if _, err := f.swap2Svc.GetState(context.Background(), gameID); !errors.Is(err, ErrOpeningNotFound) {
		t.Error("expected opening state cleared on abandon")
	}
	if !f.broadcaster.has("series_abandoned") {
		t.Error("expected series_abandoned broadcast")
	}
}

func TestAbandonByNonParticipant(t *testing.T) {
	f := newFixture()
	series, _ := f.seriesSvc.CreateSeries(context.Background(), "p1", "p2")
	if _, err := f.seriesSvc.AbandonSeries(context.Background(), series.ID, "ghost"); !errors.Is(err, ErrNotInSeries) {
		t.Errorf("expected ErrNotInSeries, got %v", err)
	}
}

func TestRematchHandshake(t *testing.T) {
	f := newFixture()
	series, _ := f.seriesSvc.CreateSeries(context.Background(), "p1", "p2")
	f.seriesSvc.EndGame(context.Background(), series.ID, "m1", "p1", 1)
	f.seriesSvc.EndGame(context.Background(), series.ID, "m2", "p1", 1)

	first, err := f.seriesSvc.RequestRematch(context.Background(), series.ID, "p1")
	if err != nil {
		t.Fatalf("first RequestRematch: %v", err)
	}
	if first.RematchAccepted || !first.WaitingForOpponent {
		t.Errorf("expected waiting for opponent, got %+v", first)
	}

	second, err := f.seriesSvc.RequestRematch(context.Background(), series.ID, "p2")
	if err != nil {
		t.Fatalf("second RequestRematch: %v", err)
	}
	if !second.RematchAccepted {
		t.Fatal("expected rematch accepted")
	}
	ns := second.NewSeries
	if ns == nil {
		t.Fatal("expected a new series")
	}
	if ns.ID == series.ID {
		t.Error("new series must have a distinct ID")
	}
	if ns.Player1ID != "p1" || ns.Player2ID != "p2" {
		t.Errorf("expected same players, got %s/%s", ns.Player1ID, ns.Player2ID)
	}
	if ns.Player1Wins != 0 || ns.Player2Wins != 0 || ns.CurrentGame != 1 {
		t.Errorf("expected fresh tallies, got %d-%d game %d", ns.Player1Wins, ns.Player2Wins, ns.CurrentGame)
	}
	if ns.Status != model.SeriesInProgress {
		t.Errorf("expected in_progress, got %s", ns.Status)
	}
	if ns.WinnerID != "" || ns.FinalScore != "" || ns.EndedAt != nil {
		t.Error("expected null termination fields on the rematch series")
	}
	if !f.broadcaster.has("rematch_ready") {
		t.Error("expected rematch_ready broadcast")
	}
}

func TestRematchRepeatedRequestStillWaits(t *testing.T) {
	f := newFixture()
	series, _ := f.seriesSvc.CreateSeries(context.Background(), "p1", "p2")
	f.seriesSvc.EndGame(context.Background(), series.ID, "m1", "p2", 1)
	f.seriesSvc.EndGame(context.Background(), series.ID, "m2", "p2", 1)

	f.seriesSvc.RequestRematch(context.Background(), series.ID, "p1")
	again, err := f.seriesSvc.RequestRematch(context.Background(), series.ID, "p1")
	if err != nil {
		t.Fatalf("repeat RequestRematch: %v", err)
	}
	if again.RematchAccepted || !again.WaitingForOpponent {
		t.Errorf("repeat request by same player must keep waiting, got %+v", again)
	}
}

func TestRematchOnActiveSeries(t *testing.T) {
	f := newFixture()
	series, _ := f.seriesSvc.CreateSeries(context.Background(), "p1", "p2")
	if _, err := f.seriesSvc.RequestRematch(context.Background(), series.ID, "p1"); !errors.Is(err, ErrSeriesNotCompleted) {
		t.Errorf("expected ErrSeriesNotCompleted, got %v", err)
	}
}

func TestRematchByNonParticipant(t *testing.T) {
	f := newFixture()
	series, _ := f.seriesSvc.CreateSeries(context.Background(), "p1", "p2")
	f.seriesSvc.EndGame(context.Background(), series.ID, "m1", "p1", 1)
	f.seriesSvc.EndGame(context.Background(), series.ID, "m2", "p1", 1)

	if _, err := f.seriesSvc.RequestRematch(context.Background(), series.ID, "ghost"); !errors.Is(err, ErrNotInSeries) {
		t.Errorf("expected ErrNotInSeries, got %v", err)
	}
}

func TestSyncOpeningStateRecordsSides(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	series, _ := f.seriesSvc.CreateSeries(ctx, "p1", "p2")

	f.swap2Svc.PlaceStone(ctx, series.CurrentGameID, "p1", 7, 7)
	f.swap2Svc.PlaceStone(ctx, series.CurrentGameID, "p1", 7, 8)
	f.swap2Svc.PlaceStone(ctx, series.CurrentGameID, "p1", 8, 7)
	st, err := f.swap2Svc.MakeChoice(ctx, series.CurrentGameID, "p2", swap2.ChoiceBlack)
	if err != nil {
		t.Fatalf("MakeChoice: %v", err)
	}

	if err := f.seriesSvc.SyncOpeningState(ctx, series.ID, st); err != nil {
		t.Fatalf("SyncOpeningState: %v", err)
	}

	saved, _ := f.seriesRepo.FindByID(ctx, series.ID)
	if saved.Player1Side != "white" || saved.Player2Side != "black" {
		t.Errorf("expected sides white/black, got %s/%s", saved.Player1Side, saved.Player2Side)
	}
	if len(saved.Swap2State) == 0 {
		t.Error("expected opening state persisted on the series")
	}
}

func TestRecoverActiveSeries(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	series, _ := f.seriesSvc.CreateSeries(ctx, "p1", "p2")
	f.swap2Svc.PlaceStone(ctx, series.CurrentGameID, "p1", 7, 7)
	st, _ := f.swap2Svc.GetState(ctx, series.CurrentGameID)
	f.seriesSvc.SyncOpeningState(ctx, series.ID, st)

	// Fresh services over the same repo simulate a restart.
	cache := newMockMatchCache()
	swap2Svc := NewSwap2Service(cache)
	svc := NewSeriesService(f.seriesRepo, f.playerRepo, cache, swap2Svc, nil)

	if err := svc.RecoverActiveSeries(ctx); err != nil {
		t.Fatalf("RecoverActiveSeries: %v", err)
	}

	restored, err := swap2Svc.GetState(ctx, series.CurrentGameID)
	if err != nil {
		t.Fatalf("GetState after recovery: %v", err)
	}
	if restored.StoneCount() != 1 {
		t.Errorf("expected 1 stone after recovery, got %d", restored.StoneCount())
	}
}

func TestGetSeries(t *testing.T) {
	f := newFixture()
	series, _ := f.seriesSvc.CreateSeries(context.Background(), "p1", "p2")

	state, err := f.seriesSvc.GetSeries(context.Background(), series.ID)
	if err != nil {
		t.Fatalf("GetSeries: %v", err)
	}
	if state.IsComplete {
		t.Error("fresh series should not be complete")
	}

	if _, err := f.seriesSvc.GetSeries(context.Background(), "nonexistent"); !errors.Is(err, ErrSeriesNotFound) {
		t.Errorf("expected ErrSeriesNotFound, got %v", err)
	}
}

func TestPrepareNextSeriesGameAdvances(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	series, _ := f.seriesSvc.CreateSeries(ctx, "p1", "p2")
	firstGameID := series.CurrentGameID

	// Simulate a game settled out-of-band: the score was mutated directly.
	stored, _ := f.seriesRepo.FindByID(ctx, series.ID)
	stored.Player1Wins = 1
	f.seriesRepo.Save(ctx, stored)

	result, err := f.seriesSvc.PrepareNextSeriesGame(ctx, series.ID)
	if err != nil {
		t.Fatalf("PrepareNextSeriesGame: %v", err)
	}
	if result.IsComplete {
		t.Error("series should not be complete at 1-0")
	}
	if !result.NextGameReady {
		t.Error("expected next game to be ready")
	}
	if result.Series.CurrentGame != 2 {
		t.Errorf("expected game 2, got %d", result.Series.CurrentGame)
	}
	if result.GameID == "" || result.GameID == firstGameID {
		t.Errorf("expected a fresh game id, got %q", result.GameID)
	}
	if result.Swap2State == nil || result.Swap2State.Phase != swap2.PhasePlacement {
		t.Error("expected a fresh opening for the next game")
	}
}

func TestPrepareNextSeriesGameFinalizes(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	series, _ := f.seriesSvc.CreateSeries(ctx, "p1", "p2")

	stored, _ := f.seriesRepo.FindByID(ctx, series.ID)
	stored.Player2Wins = 2
	f.seriesRepo.Save(ctx, stored)

	result, err := f.seriesSvc.PrepareNextSeriesGame(ctx, series.ID)
	if err != nil {
		t.Fatalf("PrepareNextSeriesGame: %v", err)
	}
	if !result.IsComplete {
		t.Error("a 2-win tally should finalize the series")
	}
	if result.Series.WinnerID != "p2" || result.Series.FinalScore != "0-2" {
		t.Errorf("unexpected outcome: winner %s score %s", result.Series.WinnerID, result.Series.FinalScore)
	}
}
