package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/omok-arena/api/pkg/swap2"
)

func TestSwap2ServiceFullOpening(t *testing.T) {
	ctx := context.Background()
	cache := newMockMatchCache()
	svc := NewSwap2Service(cache)

	if _, err := svc.Initialize(ctx, "game-1", "p1", "p2"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	for _, pos := range [][2]int{{7, 7}, {7, 8}, {8, 7}} {
		if _, err := svc.PlaceStone(ctx, "game-1", "p1", pos[0], pos[1]); err != nil {
			t.Fatalf("PlaceStone(%d,%d): %v", pos[0], pos[1], err)
		}
	}
	st, err := svc.MakeChoice(ctx, "game-1", "p2", swap2.ChoiceBlack)
	if err != nil {
		t.Fatalf("MakeChoice: %v", err)
	}
	if !st.IsComplete() {
		t.Fatal("opening should be complete")
	}
	if st.BlackPlayerID != "p2" || st.WhitePlayerID != "p1" {
		t.Errorf("expected black=p2 white=p1, got %s/%s", st.BlackPlayerID, st.WhitePlayerID)
	}

	// Mutations are mirrored to the cache.
	raw, _ := cache.GetOpeningState(ctx, "game-1")
	if len(raw) == 0 {
		t.Error("expected opening state mirrored to cache")
	}
}

func TestSwap2ServiceReturnsCopies(t *testing.T) {
	ctx := context.Background()
	svc := NewSwap2Service(newMockMatchCache())
	svc.Initialize(ctx, "game-1", "p1", "p2")

	st, _ := svc.GetState(ctx, "game-1")
	st.TentativeStones = append(st.TentativeStones, swap2.Stone{X: 0, Y: 0})

	fresh, _ := svc.GetState(ctx, "game-1")
	if fresh.StoneCount() != 0 {
		t.Error("caller mutation must not leak into the registry")
	}
}

func TestSwap2ServiceDomainErrorsPassThrough(t *testing.T) {
	ctx := context.Background()
	svc := NewSwap2Service(newMockMatchCache())
	svc.Initialize(ctx, "game-1", "p1", "p2")

	if _, err := svc.PlaceStone(ctx, "game-1", "p2", 7, 7); !errors.Is(err, swap2.ErrNotYourTurn) {
		t.Errorf("expected ErrNotYourTurn, got %v", err)
	}
	if _, err := svc.PlaceStone(ctx, "game-1", "p1", 15, 0); !errors.Is(err, swap2.ErrOffBoard) {
		t.Errorf("expected ErrOffBoard, got %v", err)
	}
	if _, err := svc.MakeChoice(ctx, "game-1", "p2", swap2.ChoiceBlack); !errors.Is(err, swap2.ErrWrongPhase) {
		t.Errorf("expected ErrWrongPhase, got %v", err)
	}
}

func TestSwap2ServiceUnknownGame(t *testing.T) {
	ctx := context.Background()
	svc := NewSwap2Service(newMockMatchCache())

	if _, err := svc.GetState(ctx, "nonexistent"); !errors.Is(err, ErrOpeningNotFound) {
		t.Errorf("expected ErrOpeningNotFound, got %v", err)
	}
	if _, err := svc.PlaceStone(ctx, "nonexistent", "p1", 7, 7); !errors.Is(err, ErrOpeningNotFound) {
		t.Errorf("expected ErrOpeningNotFound, got %v", err)
	}
}

func TestSwap2ServiceColdLoadFromCache(t *testing.T) {
	ctx := context.Background()
	cache := newMockMatchCache()

	first := NewSwap2Service(cache)
	first.Initialize(ctx, "game-1", "p1", "p2")
	first.PlaceStone(ctx, "game-1", "p1", 7, 7)

	// A second service over the same cache simulates a restart.
	second := NewSwap2Service(cache)
	st, err := second.GetState(ctx, "game-1")
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if st.StoneCount() != 1 {
		t.Errorf("expected 1 stone from cache, got %d", st.StoneCount())
	}
	if _, err := second.PlaceStone(ctx, "game-1", "p1", 7, 8); err != nil {
		t.Fatalf("PlaceStone after cold load: %v", err)
	}
}

func TestSwap2ServiceClearState(t *testing.T) {
	ctx := context.Background()
	cache := newMockMatchCache()
	svc := NewSwap2Service(cache)
	svc.Initialize(ctx, "game-1", "p1", "p2")

	svc.ClearState(ctx, "game-1")

	if _, err := svc.GetState(ctx, "game-1"); !errors.Is(err, ErrOpeningNotFound) {
		t.Errorf("expected ErrOpeningNotFound after clear, got %v", err)
	}
	if raw, _ := cache.GetOpeningState(ctx, "game-1"); raw != nil {
		t.Error("expected cached state deleted")
	}
}

func TestSwap2ServiceRestoreState(t *testing.T) {
	ctx := context.Background()
	svc := NewSwap2Service(newMockMatchCache())

	st, _ := swap2.NewState("game-9", "p1", "p2")
	st.PlaceStone("p1", 7, 7)
	st.PlaceStone("p1", 7, 8)
	raw := mustMarshal(t, st)

	restored, err := svc.RestoreState(ctx, raw)
	if err != nil {
		t.Fatalf("RestoreState: %v", err)
	}
	if restored.StoneCount() != 2 {
		t.Errorf("expected 2 stones, got %d", restored.StoneCount())
	}
	if _, err := svc.PlaceStone(ctx, "game-9", "p1", 8, 7); err != nil {
		t.Fatalf("PlaceStone after restore: %v", err)
	}
}

func TestSwap2ServiceConcurrentReadsDuringPlacement(t *testing.T) {
	ctx := context.Background()
	svc := NewSwap2Service(newMockMatchCache())

	if _, err := svc.Initialize(ctx, "game-1", "p1", "p2"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 100 {
			snap, err := svc.GetState(ctx, "game-1")
			if err != nil {
				t.Errorf("GetState: %v", err)
				return
			}
			if snap.StoneCount() > 3 {
				t.Errorf("snapshot has %d stones", snap.StoneCount())
				return
			}
		}
	}()

	for _, pos := range [][2]int{{7, 7}, {7, 8}, {8, 7}} {
		if _, err := svc.PlaceStone(ctx, "game-1", "p1", pos[0], pos[1]); err != nil {
			t.Fatalf("PlaceStone(%d,%d): %v", pos[0], pos[1], err)
		}
	}
	wg.Wait()

	st, err := svc.GetState(ctx, "game-1")
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if st.Phase != swap2.PhaseChoice {
		t.Errorf("expected phase %q, got %q", swap2.PhaseChoice, st.Phase)
	}
}
