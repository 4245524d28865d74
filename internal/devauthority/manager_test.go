package devauthority

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/cheese-board-client/internal/authority"
	"github.com/park285/cheese-board-client/internal/board"
	"github.com/park285/cheese-board-client/internal/snapshot"
)

func newTestManager(t *testing.T) (*Manager, *redis.Client, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewManager(rdb, 0, zap.NewNop()), rdb, func() { _ = rdb.Close(); mr.Close() }
}

type capture struct {
	mu    sync.Mutex
	snaps []snapshot.Snapshot
}

func (c *capture) Publish(_ context.Context, s snapshot.Snapshot) {
	c.mu.Lock()
	c.snaps = append(c.snaps, s)
	c.mu.Unlock()
}

func seated(t *testing.T, m *Manager) *Game {
	t.Helper()
	ctx := context.Background()
	g, err := m.Create(ctx, "w")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, _, err := m.Join(ctx, g.ID, "b"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	return g
}

func TestCreateJoinLifecycle(t *testing.T) {
	m, _, cleanup := newTestManager(t)
	defer cleanup()
	ctx := context.Background()

	g1, err := m.Create(ctx, "w")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	g2, _ := m.Create(ctx, "x")
	if g1.ID != "1" || g2.ID != "2" {
		t.Fatalf("ids should be sequential: %s %s", g1.ID, g2.ID)
	}
	if g1.Status != snapshot.StatusAwaitingOpponent {
		t.Fatalf("status = %s", g1.Status)
	}

	g, side, err := m.Join(ctx, g1.ID, "b")
	if err != nil || side != board.Black || g.Status != snapshot.StatusActive {
		t.Fatalf("join: side=%s status=%s err=%v", side, g.Status, err)
	}
	if _, side, err := m.Join(ctx, g1.ID, "w"); err != nil || side != board.White {
		t.Fatalf("rejoin should return the existing seat: %s %v", side, err)
	}
	if _, _, err := m.Join(ctx, g1.ID, "c"); !errors.Is(err, authority.ErrAlreadyFull) {
		t.Fatalf("third join: %v", err)
	}
	if _, _, err := m.Join(ctx, "99", "c"); !errors.Is(err, authority.ErrNotFound) {
		t.Fatalf("missing session: %v", err)
	}
}

func TestMoveRules(t *testing.T) {
	m, _, cleanup := newTestManager(t)
	defer cleanup()
	ctx := context.Background()
	g := seated(t, m)

	if _, err := m.Move(ctx, g.ID, "b", "E7", "E5", ""); !errors.Is(err, authority.ErrNotYourTurn) {
		t.Fatalf("black moving first: %v", err)
	}
	if _, err := m.Move(ctx, g.ID, "w", "E2", "E5", ""); !errors.Is(err, authority.ErrIllegalMove) {
		t.Fatalf("illegal pawn jump: %v", err)
	}
	if _, err := m.Move(ctx, g.ID, "w", "Z2", "E4", ""); err == nil {
		t.Fatalf("bad square accepted")
	}

	got, err := m.Move(ctx, g.ID, "w", "E2", "E4", "")
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	snap, err := m.Snapshot(got)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Board.Occupied(board.MustPosition("E2")) {
		t.Fatalf("E2 should be empty")
	}
	if sym, ok := snap.Board.At(board.MustPosition("E4")); !ok || sym != 'P' {
		t.Fatalf("E4 = %v %v", sym, ok)
	}
	if snap.CurrentTurn != board.Black || got.MovesSAN[0] != "e4" {
		t.Fatalf("turn=%s san=%v", snap.CurrentTurn, got.MovesSAN)
	}
}

func TestMoveBeforeOpponentJoins(t *testing.T) {
	m, _, cleanup := newTestManager(t)
	defer cleanup()
	g, _ := m.Create(context.Background(), "w")
	if _, err := m.Move(context.Background(), g.ID, "w", "E2", "E4", ""); !errors.Is(err, authority.ErrNotYourTurn) {
		t.Fatalf("err = %v", err)
	}
}

func TestCheckmateFinishesSession(t *testing.T) {
	m, _, cleanup := newTestManager(t)
	defer cleanup()
	ctx := context.Background()
	g := seated(t, m)

	plays := []struct{ who, from, to string }{
		{"w", "F2", "F3"}, {"b", "E7", "E5"}, {"w", "G2", "G4"}, {"b", "D8", "H4"},
	}
	var last *Game
	for _, p := range plays {
		var err error
		last, err = m.Move(ctx, g.ID, p.who, p.from, p.to, "")
		if err != nil {
			t.Fatalf("%s%s: %v", p.from, p.to, err)
		}
	}
	if last.Status != snapshot.StatusFinished || last.Outcome != "black" {
		t.Fatalf("status=%s outcome=%s", last.Status, last.Outcome)
	}
	if _, err := m.Move(ctx, g.ID, "w", "A2", "A3", ""); !errors.Is(err, authority.ErrGameOver) {
		t.Fatalf("move after mate: %v", err)
	}
	if _, err := m.Undo(ctx, g.ID, "w"); !errors.Is(err, authority.ErrUndoNotAllowed) {
		t.Fatalf("undo after mate: %v", err)
	}
	if pgn := buildPGN(last, mapResultToPGN(last.Outcome)); !strings.Contains(pgn, "1. f3 e5 2. g4 Qh4") || !strings.HasSuffix(pgn, "0-1") {
		t.Fatalf("pgn = %q", pgn)
	}
}

func TestUndo(t *testing.T) {
	m, _, cleanup := newTestManager(t)
	defer cleanup()
	ctx := context.Background()
	g := seated(t, m)

	if _, err := m.Undo(ctx, g.ID, "w"); !errors.Is(err, authority.ErrNothingToUndo) {
		t.Fatalf("undo on fresh game: %v", err)
	}
	if _, err := m.Move(ctx, g.ID, "w", "E2", "E4", ""); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if _, err := m.Undo(ctx, g.ID, "stranger"); !errors.Is(err, authority.ErrUndoNotAllowed) {
		t.Fatalf("stranger undo: %v", err)
	}
	got, err := m.Undo(ctx, g.ID, "b")
	if err != nil {
		t.Fatalf("Undo: %v", err)
	}
	snap, _ := m.Snapshot(got)
	if !snap.Board.Occupied(board.MustPosition("E2")) || snap.CurrentTurn != board.White || len(got.MovesUCI) != 0 {
		t.Fatalf("undo did not restore: turn=%s moves=%v", snap.CurrentTurn, got.MovesUCI)
	}
}

func TestPromotionDefaultsToQueen(t *testing.T) {
	m, rdb, cleanup := newTestManager(t)
	defer cleanup()
	ctx := context.Background()
	g := seated(t, m)

	// Walk the h-pawn through to g8 with a capture on g7.
	seq := []struct{ who, from, to string }{
		{"w", "H2", "H4"}, {"b", "G8", "F6"},
		{"w", "H4", "H5"}, {"b", "F6", "G8"},
		{"w", "H5", "H6"}, {"b", "G8", "F6"},
		{"w", "H6", "G7"}, {"b", "F6", "G8"},
	}
	for _, p := range seq {
		if _, err := m.Move(ctx, g.ID, p.who, p.from, p.to, ""); err != nil {
			t.Fatalf("%s%s: %v", p.from, p.to, err)
		}
	}
	got, err := m.Move(ctx, g.ID, "w", "G7", "H8", "")
	if err != nil {
		t.Fatalf("promotion: %v", err)
	}
	snap, _ := m.Snapshot(got)
	if sym, _ := snap.Board.At(board.MustPosition("H8")); sym != 'Q' {
		t.Fatalf("H8 = %q", sym)
	}
	if n, _ := rdb.Exists(ctx, gameKey(g.ID)).Result(); n != 1 {
		t.Fatalf("session key missing")
	}
}

func TestPublishOnEveryCommit(t *testing.T) {
	m, _, cleanup := newTestManager(t)
	defer cleanup()
	c := &capture{}
	m.AddPublisher(c)
	g := seated(t, m)
	if _, err := m.Move(context.Background(), g.ID, "w", "D2", "D4", ""); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if _, err := m.Move(context.Background(), g.ID, "b", "D2", "D4", ""); err == nil {
		t.Fatalf("expected rejection")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.snaps) != 3 {
		t.Fatalf("published %d snapshots, want create+join+move", len(c.snaps))
	}
	if last := c.snaps[2]; last.CurrentTurn != board.Black || last.SessionID != g.ID {
		t.Fatalf("last published = %+v", last)
	}
}
