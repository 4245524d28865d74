package selection

import (
	"math/rand"
	"testing"

	"github.com/park285/cheese-board-client/internal/board"
)

type recordingHighlighter struct {
	lit map[board.Position]bool
}

func (r *recordingHighlighter) Select(p board.Position) { r.lit[p] = true }
func (r *recordingHighlighter) Clear(p board.Position)  { delete(r.lit, p) }

func newTestMachine(occupied ...string) (*Machine, *recordingHighlighter) {
	set := map[board.Position]bool{}
	for _, s := range occupied {
		set[board.MustPosition(s)] = true
	}
	h := &recordingHighlighter{lit: map[board.Position]bool{}}
	return NewMachine(func(p board.Position) bool { return set[p] }, h), h
}

func TestClickEmptyWhileIdleStaysIdle(t *testing.T) {
	m, h := newTestMachine("E2")
	if _, ok := m.Click(board.MustPosition("E4")); ok {
		t.Fatalf("empty click emitted a move")
	}
	if !m.State().IsIdle() || len(h.lit) != 0 {
		t.Fatalf("empty click changed state: %s", m.State())
	}
}

func TestClickOccupiedSelects(t *testing.T) {
	m, h := newTestMachine("E2")
	m.Click(board.MustPosition("E2"))
	origin, ok := m.State().Origin()
	if !ok || origin != board.MustPosition("E2") || !h.lit[origin] {
		t.Fatalf("expected Selected(E2) with highlight, got %s", m.State())
	}
}

func TestSameSquareTwiceCancels(t *testing.T) {
	m, h := newTestMachine("A1")
	m.Click(board.MustPosition("A1"))
	if _, ok := m.Click(board.MustPosition("A1")); ok {
		t.Fatalf("same-square click emitted a move")
	}
	if !m.State().IsIdle() || len(h.lit) != 0 {
		t.Fatalf("expected Idle without highlight, got %s", m.State())
	}
}

func TestTwoSquaresEmitOneMove(t *testing.T) {
	m, h := newTestMachine("E2")
	m.Click(board.MustPosition("E2"))
	mv, ok := m.Click(board.MustPosition("E4"))
	if !ok || mv.From != board.MustPosition("E2") || mv.To != board.MustPosition("E4") {
		t.Fatalf("expected move E2->E4, got %v %v", mv, ok)
	}
	if !m.State().IsIdle() || len(h.lit) != 0 {
		t.Fatalf("expected Idle after move, got %s", m.State())
	}
	if _, ok := m.Click(board.MustPosition("E4")); ok {
		t.Fatalf("a second move was emitted")
	}
}

func TestSecondClickNeedNotBeEmpty(t *testing.T) {
	m, _ := newTestMachine("E2", "D7")
	m.Click(board.MustPosition("E2"))
	if mv, ok := m.Click(board.MustPosition("D7")); !ok || mv.To != board.MustPosition("D7") {
		t.Fatalf("capture-like selection not emitted: %v %v", mv, ok)
	}
}

func TestResetAlwaysIdle(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	all := board.All()
	occupied := make([]string, 0, 16)
	for _, p := range all[:16] {
		occupied = append(occupied, p.String())
	}
	m, h := newTestMachine(occupied...)
	for i := 0; i < 500; i++ {
		clicks := rng.Intn(4)
		for j := 0; j < clicks; j++ {
			m.Click(all[rng.Intn(len(all))])
		}
		m.Reset()
		if !m.State().IsIdle() || len(h.lit) != 0 {
			t.Fatalf("iteration %d: reset left %s", i, m.State())
		}
	}
}

func TestNilOccupancyNeverSelects(t *testing.T) {
	m := NewMachine(nil, nil)
	m.Click(board.MustPosition("E2"))
	if !m.State().IsIdle() {
		t.Fatalf("nil occupancy selected a square")
	}
	m.Reset()
}
