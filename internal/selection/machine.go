// Package selection turns tile clicks into move requests.
//
// The machine knows nothing about turns or legality; it only keeps the local
// highlight coherent. Callers reset it whenever a snapshot lands and after
// every move attempt.
package selection

import (
	"sync"

	"github.com/park285/cheese-board-client/internal/board"
)

// State is either Idle or Selected(origin).
type State struct {
	origin   board.Position
	selected bool
}

// Idle is the state with no pending origin.
var Idle = State{}

func Selected(origin board.Position) State { return State{origin: origin, selected: true} }

func (s State) IsIdle() bool { return !s.selected }

// Origin returns the selected square, if any.
func (s State) Origin() (board.Position, bool) { return s.origin, s.selected }

func (s State) String() string {
	if !s.selected {
		return "Idle"
	}
	return "Selected(" + s.origin.String() + ")"
}

// Move is a completed from/to selection.
type Move struct {
	From board.Position
	To   board.Position
}

// Occupancy reports whether a square currently holds a piece.
type Occupancy func(board.Position) bool

// Highlighter receives the visual side effects of transitions.
type Highlighter interface {
	Select(p board.Position)
	Clear(p board.Position)
}

type nopHighlighter struct{}

func (nopHighlighter) Select(board.Position) {}
func (nopHighlighter) Clear(board.Position)  {}

// Machine is the only writer of its State.
type Machine struct {
	mu        sync.Mutex
	state     State
	occupied  Occupancy
	highlight Highlighter
}

// NewMachine creates an Idle machine. A nil highlighter is allowed.
func NewMachine(occupied Occupancy, h Highlighter) *Machine {
	if h == nil {
		h = nopHighlighter{}
	}
	return &Machine{occupied: occupied, highlight: h}
}

// Click feeds one tile click. ok is true when the click completed a move request.
func (m *Machine) Click(p board.Position) (mv Move, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	origin, selected := m.state.Origin()
	if !selected {
		if m.occupied == nil || !m.occupied(p) {
			return Move{}, false
		}
		m.state = Selected(p)
		m.highlight.Select(p)
		return Move{}, false
	}

	m.state = Idle
	m.highlight.Clear(origin)
	if origin == p {
		return Move{}, false
	}
	return Move{From: origin, To: p}, true
}

// Reset forces Idle, clearing any highlight.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if origin, selected := m.state.Origin(); selected {
		m.highlight.Clear(origin)
	}
	m.state = Idle
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}
