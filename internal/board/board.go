package board

import (
	"fmt"
	"sort"

	nchess "github.com/corentings/chess/v2"
)

// Board is an immutable sparse placement of pieces. Absent positions are empty.
type Board struct {
	pieces map[Position]Symbol
}

// NewBoard copies m into a Board.
func NewBoard(m map[Position]Symbol) Board {
	cp := make(map[Position]Symbol, len(m))
	for p, s := range m {
		cp[p] = s
	}
	return Board{pieces: cp}
}

// ParseBoard decodes the wire mapping. Keys outside the 64-square universe and
// unknown symbols are rejected.
func ParseBoard(raw map[string]string) (Board, error) {
	out := make(map[Position]Symbol, len(raw))
	for k, v := range raw {
		p, err := ParsePosition(k)
		if err != nil {
			return Board{}, fmt.Errorf("board key: %w", err)
		}
		s, err := ParseSymbol(v)
		if err != nil {
			return Board{}, fmt.Errorf("board %s: %w", k, err)
		}
		out[p] = s
	}
	return Board{pieces: out}, nil
}

// At returns the symbol at p.
func (b Board) At(p Position) (Symbol, bool) {
	s, ok := b.pieces[p]
	return s, ok
}

func (b Board) Occupied(p Position) bool {
	_, ok := b.pieces[p]
	return ok
}

func (b Board) Len() int { return len(b.pieces) }

// Positions returns occupied positions in (file, rank) order.
func (b Board) Positions() []Position {
	out := make([]Position, 0, len(b.pieces))
	for p := range b.pieces {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Wire encodes the board back to its wire mapping.
func (b Board) Wire() map[string]string {
	out := make(map[string]string, len(b.pieces))
	for p, s := range b.pieces {
		out[p.String()] = s.String()
	}
	return out
}

func (b Board) Equal(o Board) bool {
	if len(b.pieces) != len(o.pieces) {
		return false
	}
	for p, s := range b.pieces {
		if os, ok := o.pieces[p]; !ok || os != s {
			return false
		}
	}
	return true
}

// FEN returns the piece-placement field of a FEN record for the board.
func (b Board) FEN() string {
	m := make(map[nchess.Square]nchess.Piece, len(b.pieces))
	for p, s := range b.pieces {
		m[p.Square()] = s.Piece()
	}
	return nchess.NewBoard(m).String()
}
