package board

import (
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// Side identifies one of the two players.
type Side string

const (
	White Side = "WHITE"
	Black Side = "BLACK"
)

// ParseSide accepts WHITE/BLACK in any case, plus the w/b shorthands.
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "WHITE", "W":
		return White, nil
	case "BLACK", "B":
		return Black, nil
	default:
		return "", fmt.Errorf("unknown side %q", s)
	}
}

func (s Side) Opposite() Side {
	if s == White {
		return Black
	}
	return White
}

func (s Side) Valid() bool { return s == White || s == Black }

// Kind is a piece type, spelled as the authority spells it.
type Kind string

const (
	King   Kind = "KING"
	Queen  Kind = "QUEEN"
	Rook   Kind = "ROOK"
	Bishop Kind = "BISHOP"
	Knight Kind = "KNIGHT"
	Pawn   Kind = "PAWN"
)

// ParseKind accepts full names or single letters (q, R, ...).
func ParseKind(s string) (Kind, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	for _, k := range []Kind{King, Queen, Rook, Bishop, Knight, Pawn} {
		if v == string(k) || v == string(k.letter()) {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown piece kind %q", s)
}

func (k Kind) letter() byte {
	switch k {
	case King:
		return 'K'
	case Queen:
		return 'Q'
	case Rook:
		return 'R'
	case Bishop:
		return 'B'
	case Knight:
		return 'N'
	case Pawn:
		return 'P'
	}
	return 0
}

// Symbol is a single case-sensitive piece letter: uppercase WHITE, lowercase BLACK.
type Symbol byte

const symbols = "KQRBNPkqrbnp"

// ParseSymbol validates a one-letter wire symbol.
func ParseSymbol(s string) (Symbol, error) {
	if len(s) != 1 || !strings.Contains(symbols, s) {
		return 0, fmt.Errorf("invalid piece symbol %q", s)
	}
	return Symbol(s[0]), nil
}

// SymbolOf builds the symbol for a kind and side.
func SymbolOf(k Kind, side Side) Symbol {
	l := k.letter()
	if side == Black {
		l += 'a' - 'A'
	}
	return Symbol(l)
}

func (s Symbol) String() string { return string(rune(s)) }

func (s Symbol) Side() Side {
	if s >= 'a' && s <= 'z' {
		return Black
	}
	return White
}

func (s Symbol) Kind() Kind {
	switch s {
	case 'K', 'k':
		return King
	case 'Q', 'q':
		return Queen
	case 'R', 'r':
		return Rook
	case 'B', 'b':
		return Bishop
	case 'N', 'n':
		return Knight
	case 'P', 'p':
		return Pawn
	}
	return ""
}

var glyphs = map[Symbol]string{
	'K': "♔", 'Q': "♕", 'R': "♖", 'B': "♗", 'N': "♘", 'P': "♙",
	'k': "♚", 'q': "♛", 'r': "♜", 'b': "♝", 'n': "♞", 'p': "♟",
}

// Glyph is the Unicode chess figure for s, or the letter itself when unknown.
func (s Symbol) Glyph() string {
	if g, ok := glyphs[s]; ok {
		return g
	}
	return s.String()
}

var pieceTypes = map[Kind]nchess.PieceType{
	King:   nchess.King,
	Queen:  nchess.Queen,
	Rook:   nchess.Rook,
	Bishop: nchess.Bishop,
	Knight: nchess.Knight,
	Pawn:   nchess.Pawn,
}

// Piece converts s for use with the chess library.
func (s Symbol) Piece() nchess.Piece {
	pt, ok := pieceTypes[s.Kind()]
	if !ok {
		return nchess.NoPiece
	}
	c := nchess.White
	if s.Side() == Black {
		c = nchess.Black
	}
	return nchess.NewPiece(pt, c)
}

// SymbolFromPiece is the inverse of Symbol.Piece. ok is false for NoPiece.
func SymbolFromPiece(p nchess.Piece) (Symbol, bool) {
	if p == nchess.NoPiece {
		return 0, false
	}
	side := White
	if p.Color() == nchess.Black {
		side = Black
	}
	for k, pt := range pieceTypes {
		if pt == p.Type() {
			return SymbolOf(k, side), true
		}
	}
	return 0, false
}

// Square converts p to the chess library's square.
func (p Position) Square() nchess.Square {
	return nchess.NewSquare(nchess.File(p.file), nchess.Rank(p.rank))
}

// FromSquare converts a library square back to a Position.
func FromSquare(sq nchess.Square) (Position, error) {
	return ToPosition(int(sq.File()), int(sq.Rank()))
}
