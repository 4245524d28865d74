package board

import (
	"errors"
	"fmt"
	"strings"
)

const Size = 8

var (
	ErrPositionEmpty  = errors.New("position is empty")
	ErrPositionFormat = errors.New("position must be a file A-H followed by a rank 1-8")
	ErrOutOfRange     = errors.New("coordinates must be within 0..7")
)

// Position is one of the 64 squares. The zero value is A1.
type Position struct {
	file int8
	rank int8
}

// ToPosition maps grid coordinates (file 0=A, rank 0=1) to a Position.
func ToPosition(file, rank int) (Position, error) {
	if file < 0 || file >= Size || rank < 0 || rank >= Size {
		return Position{}, fmt.Errorf("%w: (%d, %d)", ErrOutOfRange, file, rank)
	}
	return Position{file: int8(file), rank: int8(rank)}, nil
}

// MustPosition parses s and panics on invalid input. Intended for tests and constants.
func MustPosition(s string) Position {
	p, err := ParsePosition(s)
	if err != nil {
		panic(err)
	}
	return p
}

// ParsePosition parses the canonical form ("E4"). Lowercase files are rejected.
func ParsePosition(s string) (Position, error) {
	if strings.TrimSpace(s) == "" {
		return Position{}, ErrPositionEmpty
	}
	if len(s) != 2 {
		return Position{}, fmt.Errorf("%w: %q", ErrPositionFormat, s)
	}
	f, r := s[0], s[1]
	if f < 'A' || f > 'H' || r < '1' || r > '8' {
		return Position{}, fmt.Errorf("%w: %q", ErrPositionFormat, s)
	}
	return Position{file: int8(f - 'A'), rank: int8(r - '1')}, nil
}

// Coords is the inverse of ToPosition.
func (p Position) Coords() (file, rank int) { return int(p.file), int(p.rank) }

func (p Position) File() int { return int(p.file) }
func (p Position) Rank() int { return int(p.rank) }

func (p Position) String() string {
	return string([]byte{byte('A' + p.file), byte('1' + p.rank)})
}

// Less orders positions by file, then rank.
func (p Position) Less(o Position) bool {
	if p.file != o.file {
		return p.file < o.file
	}
	return p.rank < o.rank
}

// Shade is the square color of p; it does not depend on orientation.
func (p Position) Shade() Shade {
	if (int(p.file)+int(p.rank))%2 != 0 {
		return Light
	}
	return Dark
}

// All returns the 64 positions in (file, rank) order.
func All() []Position {
	out := make([]Position, 0, Size*Size)
	for f := 0; f < Size; f++ {
		for r := 0; r < Size; r++ {
			out = append(out, Position{file: int8(f), rank: int8(r)})
		}
	}
	return out
}

type Shade uint8

const (
	Dark Shade = iota
	Light
)

func (s Shade) String() string {
	if s == Light {
		return "light"
	}
	return "dark"
}
