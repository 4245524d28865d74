package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/park285/cheese-board-client/internal/board"
	"github.com/park285/cheese-board-client/pkg/boarddto"
)

// Status is the session lifecycle reported by the authority. Values other than
// the constants below are carried verbatim.
type Status string

const (
	StatusAwaitingOpponent Status = "AWAITING_OPPONENT"
	StatusActive           Status = "ACTIVE"
	StatusFinished         Status = "FINISHED"
)

var ErrMissingSessionID = errors.New("snapshot has no session id")

// Snapshot is one complete authoritative game state. It is replaced wholesale,
// never patched.
type Snapshot struct {
	SessionID   string
	Status      Status
	CurrentTurn board.Side
	Board       board.Board
}

// FromWire validates and converts the wire shape.
func FromWire(w boarddto.Snapshot) (Snapshot, error) {
	id := w.ID()
	if id == "" {
		return Snapshot{}, ErrMissingSessionID
	}
	b, err := board.ParseBoard(w.Board)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		SessionID:   id,
		Status:      Status(strings.ToUpper(strings.TrimSpace(w.Status))),
		CurrentTurn: board.Side(strings.ToUpper(strings.TrimSpace(w.CurrentTurn))),
		Board:       b,
	}, nil
}

// Decode parses a JSON snapshot payload.
func Decode(raw []byte) (Snapshot, error) {
	var w boarddto.Snapshot
	if err := json.Unmarshal(raw, &w); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return FromWire(w)
}

// Wire converts s back to its wire shape.
func (s Snapshot) Wire() boarddto.Snapshot {
	return boarddto.Snapshot{
		SessionID:   s.SessionID,
		Status:      string(s.Status),
		CurrentTurn: string(s.CurrentTurn),
		Board:       s.Board.Wire(),
	}
}

func (s Snapshot) Equal(o Snapshot) bool {
	return s.SessionID == o.SessionID &&
		s.Status == o.Status &&
		s.CurrentTurn == o.CurrentTurn &&
		s.Board.Equal(o.Board)
}
