package devauthority

import (
	"net/http"
	"time"

	"github.com/park285/cheese-board-client/internal/authority"
	"github.com/park285/cheese-board-client/internal/board"
	"github.com/park285/cheese-board-client/internal/snapshot"
)

// Game is the persisted state of one session.
type Game struct {
	ID        string          `json:"id"`
	MovesUCI  []string        `json:"moves_uci"`
	MovesSAN  []string        `json:"moves_san"`
	Turn      board.Side      `json:"turn"`
	Status    snapshot.Status `json:"status"`
	WhiteID   string          `json:"white_id"`
	BlackID   string          `json:"black_id"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Outcome   string          `json:"outcome,omitempty"`
	Method    string          `json:"method,omitempty"`
}

// SideOf reports which side clientID plays in g.
func (g *Game) SideOf(clientID string) (board.Side, bool) {
	switch {
	case clientID == "":
		return "", false
	case g.WhiteID == clientID:
		return board.White, true
	case g.BlackID == clientID:
		return board.Black, true
	}
	return "", false
}

func reject(code authority.Code, msg string) *authority.Rejection {
	status := http.StatusBadRequest
	switch code {
	case authority.CodeNotFound:
		status = http.StatusNotFound
	case authority.CodeAlreadyFull:
		status = http.StatusConflict
	}
	return &authority.Rejection{Code: code, Message: msg, Status: status}
}
