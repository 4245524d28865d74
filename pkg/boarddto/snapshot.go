package boarddto

import (
	"encoding/json"
	"strings"
)

// Snapshot is the wire shape of one authoritative game state.
type Snapshot struct {
	SessionID   string            `json:"sessionId,omitempty"`
	Status      string            `json:"status"`
	CurrentTurn string            `json:"currentTurn"`
	Board       map[string]string `json:"board"`

	// GameID carries the numeric id older authorities send instead of sessionId.
	GameID json.RawMessage `json:"gameId,omitempty"`
}

// ID returns SessionID, falling back to the legacy gameId field.
func (s *Snapshot) ID() string {
	if s == nil {
		return ""
	}
	if id := strings.TrimSpace(s.SessionID); id != "" {
		return id
	}
	raw := strings.TrimSpace(string(s.GameID))
	if raw == "" || raw == "null" {
		return ""
	}
	if strings.HasPrefix(raw, `"`) {
		var str string
		if err := json.Unmarshal(s.GameID, &str); err != nil {
			return ""
		}
		return strings.TrimSpace(str)
	}
	return raw
}

// SessionResponse is returned by create and join. Side is optional; older
// authorities imply it from the endpoint.
type SessionResponse struct {
	Snapshot
	Side string `json:"side,omitempty"`
}
