package boarddto

// MoveRequest is the body of POST /games/{id}/move.
type MoveRequest struct {
	From      string  `json:"from"`
	To        string  `json:"to"`
	Promotion *string `json:"promotion"`
}

// ErrorBody is the JSON body of a non-2xx authority response.
type ErrorBody struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Frame types exchanged on the websocket channel.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
)

// Frame is a client → authority control message on the websocket channel.
type Frame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// SnapshotChannel is the Redis pub/sub channel carrying a session's snapshots.
func SnapshotChannel(sessionID string) string {
	return "board:session:" + sessionID + ":snapshots"
}
