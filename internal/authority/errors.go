package authority

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Code classifies an authority rejection.
type Code string

const (
	CodeNotFound       Code = "NOT_FOUND"
	CodeAlreadyFull    Code = "ALREADY_FULL"
	CodeIllegalMove    Code = "ILLEGAL_MOVE"
	CodeNotYourTurn    Code = "NOT_YOUR_TURN"
	CodeGameOver       Code = "GAME_OVER"
	CodeNothingToUndo  Code = "NOTHING_TO_UNDO"
	CodeUndoNotAllowed Code = "UNDO_NOT_ALLOWED"
	CodeInvalidRequest Code = "INVALID_REQUEST"
	CodeConflict       Code = "CONFLICT"
	CodeRejected       Code = "REJECTED"
)

// Rejection means the authority understood the request and declined it.
type Rejection struct {
	Code    Code
	Message string
	Status  int
}

func (e *Rejection) Error() string {
	if strings.TrimSpace(e.Message) != "" {
		return e.Message
	}
	if e.Code != "" {
		return strings.ToLower(string(e.Code))
	}
	return "rejected by authority"
}

// Is matches rejections by code so errors.Is(err, ErrNotFound) works for any message.
func (e *Rejection) Is(target error) bool {
	t, ok := target.(*Rejection)
	return ok && t.Code == e.Code
}

var (
	ErrNotFound       = &Rejection{Code: CodeNotFound, Message: "session not found"}
	ErrAlreadyFull    = &Rejection{Code: CodeAlreadyFull, Message: "session already has two players"}
	ErrIllegalMove    = &Rejection{Code: CodeIllegalMove, Message: "illegal move"}
	ErrNotYourTurn    = &Rejection{Code: CodeNotYourTurn, Message: "not your turn"}
	ErrGameOver       = &Rejection{Code: CodeGameOver, Message: "game already over"}
	ErrNothingToUndo  = &Rejection{Code: CodeNothingToUndo, Message: "nothing to undo"}
	ErrUndoNotAllowed = &Rejection{Code: CodeUndoNotAllowed, Message: "undo not allowed"}
)

// TransportError wraps network failures, 5xx answers and unreadable responses.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// AsRejection extracts a Rejection from err.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// classify maps an error body and HTTP status to a Code. Bodies without a
// code (plain {"message": ...}) fall back to the status.
func classify(status int, code string) Code {
	if c := Code(strings.ToUpper(strings.TrimSpace(code))); c != "" {
		return c
	}
	switch status {
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusConflict:
		return CodeConflict
	default:
		return CodeRejected
	}
}
