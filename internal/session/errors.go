package session

import (
	"errors"
	"fmt"

	"github.com/park285/cheese-board-client/internal/authority"
)

// ValidationError is returned for input rejected before any request is made.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "invalid input: " + e.Reason }

func invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ErrViewClosed is returned by actions on a closed view.
var ErrViewClosed = errors.New("session view closed")

// describe turns an action error into a catalog key and template data.
func describe(err error, sessionID string) (string, map[string]any) {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return "errors.validation", map[string]any{"Reason": ve.Reason}
	case errors.Is(err, authority.ErrNotFound):
		return "errors.not_found", map[string]any{"SessionID": sessionID}
	case errors.Is(err, authority.ErrAlreadyFull):
		return "errors.already_full", map[string]any{"SessionID": sessionID}
	case errors.Is(err, authority.ErrNothingToUndo):
		return "errors.nothing_to_undo", map[string]any{}
	case errors.Is(err, authority.ErrUndoNotAllowed):
		return "errors.undo_not_allowed", map[string]any{"Message": err.Error()}
	case authority.IsTransport(err):
		return "errors.transport", map[string]any{"Message": err.Error()}
	}
	if _, ok := authority.AsRejection(err); ok {
		return "errors.rejected", map[string]any{"Message": err.Error()}
	}
	return "errors.unknown", map[string]any{"Message": err.Error()}
}
