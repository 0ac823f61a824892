package handshake

import (
	"errors"
	"fmt"

	"github.com/srg/ydbolt/internal/ydble"
)

// ErrAborted is reported by a machine stopped with Abort(nil).
var ErrAborted = errors.New("handshake aborted")

// UnexpectedFrameError describes a frame that does not fit the current stage.
// It is never fatal: the machine logs it, counts it and keeps waiting.
type UnexpectedFrameError struct {
	Stage Stage
	Want  string
	Frame ydble.Frame
}

func (e *UnexpectedFrameError) Error() string {
	return fmt.Sprintf("unexpected frame at %s (want %s): %s", e.Stage, e.Want, e.Frame)
}

// ActionError reports that the action answering a challenge could not be
// built, usually because the credentials are malformed. It ends the exchange.
type ActionError struct {
	Err error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("failed to build action: %v", e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}
