package peer

import (
	"errors"
	"fmt"
)

// ErrSignalingClosed reports that the signaling channel dropped. The session
// is over at that point; every peer connection is stale and the user has to
// rejoin from scratch.
var ErrSignalingClosed = errors.New("signaling channel closed")

// ErrSessionClosed is returned by operations on a torn-down session.
var ErrSessionClosed = errors.New("session closed")

// MediaAccessError reports a failed camera, microphone or display capture.
// It is surfaced to the user and never retried automatically.
type MediaAccessError struct {
	Device string // "camera", "microphone", "display"
	Err    error
}

func (e *MediaAccessError) Error() string {
	return fmt.Sprintf("media access failed for %s: %v", e.Device, e.Err)
}

func (e *MediaAccessError) Unwrap() error {
	return e.Err
}
