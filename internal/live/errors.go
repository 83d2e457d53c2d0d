package live

import "errors"

var (
	// ErrInvalidTransition indicates a state machine misuse: the caller
	// requested a transition the session's current state does not allow,
	// or the caller lacks authority for it. Never retried.
	ErrInvalidTransition = errors.New("invalid session state transition")

	// ErrSessionNotLive indicates a live-only operation was attempted on a
	// session that is not currently live (or not resident on this instance).
	ErrSessionNotLive = errors.New("session is not live")

	// ErrSessionNotFound indicates the session is unknown to the registry.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidReaction indicates an emoji outside the allowed reaction set.
	ErrInvalidReaction = errors.New("invalid reaction emoji")

	// ErrNotConnected indicates the viewer has no active connection to the session.
	ErrNotConnected = errors.New("viewer is not connected to the session")

	// ErrHeldMessageNotFound indicates an unknown or already-released held message.
	ErrHeldMessageNotFound = errors.New("held message not found")

	// ErrNotHost indicates a host-only operation attempted by another role.
	ErrNotHost = errors.New("caller is not the session host")
)
