package actor

import "errors"

// Error taxonomy for the actor core. Remoting-side errors (ProtocolViolation,
// DecodeFailure, HeartbeatTickFailure) live in internal/events.
var (
	ErrNoRoute              = errors.New("actor: no route, put() without a prior connect()")
	ErrMailboxBusy          = errors.New("actor: mailbox already has a pending waiter")
	ErrActorAlreadyRunning  = errors.New("actor: already running")
	ErrActorNotRunning      = errors.New("actor: not running")
	ErrActorAlreadyStopped  = errors.New("actor: already stopped")
	ErrActorNotStarted      = errors.New("actor: not started")
	ErrActorRefusedToStop   = errors.New("actor: refused to stop within the grace period")
	ErrActorAlreadyStarted  = errors.New("actor: already started")
	ErrActorStopped         = errors.New("actor: stopped")
	ErrTimeout              = errors.New("actor: timeout")
	ErrCancelled            = errors.New("actor: cancelled")
)

// StoppedReason is the reserved reason value carried in an exit tuple when an
// actor terminated via Stop() rather than returning a value or an error.
var StoppedReason = errors.New("actor-stopped")
