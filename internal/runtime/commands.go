// internal/runtime/commands.go
package runtime

import "errors"

// CommandKind enumerates what the UI or automation layer may ask of the
// runtime loop.
type CommandKind uint8

const (
	CmdQuit CommandKind = iota + 1
	CmdRefresh
	CmdPausePolling
	CmdResumePolling
	CmdRescan
	CmdStartWorker
	CmdStopWorker
	CmdRestartWorker
	CmdTogglePolling
	CmdUpdateRegister
	CmdFocusPort
	CmdStateLock

	// Internal results posted by the async worker launch; never issued
	// by the UI.
	cmdWorkerStarted
	cmdWorkerStartFailed
)

// Command is one UI-issued request. Port-scoped kinds carry the port
// name; CmdUpdateRegister additionally carries the new values.
type Command struct {
	Kind CommandKind
	Port string

	// CmdUpdateRegister payload.
	Station uint8
	RegKind string
	Address uint16
	Values  []uint16

	// CmdStateLock payload.
	Requester string
	Locked    bool

	// cmdWorkerStartFailed payload.
	Err string
}

// ErrCommandQueueFull tells the caller the loop is not keeping up; the
// command was not enqueued.
var ErrCommandQueueFull = errors.New("runtime: command queue full")

// Post enqueues a command without blocking.
func (l *Loop) Post(cmd Command) error {
	select {
	case l.cmds <- cmd:
		return nil
	default:
		return ErrCommandQueueFull
	}
}
