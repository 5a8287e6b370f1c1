package error

import "errors"

var (
	ErrBuildFailed                = errors.New("Build error")
	ErrLaunchFailed               = errors.New("Launch error")
	ErrDebuggerIsClosed           = errors.New("debug is closed")
	ErrDebuggerNotStarted         = errors.New("debug is not started")
	ErrProgramIsRunningOptionFail = errors.New("The program is running")
	ErrProgramNotStopped          = errors.New("The program is not stopped")
	ErrRequestInFlight            = errors.New("another debuggee request is in flight")
	ErrPauseNotSupported          = errors.New("Pause is not supported")
	ErrVariableNotFound           = errors.New("variable not found")
)

var (
	ErrWaitTimeout      = errors.New("wait for debuggee event time out")
	ErrDebuggeeExited   = errors.New("debuggee exited")
	ErrUnexpectedEvent  = errors.New("unexpected debuggee event")
	ErrInvalidArguments = errors.New("invalid arguments")
)
