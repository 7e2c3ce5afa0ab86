package livefs

import "fmt"

// ArgError reports a malformed action invocation: an unknown
// action name, an argument given before any action, or the wrong
// number of positional arguments for an action.
type ArgError struct {
	Action string
	Msg    string
}

func (e *ArgError) Error() string {
	return fmt.Sprintf("%s: %s", e.Action, e.Msg)
}

// SubprocessError reports a non-zero exit from an external tool invoked
// with Check: true.
type SubprocessError struct {
	Argv     []string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *SubprocessError) Error() string {
	return fmt.Sprintf("command %v exited %d: %s", e.Argv, e.ExitCode, e.Stderr)
}

// WorkspaceError reports a problem with the session workspace itself:
// an absolute path handed to Session.P, or no live filesystem found on
// the source loop device.
type WorkspaceError struct {
	Msg string
}

func (e *WorkspaceError) Error() string {
	return e.Msg
}

// NoLiveFilesystem is returned by OpenImage when no partition on the
// source loop device carries a .disk/info marker.
var NoLiveFilesystem = &WorkspaceError{Msg: "no partition with a live filesystem (.disk/info) found"}

// LayerResolutionError reports that an action requiring a specific kind
// of layer (e.g. one containing /usr/lib/modules) could not find one.
type LayerResolutionError struct {
	Msg string
}

func (e *LayerResolutionError) Error() string {
	return e.Msg
}
