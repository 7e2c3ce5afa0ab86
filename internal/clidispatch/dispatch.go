// Package clidispatch parses the editor's trailing "--action arg..."
// argument groups into an ordered list of action invocations and runs
// them against a session, in the order they appeared on the command
// line.
package clidispatch

import (
	"context"
	"strings"

	"github.com/canonical/livefs-editor/internal/livefs"
)

// Invocation is one parsed "--name arg1 arg2 ..." group.
type Invocation struct {
	Name string
	Args []string
}

// ActionFunc runs one invocation's positional arguments against a
// session.
type ActionFunc func(ctx context.Context, s *livefs.Session, args []string) error

// Registry maps action names (as they appear after "--" on the command
// line) to their implementation. Populated by RegisterDefaults.
type Registry map[string]ActionFunc

// Parse splits raw command-line tokens into ordered invocations,
// rejecting an unrecognized "--name" immediately with ArgError rather
// than waiting until dispatch.
func Parse(registry Registry, raw []string) ([]Invocation, error) {
	var calls []Invocation
	haveCurrent := false

	for _, tok := range raw {
		if strings.HasPrefix(tok, "--") {
			name := strings.TrimPrefix(tok, "--")
			if _, ok := registry[name]; !ok {
				return nil, &livefs.ArgError{Action: name, Msg: "unknown action"}
			}
			calls = append(calls, Invocation{Name: name})
			haveCurrent = true
			continue
		}
		if !haveCurrent {
			return nil, &livefs.ArgError{Action: "", Msg: "no action specified for argument " + tok}
		}
		last := &calls[len(calls)-1]
		last.Args = append(last.Args, tok)
	}

	return calls, nil
}

// Dispatch runs each invocation in order against s, stopping at the
// first error.
func Dispatch(ctx context.Context, registry Registry, s *livefs.Session, calls []Invocation) error {
	for _, call := range calls {
		fn := registry[call.Name]
		if err := fn(ctx, s, call.Args); err != nil {
			return err
		}
	}
	return nil
}
