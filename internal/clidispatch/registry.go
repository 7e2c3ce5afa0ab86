package clidispatch

import (
	"context"
	"strings"

	"github.com/canonical/livefs-editor/internal/actions"
	"github.com/canonical/livefs-editor/internal/livefs"
)

// convBool mirrors the CLI's permissive boolean parsing: "on", "yes",
// and "true" (case-insensitively) are true, anything else is false.
func convBool(s string) bool {
	switch strings.ToLower(s) {
	case "on", "yes", "true":
		return true
	default:
		return false
	}
}

func argError(action, msg string) error { return &livefs.ArgError{Action: action, Msg: msg} }

// RegisterDefaults builds the registry of every shipped action,
// converting each invocation's positional argument list into the
// action function's typed parameters.
func RegisterDefaults() Registry {
	r := Registry{}

	r["shell"] = func(ctx context.Context, s *livefs.Session, args []string) error {
		command := ""
		if len(args) > 0 {
			command = strings.Join(args, " ")
		}
		return actions.Shell(ctx, s, command)
	}

	r["cp"] = func(ctx context.Context, s *livefs.Session, args []string) error {
		if len(args) != 2 {
			return argError("cp", "expected source and dest arguments")
		}
		return actions.Cp(ctx, s, args[0], args[1])
	}

	r["inject-snap"] = func(ctx context.Context, s *livefs.Session, args []string) error {
		if len(args) < 1 || len(args) > 2 {
			return argError("inject-snap", "expected snap [channel] arguments")
		}
		channel := "stable"
		if len(args) == 2 {
			channel = args[1]
		}
		return actions.InjectSnap(ctx, s, args[0], channel)
	}

	r["add-cmdline-arg"] = func(ctx context.Context, s *livefs.Session, args []string) error {
		if len(args) < 1 || len(args) > 2 {
			return argError("add-cmdline-arg", "expected arg [persist] arguments")
		}
		persist := true
		if len(args) == 2 {
			persist = convBool(args[1])
		}
		return actions.AddCmdlineArg(ctx, s, args[0], persist)
	}

	r["edit-squashfs"] = func(ctx context.Context, s *livefs.Session, args []string) error {
		if len(args) < 1 || len(args) > 2 {
			return argError("edit-squashfs", "expected squash-name [add-sys-mounts] arguments")
		}
		addSysMounts := true
		if len(args) == 2 {
			addSysMounts = convBool(args[1])
		}
		return actions.EditSquashfs(ctx, s, args[0], addSysMounts)
	}

	r["setup-rootfs"] = func(ctx context.Context, s *livefs.Session, args []string) error {
		if len(args) > 1 {
			return argError("setup-rootfs", "expected at most one target argument")
		}
		target := ""
		if len(args) == 1 {
			target = args[0]
		}
		return actions.SetupRootfs(ctx, s, target)
	}

	r["add-autoinstall-cfg"] = func(ctx context.Context, s *livefs.Session, args []string) error {
		if len(args) != 1 {
			return argError("add-autoinstall-cfg", "expected autoinstall-config argument")
		}
		return actions.AddAutoinstallCfg(ctx, s, args[0])
	}

	r["add-debs-to-pool"] = func(ctx context.Context, s *livefs.Session, args []string) error {
		if len(args) < 1 {
			return argError("add-debs-to-pool", "expected at least one deb argument")
		}
		return actions.AddDebsToPool(ctx, s, args)
	}

	r["add-packages-to-pool"] = func(ctx context.Context, s *livefs.Session, args []string) error {
		if len(args) < 1 {
			return argError("add-packages-to-pool", "expected at least one package argument")
		}
		return actions.AddPackagesToPool(ctx, s, args)
	}

	r["replace-kernel"] = func(ctx context.Context, s *livefs.Session, args []string) error {
		if len(args) != 3 {
			return argError("replace-kernel", "expected kernel-src kernel-dest modules-src-dir arguments")
		}
		return actions.ReplaceKernel(ctx, s, args[0], args[1], args[2])
	}

	return r
}
