// Package actions implements the fixed catalogue of customization
// collaborators shipped alongside the edit-session engine: shell
// commands, file copies, snap injection, boot config rewrites,
// squashfs/rootfs edits, autoinstall seeding, package pool management,
// and kernel replacement. Each action is implemented purely against
// livefs.Session's exported operations, so the engine package never
// imports this one.
package actions

import (
	"context"

	"github.com/canonical/livefs-editor/internal/livefs"
)

// Shell runs command through bash inside the session's workspace root,
// or drops into an interactive shell there when command is empty.
func Shell(ctx context.Context, s *livefs.Session, command string) error {
	argv := []string{"bash"}
	if command != "" {
		argv = append(argv, "-c", command)
	}
	rootPath, err := s.P(".")
	if err != nil {
		return err
	}
	_, err = s.Run(ctx, argv, livefs.RunOptions{Cwd: rootPath})
	return err
}

// Cp copies source into the session workspace at dest.
func Cp(ctx context.Context, s *livefs.Session, source, dest string) error {
	destPath, err := s.P(dest)
	if err != nil {
		return err
	}
	return copyFile(source, destPath)
}

// EditSquashfs opens (or reuses) the named layer's writable overlay,
// optionally binding in kernel-pseudo filesystems for chroot-based
// mutation.
func EditSquashfs(ctx context.Context, s *livefs.Session, squashName string, addSysMounts bool) error {
	_, err := s.EditSquashfs(ctx, squashName, addSysMounts)
	return err
}

// SetupRootfs opens (or reuses) the combined all-layers overlay at the
// given target, defaulting to "rootfs".
func SetupRootfs(ctx context.Context, s *livefs.Session, target string) error {
	if target == "" {
		target = "rootfs"
	}
	_, err := s.SetupRootfs(ctx, target)
	return err
}

// AddCmdlineArg rewrites the boot config kernel-argument lines.
func AddCmdlineArg(ctx context.Context, s *livefs.Session, arg string, persist bool) error {
	return s.AddCmdlineArg(ctx, arg, persist)
}
