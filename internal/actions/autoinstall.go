package actions

import (
	"context"
	"path/filepath"

	"github.com/canonical/livefs-editor/internal/livefs"
)

// AddAutoinstallCfg copies autoinstallConfig into the combined rootfs
// overlay as autoinstall.yaml and arranges for the live session to
// pick it up by adding a non-persistent "autoinstall" kernel argument
// (so the installed system's own boot entries are untouched).
func AddAutoinstallCfg(ctx context.Context, s *livefs.Session, autoinstallConfig string) error {
	if _, err := s.SetupRootfs(ctx, "rootfs"); err != nil {
		return err
	}
	rootfsPath, err := s.P("rootfs")
	if err != nil {
		return err
	}
	if err := copyFile(autoinstallConfig, filepath.Join(rootfsPath, "autoinstall.yaml")); err != nil {
		return err
	}
	return s.AddCmdlineArg(ctx, "autoinstall", false)
}
