package actions

import (
	"context"
	"os"
	"path/filepath"

	"github.com/canonical/livefs-editor/internal/livefs"
)

// ReplaceKernel locates the layer whose filesystem carries
// /usr/lib/modules, opens it for editing, and replaces the kernel
// image at kernelDest and the modules tree at modulesDest with
// kernelSrc and modulesSrcDir.
func ReplaceKernel(ctx context.Context, s *livefs.Session, kernelSrc, kernelDest, modulesSrcDir string) error {
	names, err := s.GetSquashNames(ctx)
	if err != nil {
		return err
	}

	var target string
	for _, name := range names {
		mp, err := s.MountSquash(ctx, name)
		if err != nil {
			return err
		}
		if fi, statErr := os.Stat(filepath.Join(mp.Path, "usr", "lib", "modules")); statErr == nil && fi.IsDir() {
			target = name
			break
		}
	}
	if target == "" {
		return &livefs.LayerResolutionError{Msg: "no layer carries /usr/lib/modules"}
	}

	overlay, err := s.EditSquashfs(ctx, target, false)
	if err != nil {
		return err
	}

	destKernelPath := filepath.Join(overlay.Path, kernelDest)
	if err := copyFile(kernelSrc, destKernelPath); err != nil {
		return err
	}

	modulesDest := filepath.Join(overlay.Path, "usr", "lib", "modules")
	if err := os.RemoveAll(modulesDest); err != nil && !os.IsNotExist(err) {
		return err
	}
	return copyTree(modulesSrcDir, modulesDest)
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		return copyFile(path, target)
	})
}
