// Command livefs-editor customizes a bootable Ubuntu live filesystem
// image: editor <source> <dest> [--action arg...]...
//
// dest may equal source (rewritten atomically in place, only if the
// edit produced changes) or /dev/null (run every action, discard any
// repacked output).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/canonical/livefs-editor/internal/clidispatch"
	"github.com/canonical/livefs-editor/internal/config"
	"github.com/canonical/livefs-editor/internal/livefs"
	"github.com/canonical/livefs-editor/internal/livefslog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "livefs-editor:", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: %s <source> <dest> [--action arg...]...", os.Args[0])
	}
	source := os.Args[1]
	dest := os.Args[2]
	rest := os.Args[3:]

	cfg := config.Load()
	logger := livefslog.New(livefslog.Config{Level: cfg.LogLevel})

	registry := clidispatch.RegisterDefaults()
	calls, err := clidispatch.Parse(registry, rest)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := livefs.New(source, livefs.Options{
		Debug:         cfg.Debug,
		Logger:        logger,
		TmpRootParent: cfg.TmpRoot,
		BinOverrides: map[string]string{
			"mksquashfs":     cfg.MksquashfsBin,
			"unmkinitramfs":  cfg.UnmkinitramfsBin,
			"xorriso":        cfg.XorrisoBin,
			"rsync":          cfg.RsyncBin,
			"losetup":        cfg.LosetupBin,
			"mount":          cfg.MountBin,
			"umount":         cfg.UmountBin,
			"findmnt":        cfg.FindmntBin,
			"udevadm":        cfg.UdevadmBin,
			"apt-ftparchive": cfg.AptFtparchiveBin,
			"gpg":            cfg.GpgBin,
		},
	})
	if err != nil {
		return err
	}
	defer func() {
		if tdErr := s.Teardown(ctx); tdErr != nil {
			logger.Error("teardown failed", "error", tdErr)
		}
	}()

	if err := s.OpenImage(ctx); err != nil {
		return err
	}

	if err := clidispatch.Dispatch(ctx, registry, s, calls); err != nil {
		return err
	}

	wrote, err := s.Repack(ctx, dest)
	if err != nil {
		return err
	}
	if !wrote {
		logger.Info("no changes made, no image produced")
	}
	return nil
}
