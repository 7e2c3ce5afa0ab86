package livefs

import (
	"context"
	"fmt"
	"io"
	"os"
)

// Repack runs every pending pre-repack hook, then, if the outer overlay
// carries any changes, materializes a new image at destPath. It returns
// false (with no output produced, not even for in-place destinations)
// when the outer overlay is unchanged.
func (s *Session) Repack(ctx context.Context, destPath string) (bool, error) {
	s.logger.Info("running repack hooks")
	if err := s.runPreRepackHooks(ctx); err != nil {
		return false, err
	}

	unchanged, err := s.Outer.Unchanged()
	if err != nil {
		return false, err
	}
	if unchanged {
		return false, nil
	}

	if destPath == os.DevNull {
		// Actions and hooks already ran against the workspace; the
		// caller only wanted to validate or shell in, not produce an
		// image.
		return true, nil
	}

	inPlace := destPath == s.SourceImage
	actualDest := destPath
	if inPlace {
		// Written alongside source, not under the session's temp root,
		// so the final rename is an atomic same-filesystem rename.
		actualDest = destPath + ".new"
	}

	if s.OuterFstype() == "iso9660" {
		if err := s.repackISO(ctx, actualDest); err != nil {
			return false, err
		}
	} else {
		if err := s.repackRawImage(ctx, actualDest); err != nil {
			return false, err
		}
	}

	if inPlace {
		if err := os.Rename(actualDest, destPath); err != nil {
			return false, fmt.Errorf("rename repacked image into place: %w", err)
		}
	}

	return true, nil
}

// repackISO round-trips the source image's El Torito/hybrid boot
// metadata by asking xorriso to report the mkisofs options that
// reproduce it, then invokes mkisofs mode with those options against
// the mutated outer tree.
func (s *Session) repackISO(ctx context.Context, dest string) error {
	report, err := s.runner.Run(ctx, []string{"xorriso", "-indev", s.SourceImage, "-report_el_torito", "as_mkisofs"}, RunOptions{})
	if err != nil {
		return err
	}

	opts := shlexSplit(report.Stdout)

	outerPath, err := s.P("new", "iso")
	if err != nil {
		return err
	}

	argv := []string{"xorriso", "-as", "mkisofs"}
	argv = append(argv, opts...)
	argv = append(argv, "-o", dest, "-V", "Ubuntu custom", outerPath)

	_, err = s.runner.Run(ctx, argv, RunOptions{})
	return err
}

// repackRawImage copies the source block-device image to dest, loop
// attaches the copy, locates the live partition with the same probe
// OpenImage used, mounts it read-write, and syncs the mutated outer
// tree onto it with rsync's archive-plus-extended-attributes flag set.
func (s *Session) repackRawImage(ctx context.Context, dest string) error {
	if err := copyFileToNew(s.SourceImage, dest); err != nil {
		return err
	}

	loop, err := s.AddLoop(ctx, dest)
	if err != nil {
		return err
	}

	candidates, err := partitionCandidates(loop.DevicePath)
	if err != nil {
		return err
	}

	var winner string
	for _, candidate := range candidates {
		mp, err := s.AddMount(ctx, "", candidate, "repack-probe", "ro")
		if err != nil {
			continue
		}
		_, statErr := os.Stat(mp.Path + "/" + liveMarkerPath)
		found := statErr == nil
		if err := s.Umount(ctx, mp); err != nil {
			return err
		}
		if found {
			winner = candidate
			break
		}
	}
	if winner == "" {
		return NoLiveFilesystem
	}

	destMount, err := s.AddMount(ctx, "", winner, "repack-target", "rw")
	if err != nil {
		return err
	}

	outerPath, err := s.P("new", "iso")
	if err != nil {
		return err
	}

	_, err = s.runner.Run(ctx, []string{"rsync", "-axXvHAS", outerPath + "/", destMount.Path + "/"}, RunOptions{})
	return err
}

func copyFileToNew(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
