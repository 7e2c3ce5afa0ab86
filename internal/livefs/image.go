package livefs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// marker file identifying a live filesystem partition.
const liveMarkerPath = ".disk/info"

// OpenImage attaches the source image to a loop device, probes its
// partitions for one carrying a live filesystem, records the outer
// filesystem type, and stacks the outer overlay at new/iso.
// It is the engine's entry point; callers invoke it once per session
// before running any actions.
func (s *Session) OpenImage(ctx context.Context) error {
	loop, err := s.AddLoop(ctx, s.SourceImage)
	if err != nil {
		return err
	}

	candidates, err := partitionCandidates(loop.DevicePath)
	if err != nil {
		return err
	}

	var winner string
	var fstype string
	for _, candidate := range candidates {
		probePath, err := s.P("old", ".probe")
		if err != nil {
			return err
		}
		_ = os.RemoveAll(probePath)

		mp, err := s.AddMount(ctx, "", candidate, "old/.probe", "ro")
		if err != nil {
			// Not every block-device node under the loop is a
			// mountable filesystem (e.g. extended-partition table
			// entries); skip ones mount(8) rejects outright.
			continue
		}

		markerPath := filepath.Join(mp.Path, liveMarkerPath)
		_, statErr := os.Stat(markerPath)
		found := statErr == nil

		if found {
			result, ferr := s.runner.Run(ctx, []string{"findmnt", "-no", "fstype", mp.Path}, RunOptions{})
			if ferr != nil {
				_ = s.Umount(ctx, mp)
				return ferr
			}
			fstype = strings.TrimSpace(result.Stdout)
			winner = candidate
		}

		if err := s.Umount(ctx, mp); err != nil {
			return err
		}
		if found {
			break
		}
	}

	if winner == "" {
		return NoLiveFilesystem
	}

	oldIso, err := s.AddMount(ctx, "", winner, "old/iso", "ro")
	if err != nil {
		return err
	}

	outer, err := s.AddOverlay(ctx, []Lower{PathLower(oldIso.Path)}, "new/iso")
	if err != nil {
		return err
	}

	s.outerFstype = fstype
	s.Outer = outer
	return nil
}

// OuterFstype returns the detected filesystem type of the live
// partition (e.g. "iso9660"), populated by OpenImage.
func (s *Session) OuterFstype() string { return s.outerFstype }

// partitionCandidates lists the partition-like device nodes under a
// loop device, falling back to the loop device itself when losetup's
// partition scan produced none (a live filesystem occupying the whole
// image with no partition table, which is common for simple ISOs).
func partitionCandidates(devicePath string) ([]string, error) {
	matches, err := filepath.Glob(devicePath + "p*")
	if err != nil {
		return nil, fmt.Errorf("glob partitions of %s: %w", devicePath, err)
	}
	if len(matches) == 0 {
		return []string{devicePath}, nil
	}
	return matches, nil
}
