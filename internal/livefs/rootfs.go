package livefs

import (
	"context"
	"fmt"
	"os"
	"strings"
)

const rootfsCacheKey = "rootfs"

// newTopSquashName derives the basename setup_rootfs gives the new top
// layer it materializes: if a layerfs-path is configured it appends
// ".custom" to the current highest-precedence basename; otherwise,
// with no layered boot in play, it bumps the first byte of the
// highest-precedence (last) basename by one so the new file doesn't collide with the original
// (e.g. "filesystem" -> "gilesystem").
func newTopSquashName(names []string, ptr *LayerfsPointer) string {
	top := names[len(names)-1]
	if ptr != nil {
		return top + ".custom"
	}
	b := []byte(top)
	b[0] = b[0] + 1
	return string(b)
}

// SetupRootfs stacks every known layer into a single overlay at
// <root>/target (default "rootfs"), binds in kernel-pseudo filesystems
// for in-place mutation, and registers a repack hook that, unless the
// overlay is unchanged, packs the overlay's upper directory into a new
// top squash file and repoints the boot-time layer pointer at it.
func (s *Session) SetupRootfs(ctx context.Context, target string) (*OverlayMount, error) {
	if target == "" {
		target = "rootfs"
	}
	key := rootfsCacheKey + ":" + target
	if cached, ok := s.Cache[key]; ok {
		return cached.(*OverlayMount), nil
	}

	names, err := s.GetSquashNames(ctx)
	if err != nil {
		return nil, err
	}

	var lowers []Lower
	for _, name := range names {
		mp, err := s.MountSquash(ctx, name)
		if err != nil {
			return nil, err
		}
		lowers = append(lowers, MountLower{Mount: mp})
	}

	overlay, err := s.AddOverlay(ctx, lowers, target)
	if err != nil {
		return nil, err
	}
	s.Cache[key] = overlay

	ptr, _, err := s.GetLayerfsPath(ctx)
	if err != nil {
		return nil, err
	}
	newName := newTopSquashName(names, ptr)

	// Registered before AddSysMounts below so that, at repack time,
	// hooks run LIFO and the sysmounts teardown hook unwinds the
	// pseudo-filesystems and resolv.conf swap before mksquashfs reads
	// the overlay's upper directory.
	s.AddPreRepackHook(func(ctx context.Context) error {
		unchanged, err := overlay.Unchanged()
		if err != nil {
			return err
		}
		if unchanged {
			return nil
		}

		squashPath, err := s.P("new", "iso", "casper", newName+".squashfs")
		if err != nil {
			return err
		}
		if _, err := s.runner.Run(ctx, []string{"mksquashfs", overlay.UpperDir, squashPath}, RunOptions{}); err != nil {
			return err
		}

		if ptr == nil {
			return nil
		}

		newPointer := newName + ".squashfs"
		switch ptr.Source {
		case "cmdline":
			return s.repointCmdlineLayerfsPath(ctx, newPointer)
		case "initrd":
			return s.repointInitrdLayerfsPath(newPointer)
		default:
			return fmt.Errorf("unrecognized layerfs-path source %q", ptr.Source)
		}
	})

	targetPath, err := s.P(target)
	if err != nil {
		return nil, err
	}
	if err := s.AddSysMounts(ctx, targetPath); err != nil {
		return nil, err
	}

	return overlay, nil
}

// repointCmdlineLayerfsPath rewrites every boot-config line's
// layerfs-path= token to newPointer.
func (s *Session) repointCmdlineLayerfsPath(ctx context.Context, newPointer string) error {
	files, err := s.existingCmdlineFiles()
	if err != nil {
		return err
	}
	for _, f := range files {
		changed := false
		for i, line := range f.lines {
			if !strings.Contains(line, "---") {
				continue
			}
			if _, ok := lookupCmdlineToken(line, "layerfs-path"); !ok {
				continue
			}
			tokens := shlexSplit(line)
			for j, tok := range tokens {
				if strings.HasPrefix(tok, "layerfs-path=") {
					tokens[j] = "layerfs-path=" + newPointer
				}
			}
			f.lines[i] = strings.Join(tokens, " ")
			changed = true
		}
		if !changed {
			continue
		}
		if err := os.WriteFile(f.path, []byte(strings.Join(f.lines, "\n")), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// repointInitrdLayerfsPath rewrites the LAYERFS_PATH= line of the
// initrd's default-layer.conf to newPointer, writing through the
// initrd overlay's merged mountpoint (not its read-only lower) so the
// change copies up into the overlay's upper directory and the initrd
// repack hook's Unchanged() check picks it up.
func (s *Session) repointInitrdLayerfsPath(newPointer string) error {
	handle, ok := s.Cache[initrdCacheKey].(*initrdHandle)
	if !ok {
		return &WorkspaceError{Msg: "initrd not unpacked; cannot repoint layerfs-path"}
	}

	confPath := defaultLayerConfPath(handle.Overlay.Path, handle.MultiSegment)
	data, err := os.ReadFile(confPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", confPath, err)
	}

	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, "LAYERFS_PATH=") {
			lines[i] = "LAYERFS_PATH=" + newPointer
		}
	}

	return os.WriteFile(confPath, []byte(strings.Join(lines, "\n")), 0o644)
}
