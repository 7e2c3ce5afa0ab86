package livefs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	layerfsPathCacheKey = "layerfs-path"
	squashNamesCacheKey = "squash-names"
)

// LayerfsPointer is the boot-time pointer to the topmost squash layer,
// together with where it was found.
type LayerfsPointer struct {
	Value  string
	Source string // "cmdline" or "initrd"
}

// GetLayerfsPath resolves the boot-time layerfs-path pointer, trying
// the kernel command line first and falling back to the initrd's
// default-layer.conf, memoized against repeat calls.
func (s *Session) GetLayerfsPath(ctx context.Context) (*LayerfsPointer, bool, error) {
	if cached, ok := s.Cache[layerfsPathCacheKey]; ok {
		ptr, _ := cached.(*LayerfsPointer)
		return ptr, ptr != nil, nil
	}

	value, found, err := s.GetCmdlineArg(ctx, "layerfs-path")
	if err != nil {
		return nil, false, err
	}
	if found {
		ptr := &LayerfsPointer{Value: value, Source: "cmdline"}
		s.Cache[layerfsPathCacheKey] = ptr
		return ptr, true, nil
	}

	if _, err := s.UnpackInitrd(ctx); err != nil {
		return nil, false, err
	}
	handle := s.Cache[initrdCacheKey].(*initrdHandle)

	confPath := defaultLayerConfPath(handle.OldRoot, handle.MultiSegment)
	data, err := os.ReadFile(confPath)
	if err != nil {
		if os.IsNotExist(err) {
			s.Cache[layerfsPathCacheKey] = (*LayerfsPointer)(nil)
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", confPath, err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		if value, ok := strings.CutPrefix(line, "LAYERFS_PATH="); ok {
			ptr := &LayerfsPointer{Value: strings.TrimSpace(value), Source: "initrd"}
			s.Cache[layerfsPathCacheKey] = ptr
			return ptr, true, nil
		}
	}

	s.Cache[layerfsPathCacheKey] = (*LayerfsPointer)(nil)
	return nil, false, nil
}

// GetSquashNames returns the ordered layer basenames, lowest precedence
// first, memoized so repeated calls return the exact same slice value
// without re-deriving it.
func (s *Session) GetSquashNames(ctx context.Context) ([]string, error) {
	if cached, ok := s.Cache[squashNamesCacheKey]; ok {
		return cached.([]string), nil
	}

	ptr, found, err := s.GetLayerfsPath(ctx)
	if err != nil {
		return nil, err
	}

	var names []string
	if found {
		base := strings.TrimSuffix(ptr.Value, ".squashfs")
		parts := strings.Split(base, ".")
		acc := ""
		for i, p := range parts {
			if i == 0 {
				acc = p
			} else {
				acc = acc + "." + p
			}
			names = append(names, acc)
		}
	} else {
		globDir, err := s.P("old", "iso", "casper")
		if err != nil {
			return nil, err
		}
		matches, err := filepath.Glob(filepath.Join(globDir, "*.squashfs"))
		if err != nil {
			return nil, fmt.Errorf("glob casper squashfs files: %w", err)
		}
		for _, m := range matches {
			names = append(names, strings.TrimSuffix(filepath.Base(m), ".squashfs"))
		}
		sort.Strings(names)
	}

	s.Cache[squashNamesCacheKey] = names
	return names, nil
}

// squashMountCacheKey builds the memoization key for a single squash
// layer's read-only mount.
func squashMountCacheKey(name string) string { return "squash-mount:" + name }

// MountSquash returns a read-only squashfs mount of the named layer at
// old/<name>, mounted at most once.
func (s *Session) MountSquash(ctx context.Context, name string) (*Mountpoint, error) {
	key := squashMountCacheKey(name)
	if cached, ok := s.Cache[key]; ok {
		return cached.(*Mountpoint), nil
	}

	src, err := s.P("old", "iso", "casper", name+".squashfs")
	if err != nil {
		return nil, err
	}

	mp, err := s.AddMount(ctx, "squashfs", src, filepath.Join("old", name), "ro")
	if err != nil {
		return nil, err
	}
	s.Cache[key] = mp
	return mp, nil
}

// editSquashCacheKey builds the memoization key for a single layer's
// writable overlay.
func editSquashCacheKey(name string) string { return "squash-edit:" + name }

// EditSquashfs creates (or returns the cached) writable overlay for the
// named layer at new/<name>, with the layer's read-only squash mount as
// its sole lower. It registers a repack hook that, unless the overlay
// is unchanged, deletes and rewrites the layer's squashfs file in the
// outer tree from the overlay's merged mountpoint. When
// addSysMounts is true the overlay additionally gets kernel-pseudo
// filesystems bound in for the duration of any chroot-based mutation.
func (s *Session) EditSquashfs(ctx context.Context, name string, addSysMounts bool) (*OverlayMount, error) {
	key := editSquashCacheKey(name)
	if cached, ok := s.Cache[key]; ok {
		return cached.(*OverlayMount), nil
	}

	ro, err := s.MountSquash(ctx, name)
	if err != nil {
		return nil, err
	}

	target := filepath.Join("new", name)
	overlay, err := s.AddOverlay(ctx, []Lower{MountLower{Mount: ro}}, target)
	if err != nil {
		return nil, err
	}
	s.Cache[key] = overlay

	// Registered before AddSysMounts below so that, at repack time,
	// hooks run LIFO and the sysmounts teardown hook unwinds the
	// pseudo-filesystems and resolv.conf swap before mksquashfs reads
	// the merged overlay directory.
	s.AddPreRepackHook(func(ctx context.Context) error {
		unchanged, err := overlay.Unchanged()
		if err != nil {
			return err
		}
		if unchanged {
			return nil
		}

		squashPath, err := s.P("new", "iso", "casper", name+".squashfs")
		if err != nil {
			return err
		}
		if err := os.Remove(squashPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove old squashfs %s: %w", squashPath, err)
		}

		overlayPath, err := s.P(target)
		if err != nil {
			return err
		}
		_, err = s.runner.Run(ctx, []string{"mksquashfs", overlayPath, squashPath}, RunOptions{})
		return err
	})

	if addSysMounts {
		targetPath, err := s.P(target)
		if err != nil {
			return nil, err
		}
		if err := s.AddSysMounts(ctx, targetPath); err != nil {
			return nil, err
		}
	}

	return overlay, nil
}
