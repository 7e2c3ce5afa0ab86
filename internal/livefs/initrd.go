package livefs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/pgzip"
	"github.com/u-root/u-root/pkg/cpio"
)

const initrdCacheKey = "initrd"

// initrdHandle bundles the unpacked initrd's overlay with the layout
// detail UnpackInitrd discovers once: whether expansion
// produced a multi-segment tree (an "early" microcode segment plus a
// "main" segment) or a single flat tree.
type initrdHandle struct {
	Overlay      *OverlayMount
	MultiSegment bool
	OldRoot      string // old/initrd, the overlay's read-only lower
}

// initrdPath returns the architecture-appropriate initrd location
// inside the outer tree.
func initrdPath(arch string) string {
	if arch == "s390x" {
		return "boot/initrd.ubuntu"
	}
	return "casper/initrd"
}

// UnpackInitrd expands the source image's initrd into a writable
// overlay workspace at new/initrd, memoized so repeated calls return
// the same handle without re-running unmkinitramfs.
func (s *Session) UnpackInitrd(ctx context.Context) (*OverlayMount, error) {
	if cached, ok := s.Cache[initrdCacheKey]; ok {
		return cached.(*initrdHandle).Overlay, nil
	}

	arch, err := s.GetArch(ctx)
	if err != nil {
		return nil, err
	}

	srcPath, err := s.P("new", "iso", initrdPath(arch))
	if err != nil {
		return nil, err
	}

	oldRoot, err := s.P("old", "initrd")
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(oldRoot, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", oldRoot, err)
	}

	if _, err := s.runner.Run(ctx, []string{"unmkinitramfs", srcPath, oldRoot}, RunOptions{}); err != nil {
		return nil, err
	}

	multiSegment := false
	if fi, err := os.Stat(filepath.Join(oldRoot, "early")); err == nil && fi.IsDir() {
		multiSegment = true
	}

	overlay, err := s.AddOverlay(ctx, []Lower{PathLower(oldRoot)}, "new/initrd")
	if err != nil {
		return nil, err
	}

	handle := &initrdHandle{Overlay: overlay, MultiSegment: multiSegment, OldRoot: oldRoot}
	s.Cache[initrdCacheKey] = handle

	s.AddPreRepackHook(func(ctx context.Context) error {
		unchanged, err := overlay.Unchanged()
		if err != nil {
			return err
		}
		if unchanged {
			return nil
		}
		return s.repackInitrd(ctx, handle, arch)
	})

	return overlay, nil
}

// defaultLayerConfPath returns the path to conf/conf.d/default-layer.conf
// relative to the initrd's unpacked root, accounting for the multi-segment
// "main/" prefix.
func defaultLayerConfPath(oldRoot string, multiSegment bool) string {
	if multiSegment {
		return filepath.Join(oldRoot, "main", "conf", "conf.d", "default-layer.conf")
	}
	return filepath.Join(oldRoot, "conf", "conf.d", "default-layer.conf")
}

// segmentDirs returns the top-level segments to pack, in sorted order,
// for a multi-segment initrd ("early" before "main" lexicographically),
// or a single empty-name segment denoting the whole tree otherwise.
func segmentDirs(oldRoot string, multiSegment bool) ([]string, error) {
	if !multiSegment {
		return []string{""}, nil
	}
	entries, err := os.ReadDir(oldRoot)
	if err != nil {
		return nil, fmt.Errorf("read initrd root %s: %w", oldRoot, err)
	}
	var segments []string
	for _, e := range entries {
		if e.IsDir() {
			segments = append(segments, e.Name())
		}
	}
	sort.Strings(segments)
	return segments, nil
}

// repackInitrd rebuilds the initrd cpio archive one segment at a time
// from the overlay's merged view (not the read-only lower), so that any
// mutation written through the overlay mountpoint, including the
// layerfs-path repoint, is captured: files within each segment are
// walked in LC_ALL=C sort order and packed as a newc-format cpio stream
// with uid/gid forced to 0:0; only the "main" segment (or the single
// tree, when not multi-segment) is gzip-compressed, matching how
// live-boot's early microcode loader expects raw, uncompressed early
// segments.
func (s *Session) repackInitrd(ctx context.Context, handle *initrdHandle, arch string) error {
	mergedRoot := handle.Overlay.Path

	segments, err := segmentDirs(mergedRoot, handle.MultiSegment)
	if err != nil {
		return err
	}

	destPath, err := s.P("new", "iso", initrdPath(arch))
	if err != nil {
		return err
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", destPath, err)
	}
	defer out.Close()

	for _, segment := range segments {
		segRoot := mergedRoot
		if segment != "" {
			segRoot = filepath.Join(mergedRoot, segment)
		}

		var buf bytes.Buffer
		if err := packCpioSegment(segRoot, &buf); err != nil {
			return fmt.Errorf("pack initrd segment %q: %w", segment, err)
		}

		gzipThis := segment == "main" || (segment == "" && !handle.MultiSegment)
		if gzipThis {
			gw := pgzip.NewWriter(out)
			if _, err := gw.Write(buf.Bytes()); err != nil {
				return err
			}
			if err := gw.Close(); err != nil {
				return err
			}
		} else {
			if _, err := out.Write(buf.Bytes()); err != nil {
				return err
			}
		}
	}

	return out.Close()
}

// packCpioSegment walks root in sorted (LC_ALL=C) order and writes a
// newc-format cpio archive of its contents to w, with ownership forced
// to 0:0 the way `cpio -R 0:0` does.
func packCpioSegment(root string, w io.Writer) error {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return err
	}
	sort.Strings(paths)

	rw := cpio.Newc.Writer(w)
	recorder := cpio.NewRecorder()

	for _, path := range paths {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			continue
		}

		rec, err := recorder.GetRecord(path)
		if err != nil {
			return fmt.Errorf("stat cpio record %s: %w", path, err)
		}
		rec.Name = rel
		rec.UID, rec.GID = 0, 0
		if err := rw.WriteRecord(rec); err != nil {
			return fmt.Errorf("write cpio record %s: %w", rel, err)
		}
	}
	return cpio.WriteTrailer(rw)
}
