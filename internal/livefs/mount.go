package livefs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Mountpoint is a handle to an active kernel mount.
type Mountpoint struct {
	Kind    string
	Source  string
	Path    string
	Options string
}

// OverlayMount is a handle to an active overlayfs mount, additionally
// tracking the lower chain, upper and work directories needed to
// resolve it as a Lower within another overlay.
type OverlayMount struct {
	Mountpoint
	Lowers   []Lower
	UpperDir string
	WorkDir  string
}

// Lower is the "polymorphic lowers" tagged sum: a path string, a plain
// Mountpoint, a nested OverlayMount, or a nested list of any of those.
// Its only method is unexported so the sum stays closed.
type Lower interface {
	resolve() ([]string, error)
}

// PathLower is a bare filesystem path used as a lower.
type PathLower string

func (p PathLower) resolve() ([]string, error) { return []string{string(p)}, nil }

// MountLower is a plain Mountpoint used as a lower.
type MountLower struct{ Mount *Mountpoint }

func (m MountLower) resolve() ([]string, error) { return []string{m.Mount.Path}, nil }

// OverlayLower is a nested OverlayMount used as a lower; it flattens to
// its own lower chain followed by its upper directory.
type OverlayLower struct{ Overlay *OverlayMount }

func (o OverlayLower) resolve() ([]string, error) {
	flat, err := resolveLowers(o.Overlay.Lowers)
	if err != nil {
		return nil, err
	}
	return append(flat, o.Overlay.UpperDir), nil
}

// ListLower is a nested ordered list of lowers, flattened in place.
type ListLower []Lower

func (l ListLower) resolve() ([]string, error) { return resolveLowers(l) }

// resolveLowers flattens an ordered list of Lower values into an ordered
// list of filesystem paths, preserving input order (lowest precedence
// first, matching LayerSet's "highest-precedence last" convention).
func resolveLowers(lowers []Lower) ([]string, error) {
	var out []string
	for _, l := range lowers {
		paths, err := l.resolve()
		if err != nil {
			return nil, err
		}
		out = append(out, paths...)
	}
	return out, nil
}

// lowerdirString builds the kernel-facing colon-joined lowerdir=
// option value: the flattened path list reversed so the first (highest
// precedence) entry comes first, as overlayfs requires.
func lowerdirString(lowers []Lower) (string, error) {
	flat, err := resolveLowers(lowers)
	if err != nil {
		return "", err
	}
	reversed := make([]string, len(flat))
	for i, p := range flat {
		reversed[len(flat)-1-i] = p
	}
	return strings.Join(reversed, ":"), nil
}

// AddMount creates mountpoint (if it doesn't already exist) and mounts
// src there with the given type and options. Passing an
// empty typ selects mount(8)'s autodetection, used by the image opener.
// mountpoint is normally relative to the session root, but
// an already-absolute path is accepted as-is when it falls within the
// session root, which lets callers mount onto a path handed back by
// Tmpdir without re-deriving it relative to root.
func (s *Session) AddMount(ctx context.Context, typ, src, mountpoint, options string) (*Mountpoint, error) {
	var full string
	if filepath.IsAbs(mountpoint) {
		if !strings.HasPrefix(mountpoint, s.root+string(filepath.Separator)) && mountpoint != s.root {
			return nil, &WorkspaceError{Msg: fmt.Sprintf("mountpoint %q escapes session root", mountpoint)}
		}
		full = mountpoint
	} else {
		p, err := s.P(mountpoint)
		if err != nil {
			return nil, err
		}
		full = p
	}
	if err := os.MkdirAll(full, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", full, err)
	}

	argv := []string{"mount"}
	if typ != "" {
		argv = append(argv, "-t", typ)
	}
	argv = append(argv, src)
	if options != "" {
		argv = append(argv, "-o", options)
	}
	argv = append(argv, full)

	if _, err := s.runner.Run(ctx, argv, RunOptions{}); err != nil {
		return nil, err
	}

	mp := &Mountpoint{Kind: typ, Source: src, Path: full, Options: options}
	s.registerMount(mp)
	return mp, nil
}

// AddOverlay allocates upper and work directories, mounts an overlayfs
// stacking lowers at mountpoint, and returns the resulting handle.
func (s *Session) AddOverlay(ctx context.Context, lowers []Lower, mountpoint string) (*OverlayMount, error) {
	upper, err := s.Tmpdir()
	if err != nil {
		return nil, err
	}
	work, err := s.Tmpdir()
	if err != nil {
		return nil, err
	}

	lowerdir, err := lowerdirString(lowers)
	if err != nil {
		return nil, err
	}
	options := fmt.Sprintf("lowerdir=%s,upperdir=%s,workdir=%s", lowerdir, upper, work)

	mp, err := s.AddMount(ctx, "overlay", "overlay", mountpoint, options)
	if err != nil {
		return nil, err
	}

	ov := &OverlayMount{
		Mountpoint: *mp,
		Lowers:     lowers,
		UpperDir:   upper,
		WorkDir:    work,
	}
	// the registry holds the embedded Mountpoint by pointer already
	// (registerMount recorded mp); replace it with the OverlayMount's
	// own copy so teardown and Unchanged see the same struct.
	s.swapRegisteredMount(mp, &ov.Mountpoint)
	return ov, nil
}

// Unchanged reports whether no file, directory, or whiteout has been
// created through the overlay's upper directory. It is a constant-time proxy: an empty upperdir listing.
func (o *OverlayMount) Unchanged() (bool, error) {
	entries, err := os.ReadDir(o.UpperDir)
	if err != nil {
		return false, fmt.Errorf("read upperdir %s: %w", o.UpperDir, err)
	}
	return len(entries) == 0, nil
}

// Umount immediately unmounts mp and removes it from the registry
//; used by the image probe to discard trial mounts.
func (s *Session) Umount(ctx context.Context, mp *Mountpoint) error {
	if _, err := s.runner.Run(ctx, []string{"umount", mp.Path}, RunOptions{}); err != nil {
		return err
	}
	s.deregisterMount(mp)
	return nil
}
