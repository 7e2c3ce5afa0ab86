// Package livefs implements the edit-session engine: it loop-mounts a
// source Ubuntu live image, stacks its SquashFS layers into a writable
// overlay workspace, lets composable actions mutate that workspace and
// register deferred pre-repack hooks, and on completion repacks only
// the layers that changed into a new bootable image.
package livefs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// Session is the single per-invocation engine instance: it owns the
// temp root, every mount/loop device/hook it creates, and the
// memoization map shared by derivations and action collaborators.
type Session struct {
	SourceImage string
	Debug       bool

	root   string
	runner Runner
	logger *slog.Logger

	// Cache is the memoization map: derivation name -> handle.
	// Exported so action collaborators can cache their own work too.
	Cache map[string]any

	mounts []*Mountpoint
	loops  []*LoopDevice
	hooks  []func(ctx context.Context) error

	// outerFstype and Outer are populated by OpenImage.
	outerFstype string
	Outer       *OverlayMount
}

// Options configures New.
type Options struct {
	// TmpRootParent overrides the parent directory the session root is
	// created under (empty = os.MkdirTemp's default).
	TmpRootParent string
	Debug         bool
	Logger        *slog.Logger
	Runner        Runner            // nil selects the production exec-backed runner
	BinOverrides  map[string]string // argv[0] remapping passed to NewRunner
}

// New creates a fresh session for sourceImage: a private temp root with
// a .tmp scratch subtree, ready for OpenImage. The caller must call
// Teardown, typically via defer, on every exit path.
func New(sourceImage string, opts Options) (*Session, error) {
	root, err := os.MkdirTemp(opts.TmpRootParent, "livefs-edit-")
	if err != nil {
		return nil, fmt.Errorf("create session root: %w", err)
	}
	if err := os.Mkdir(filepath.Join(root, ".tmp"), 0o755); err != nil {
		os.RemoveAll(root)
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		SourceImage: sourceImage,
		Debug:       opts.Debug,
		root:        root,
		logger:      logger,
		Cache:       make(map[string]any),
	}

	if opts.Runner != nil {
		s.runner = opts.Runner
	} else {
		s.runner = NewRunner(logger, opts.Debug, root, opts.BinOverrides)
	}

	return s, nil
}

// P joins the session root with parts, rejecting any absolute component
// as unsafe input and resolving the result with
// filepath-securejoin so a crafted component (e.g. a layerfs-path value
// parsed from boot config) cannot escape the workspace via "..".
func (s *Session) P(parts ...string) (string, error) {
	for _, p := range parts {
		if filepath.IsAbs(p) {
			return "", &WorkspaceError{Msg: fmt.Sprintf("absolute path component not allowed: %q", p)}
		}
	}
	rel := filepath.Join(parts...)
	full, err := securejoin.SecureJoin(s.root, rel)
	if err != nil {
		return "", fmt.Errorf("join session path %q: %w", rel, err)
	}
	return full, nil
}

// Tmpdir creates and returns a fresh scratch directory under the
// session's .tmp subtree.
func (s *Session) Tmpdir() (string, error) {
	dir, err := os.MkdirTemp(filepath.Join(s.root, ".tmp"), "d")
	if err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	if err := os.Chmod(dir, 0o755); err != nil {
		return "", fmt.Errorf("chmod scratch dir: %w", err)
	}
	return dir, nil
}

// Tmpfile returns a candidate scratch file path without creating it.
func (s *Session) Tmpfile() (string, error) {
	dir, err := s.Tmpdir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "f"), nil
}

// Run invokes argv through the session's subprocess runner.
func (s *Session) Run(ctx context.Context, argv []string, opts RunOptions) (RunResult, error) {
	return s.runner.Run(ctx, argv, opts)
}

// RunCapture invokes argv, forcing capture of stdout/stderr as UTF-8
// text.
func (s *Session) RunCapture(ctx context.Context, argv []string) (RunResult, error) {
	return s.runner.Run(ctx, argv, RunOptions{})
}

// GetArch reads the architecture from the outer tree's .disk/info
// marker: the second-to-last whitespace-delimited token.
func (s *Session) GetArch(ctx context.Context) (string, error) {
	p, err := s.P("new", "iso", ".disk", "info")
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return "", fmt.Errorf("read .disk/info: %w", err)
	}
	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return "", &WorkspaceError{Msg: ".disk/info has too few fields to contain an architecture"}
	}
	return fields[len(fields)-2], nil
}

// GetSuite reads the "Suite:" field from old/iso/dists/*/Release.
func (s *Session) GetSuite(ctx context.Context) (string, error) {
	globDir, err := s.P("old", "iso", "dists")
	if err != nil {
		return "", err
	}
	matches, err := filepath.Glob(filepath.Join(globDir, "*", "Release"))
	if err != nil {
		return "", fmt.Errorf("glob dists Release files: %w", err)
	}
	for _, m := range matches {
		data, err := os.ReadFile(m)
		if err != nil {
			continue
		}
		for _, line := range strings.Split(string(data), "\n") {
			if suite, ok := strings.CutPrefix(line, "Suite:"); ok {
				return strings.TrimSpace(suite), nil
			}
		}
	}
	return "", &WorkspaceError{Msg: "no dists/*/Release with a Suite: field found"}
}
