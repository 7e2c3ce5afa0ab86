package actions

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/pgzip"

	"github.com/canonical/livefs-editor/internal/livefs"
)

// deb822Stanza is a minimal ordered RFC822-style stanza: the format
// APT's Release files use. Field order is preserved across a
// read-modify-write round trip, which apt-ftparchive itself does not
// guarantee when asked to regenerate a Release file from scratch.
type deb822Stanza struct {
	keys   []string
	values map[string]string
}

func parseDeb822(data []byte) *deb822Stanza {
	s := &deb822Stanza{values: make(map[string]string)}
	var lastKey string
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		if (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) && lastKey != "" {
			s.values[lastKey] += "\n" + line
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		s.keys = append(s.keys, key)
		s.values[key] = strings.TrimSpace(value)
		lastKey = key
	}
	return s
}

func (s *deb822Stanza) set(key, value string) {
	if _, ok := s.values[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.values[key] = value
}

func (s *deb822Stanza) bytes() []byte {
	var b strings.Builder
	for _, k := range s.keys {
		fmt.Fprintf(&b, "%s: %s\n", k, s.values[k])
	}
	return []byte(b.String())
}

// AddDebsToPool copies debs into the dists pool, regenerates
// Packages.gz via apt-ftparchive, and re-stamps the stable suite's
// Release file while preserving any header field apt-ftparchive's own
// release generation doesn't reproduce. The stale Release.gpg is
// removed; no new signature is produced.
func AddDebsToPool(ctx context.Context, s *livefs.Session, debs []string) error {
	isoPath, err := s.P("new", "iso")
	if err != nil {
		return err
	}
	poolPath := filepath.Join(isoPath, "pool", "main")

	for _, deb := range debs {
		if err := copyFile(deb, filepath.Join(poolPath, filepath.Base(deb))); err != nil {
			return fmt.Errorf("copy %s into pool: %w", deb, err)
		}
	}

	arch, err := s.GetArch(ctx)
	if err != nil {
		return err
	}

	packagesResult, err := s.Run(ctx, []string{"apt-ftparchive", "--md5=off", "--sha1=off", "packages", "pool/main"}, livefs.RunOptions{Cwd: isoPath})
	if err != nil {
		return err
	}

	packagesGzPath := filepath.Join(isoPath, "dists", "stable", "main", fmt.Sprintf("binary-%s", arch), "Packages.gz")
	if err := writeGzip(packagesGzPath, []byte(packagesResult.Stdout)); err != nil {
		return err
	}

	releasePath := filepath.Join(isoPath, "dists", "stable", "Release")
	oldData, err := os.ReadFile(releasePath)
	if err != nil {
		return fmt.Errorf("read Release: %w", err)
	}
	old := parseDeb822(oldData)

	for _, p := range []string{releasePath, releasePath + ".gpg"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove stale %s: %w", p, err)
		}
	}

	releaseResult, err := s.Run(ctx, []string{"apt-ftparchive", "--md5=off", "--sha1=off", "--sha512=off", "release", "dists/stable"}, livefs.RunOptions{Cwd: isoPath})
	if err != nil {
		return err
	}
	fresh := parseDeb822([]byte(releaseResult.Stdout))

	for _, k := range old.keys {
		if v, ok := fresh.values[k]; ok {
			old.set(k, v)
		}
	}

	return os.WriteFile(releasePath, old.bytes(), 0o644)
}

// AddPackagesToPool installs packages into a temporary overlay of the
// base filesystem layer via chroot-apt, then stages whatever .deb
// files that pulled in (that aren't already present in the pool) with
// AddDebsToPool.
func AddPackagesToPool(ctx context.Context, s *livefs.Session, packages []string) error {
	base, err := s.MountSquash(ctx, "filesystem")
	if err != nil {
		return err
	}
	overlayPath, err := s.Tmpdir()
	if err != nil {
		return err
	}
	if _, err := s.AddOverlay(ctx, []livefs.Lower{livefs.MountLower{Mount: base}}, overlayPath); err != nil {
		return err
	}
	if err := s.AddSysMounts(ctx, overlayPath); err != nil {
		return err
	}

	if _, err := s.Run(ctx, []string{"chroot", overlayPath, "apt", "update"}, livefs.RunOptions{}); err != nil {
		return err
	}

	installArgv := append([]string{"chroot", overlayPath, "apt-get", "install", "--download-only", "-y"}, packages...)
	if _, err := s.Run(ctx, installArgv, livefs.RunOptions{}); err != nil {
		return err
	}

	existing := make(map[string]bool)
	isoPath, err := s.P("new", "iso", "pool")
	if err != nil {
		return err
	}
	entries, err := listDebsUnder(isoPath)
	if err != nil {
		return err
	}
	for _, name := range entries {
		existing[name] = true
	}

	cacheDir := filepath.Join(overlayPath, "var", "cache", "apt", "archives")
	fetched, err := listDebsUnder(cacheDir)
	if err != nil {
		return err
	}

	var toStage []string
	for _, name := range fetched {
		if existing[name] {
			continue
		}
		toStage = append(toStage, filepath.Join(cacheDir, name))
	}

	return AddDebsToPool(ctx, s, toStage)
}

func listDebsUnder(root string) ([]string, error) {
	var names []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() && strings.HasSuffix(info.Name(), ".deb") {
			names = append(names, info.Name())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

func writeGzip(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	gw := pgzip.NewWriter(f)
	if _, err := gw.Write(data); err != nil {
		return err
	}
	if err := gw.Close(); err != nil {
		return err
	}
	return f.Close()
}
