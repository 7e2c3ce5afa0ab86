package actions

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/canonical/livefs-editor/internal/livefs"
)

type snapMeta struct {
	Name        string `yaml:"name"`
	Confinement string `yaml:"confinement"`
}

type seedSnap struct {
	Name       string `yaml:"name"`
	File       string `yaml:"file"`
	Channel    string `yaml:"channel,omitempty"`
	Classic    bool   `yaml:"classic,omitempty"`
	Unasserted bool   `yaml:"unasserted,omitempty"`
}

type seedYAML struct {
	Snaps []seedSnap `yaml:"snaps"`
}

const preseedDoneCacheKey = "preseed-done"

// InjectSnap mounts snap's squashfs to read its name out of
// meta/snap.yaml, removes any existing seed entry (and its staged
// .snap/.assert files) for a snap of the same name, appends a fresh
// entry pointing at a copy of snap staged into the rootfs seed (marked
// unasserted when snap has no sibling .assert file), and re-preseeds
// the rootfs so the newly seeded snap(s) are actually unpacked into
// the image rather than merely referenced from seed.yaml.
func InjectSnap(ctx context.Context, s *livefs.Session, snap, channel string) error {
	if _, err := s.SetupRootfs(ctx, "rootfs"); err != nil {
		return err
	}
	rootfsPath, err := s.P("rootfs")
	if err != nil {
		return err
	}

	snapMountRel, err := s.Tmpdir()
	if err != nil {
		return err
	}
	if _, err := s.AddMount(ctx, "squashfs", snap, snapMountRel, "ro"); err != nil {
		return err
	}

	seedDir := filepath.Join(rootfsPath, "var", "lib", "snapd", "seed")
	if err := injectSnapIntoSeed(snap, channel, snapMountRel, seedDir); err != nil {
		return err
	}

	return preseedRootfs(ctx, s, rootfsPath)
}

// preseedRootfs resets and re-runs snapd's preseeding over rootfsPath,
// memoized via the preseed-done cache key so that multiple inject-snap
// invocations in the same session only pay for one preseed pass.
func preseedRootfs(ctx context.Context, s *livefs.Session, rootfsPath string) error {
	if done, _ := s.Cache[preseedDoneCacheKey].(bool); done {
		return nil
	}

	if _, err := s.Run(ctx, []string{"/usr/lib/snapd/snap-preseed", "--reset", rootfsPath}, livefs.RunOptions{}); err != nil {
		return fmt.Errorf("reset snap preseed: %w", err)
	}
	if _, err := s.Run(ctx, []string{"/usr/lib/snapd/snap-preseed", rootfsPath}, livefs.RunOptions{}); err != nil {
		return fmt.Errorf("snap preseed: %w", err)
	}

	s.Cache[preseedDoneCacheKey] = true
	return nil
}

// injectSnapIntoSeed is InjectSnap's logic once the snap's squashfs is
// already mounted at snapMountPath: it never touches a Session, so
// tests exercise it against a plain fixture directory.
func injectSnapIntoSeed(snap, channel, snapMountPath, seedDir string) error {
	metaData, err := os.ReadFile(filepath.Join(snapMountPath, "meta", "snap.yaml"))
	if err != nil {
		return fmt.Errorf("read snap.yaml: %w", err)
	}
	var meta snapMeta
	if err := yaml.Unmarshal(metaData, &meta); err != nil {
		return fmt.Errorf("parse snap.yaml: %w", err)
	}

	seedPath := filepath.Join(seedDir, "seed.yaml")

	seedData, err := os.ReadFile(seedPath)
	if err != nil {
		return fmt.Errorf("read seed.yaml: %w", err)
	}
	var seed seedYAML
	if err := yaml.Unmarshal(seedData, &seed); err != nil {
		return fmt.Errorf("parse seed.yaml: %w", err)
	}

	var kept []seedSnap
	for _, old := range seed.Snaps {
		if old.Name != meta.Name {
			kept = append(kept, old)
			continue
		}
		base := strings.TrimSuffix(old.File, filepath.Ext(old.File))
		for _, p := range []string{
			filepath.Join(seedDir, "snaps", base+".snap"),
			filepath.Join(seedDir, "assertions", base+".assert"),
		} {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove stale seed file %s: %w", p, err)
			}
		}
	}

	snapFile := meta.Name + "_injected"
	newEntry := seedSnap{Name: meta.Name, File: snapFile + ".snap", Channel: channel}
	if meta.Confinement == "classic" {
		newEntry.Classic = true
	}

	if err := copyFile(snap, filepath.Join(seedDir, "snaps", snapFile+".snap")); err != nil {
		return fmt.Errorf("stage snap file: %w", err)
	}

	assertSrc := strings.TrimSuffix(snap, filepath.Ext(snap)) + ".assert"
	if _, err := os.Stat(assertSrc); err == nil {
		if err := copyFile(assertSrc, filepath.Join(seedDir, "assertions", snapFile+".assert")); err != nil {
			return fmt.Errorf("stage snap assertion: %w", err)
		}
	} else {
		newEntry.Unasserted = true
	}

	kept = append(kept, newEntry)

	out, err := yaml.Marshal(seedYAML{Snaps: kept})
	if err != nil {
		return fmt.Errorf("marshal seed.yaml: %w", err)
	}
	if err := os.WriteFile(seedPath, out, 0o644); err != nil {
		return fmt.Errorf("write seed.yaml: %w", err)
	}

	return nil
}
