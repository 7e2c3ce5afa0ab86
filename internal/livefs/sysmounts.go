package livefs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// findmntNode mirrors the subset of `findmnt --json` output this engine
// needs: a mount's target, fstype, and mount options, recursively
// nested under its submounts.
type findmntNode struct {
	Target   string        `json:"target"`
	Fstype   string        `json:"fstype"`
	Options  string        `json:"options"`
	Children []findmntNode `json:"children,omitempty"`
}

type findmntOutput struct {
	Filesystems []findmntNode `json:"filesystems"`
}

// flattenSubmounts walks the findmnt submount tree and returns every
// node, the given top-level nodes included, in document order.
func flattenSubmounts(nodes []findmntNode) []findmntNode {
	var out []findmntNode
	for _, n := range nodes {
		out = append(out, n)
		out = append(out, flattenSubmounts(n.Children)...)
	}
	return out
}

// AddSysMounts binds the kernel-pseudo filesystems an action intends
// to chroot into beneath mountpoint: devtmpfs, devpts, proc, and every
// live submount of /sys at its corresponding relative path with the
// same mount options. It also swaps in the host's resolv.conf for DNS
// resolution inside the chroot, and registers a pre-repack hook that
// reverses all of this so none of it leaks into the repacked layer.
func (s *Session) AddSysMounts(ctx context.Context, mountpoint string) error {
	var mounted []*Mountpoint

	for _, m := range []struct{ typ, rel string }{
		{"devtmpfs", "dev"},
		{"devpts", "dev/pts"},
		{"proc", "proc"},
		{"sysfs", "sys"},
	} {
		mp, err := s.AddMount(ctx, m.typ, m.typ, filepath.Join(mountpoint, m.rel), "")
		if err != nil {
			return err
		}
		mounted = append(mounted, mp)
	}

	result, err := s.runner.Run(ctx, []string{"findmnt", "--submounts", "/sys", "--json"}, RunOptions{})
	if err != nil {
		return err
	}
	var parsed findmntOutput
	if err := json.Unmarshal([]byte(result.Stdout), &parsed); err != nil {
		return fmt.Errorf("parse findmnt --submounts output: %w", err)
	}

	for _, node := range flattenSubmounts(parsed.Filesystems) {
		rel := strings.TrimPrefix(node.Target, "/sys")
		rel = strings.TrimPrefix(rel, "/")
		if rel == "" {
			continue
		}
		mp, err := s.AddMount(ctx, node.Fstype, node.Fstype, filepath.Join(mountpoint, "sys", rel), node.Options)
		if err != nil {
			return err
		}
		mounted = append(mounted, mp)
	}

	resolvConf := filepath.Join(mountpoint, "etc", "resolv.conf")
	resolvConfTmp := resolvConf + ".tmp"
	hadResolvConf := false
	if _, err := os.Stat(resolvConf); err == nil {
		if err := os.Rename(resolvConf, resolvConfTmp); err != nil {
			return fmt.Errorf("stash resolv.conf: %w", err)
		}
		hadResolvConf = true
	}
	if err := copyFile("/etc/resolv.conf", resolvConf); err != nil {
		return fmt.Errorf("copy host resolv.conf: %w", err)
	}

	s.AddPreRepackHook(func(ctx context.Context) error {
		for i := len(mounted) - 1; i >= 0; i-- {
			if err := s.Umount(ctx, mounted[i]); err != nil {
				return err
			}
		}
		if err := os.Remove(resolvConf); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove injected resolv.conf: %w", err)
		}
		if hadResolvConf {
			if err := os.Rename(resolvConfTmp, resolvConf); err != nil {
				return fmt.Errorf("restore resolv.conf: %w", err)
			}
		}
		return nil
	})

	return nil
}

func copyFile(src, dst string) error {
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
