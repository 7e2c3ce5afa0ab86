package livefs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestSessionWithOuterTree(t *testing.T) (*Session, *fakeRunner) {
	t.Helper()
	fr := newFakeRunner()
	s, err := New("", Options{TmpRootParent: t.TempDir(), Runner: fr})
	require.NoError(t, err)
	t.Cleanup(func() { s.Teardown(t.Context()) })
	return s, fr
}

func writeCmdlineFile(t *testing.T, s *Session, rel, contents string) {
	t.Helper()
	p, err := s.P("new", "iso", rel)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, writeFile(p, contents))
}

func TestGetSquashNamesFromLayerfsPath(t *testing.T) {
	s, _ := newTestSessionWithOuterTree(t)
	writeCmdlineFile(t, s, "boot/grub/grub.cfg",
		"linux /casper/vmlinuz boot=casper layerfs-path=minimal.standard.live.squashfs quiet --- splash\n")

	names, err := s.GetSquashNames(t.Context())
	require.NoError(t, err)
	require.Equal(t, []string{"minimal", "minimal.standard", "minimal.standard.live"}, names)
}

func TestGetSquashNamesMemoizedPointerEqual(t *testing.T) {
	s, _ := newTestSessionWithOuterTree(t)
	writeCmdlineFile(t, s, "boot/grub/grub.cfg",
		"linux /casper/vmlinuz layerfs-path=filesystem.squashfs --- splash\n")

	first, err := s.GetSquashNames(t.Context())
	require.NoError(t, err)
	second, err := s.GetSquashNames(t.Context())
	require.NoError(t, err)

	require.Same(t, &first[0], &second[0])
}

func TestGetSquashNamesGlobFallback(t *testing.T) {
	s, _ := newTestSessionWithOuterTree(t)
	// With no layerfs-path on the command line the initrd is unpacked
	// (and its arch-specific path resolved) before the glob fallback.
	writeCmdlineFile(t, s, ".disk/info", "Ubuntu 24.04 LTS \"Noble Numbat\" - Release amd64 (20240424)\n")
	casperDir, err := s.P("old", "iso", "casper")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(casperDir, 0o755))
	require.NoError(t, writeFile(filepath.Join(casperDir, "filesystem.squashfs"), ""))

	names, err := s.GetSquashNames(t.Context())
	require.NoError(t, err)
	require.Equal(t, []string{"filesystem"}, names)
}

func TestMountSquashMemoizedSingleMount(t *testing.T) {
	s, fr := newTestSessionWithOuterTree(t)

	mp1, err := s.MountSquash(t.Context(), "filesystem")
	require.NoError(t, err)
	mp2, err := s.MountSquash(t.Context(), "filesystem")
	require.NoError(t, err)

	require.Same(t, mp1, mp2)

	mountCalls := 0
	for _, c := range fr.calls {
		if len(c) > 0 && c[0] == "mount" {
			mountCalls++
		}
	}
	require.Equal(t, 1, mountCalls)
}

func TestNewTopSquashNameWithLayerfsPath(t *testing.T) {
	names := []string{"minimal", "minimal.standard", "minimal.standard.live"}
	ptr := &LayerfsPointer{Value: "minimal.standard.live.squashfs", Source: "initrd"}
	require.Equal(t, "minimal.standard.live.custom", newTopSquashName(names, ptr))
}

func TestNewTopSquashNameWithoutLayerfsPath(t *testing.T) {
	require.Equal(t, "gilesystem", newTopSquashName([]string{"filesystem"}, nil))
}

func TestEditSquashfsIdempotent(t *testing.T) {
	s, _ := newTestSessionWithOuterTree(t)

	ov1, err := s.EditSquashfs(t.Context(), "filesystem", false)
	require.NoError(t, err)
	ov2, err := s.EditSquashfs(t.Context(), "filesystem", false)
	require.NoError(t, err)

	require.Same(t, ov1, ov2)
	require.Equal(t, ov1.Path, ov2.Path)
}
