package livefs

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShlexSplitBasic(t *testing.T) {
	require.Equal(t, []string{"boot=casper", "quiet", "splash"}, shlexSplit("boot=casper quiet splash"))
}

func TestShlexSplitQuoted(t *testing.T) {
	require.Equal(t, []string{"foo=a b", "bar"}, shlexSplit(`foo="a b" bar`))
}

func TestGetCmdlineArgFindsFirstMatch(t *testing.T) {
	s, _ := newTestSessionWithOuterTree(t)
	writeCmdlineFile(t, s, "boot/grub/grub.cfg",
		"linux /casper/vmlinuz boot=casper layerfs-path=filesystem.squashfs --- splash\n")

	value, found, err := s.GetCmdlineArg(t.Context(), "layerfs-path")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "filesystem.squashfs", value)
}

func TestGetCmdlineArgMissingKey(t *testing.T) {
	s, _ := newTestSessionWithOuterTree(t)
	writeCmdlineFile(t, s, "boot/grub/grub.cfg", "linux /casper/vmlinuz boot=casper --- splash\n")

	_, found, err := s.GetCmdlineArg(t.Context(), "layerfs-path")
	require.NoError(t, err)
	require.False(t, found)
}

func TestAddCmdlineArgNonPersistInsertsBeforeDelimiter(t *testing.T) {
	s, _ := newTestSessionWithOuterTree(t)
	p, err := s.P("new", "iso", "boot", "grub", "grub.cfg")
	require.NoError(t, err)
	writeCmdlineFile(t, s, "boot/grub/grub.cfg", "linux /casper/vmlinuz boot=casper quiet --- splash\n")

	require.NoError(t, s.AddCmdlineArg(t.Context(), "autoinstall", false))

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	require.Equal(t, "linux /casper/vmlinuz boot=casper quiet autoinstall --- splash\n", string(data))
}

func TestAddCmdlineArgPersistAppendsAfterTail(t *testing.T) {
	s, _ := newTestSessionWithOuterTree(t)
	p, err := s.P("new", "iso", "boot", "grub", "grub.cfg")
	require.NoError(t, err)
	writeCmdlineFile(t, s, "boot/grub/grub.cfg", "linux /casper/vmlinuz boot=casper quiet --- splash\n")

	require.NoError(t, s.AddCmdlineArg(t.Context(), "autoinstall", true))

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	require.Equal(t, "linux /casper/vmlinuz boot=casper quiet --- splash autoinstall\n", string(data))
}
