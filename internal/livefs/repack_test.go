package livefs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRepackNoopWhenOuterUnchanged(t *testing.T) {
	s, fr := newTestSessionWithOuterTree(t)
	s.outerFstype = "iso9660"

	outer, err := s.AddOverlay(t.Context(), []Lower{PathLower("/dev/null")}, "new/iso")
	require.NoError(t, err)
	s.Outer = outer

	dest := filepath.Join(t.TempDir(), "out.iso")
	wrote, err := s.Repack(t.Context(), dest)
	require.NoError(t, err)
	require.False(t, wrote)

	_, statErr := os.Stat(dest)
	require.True(t, os.IsNotExist(statErr))

	for _, c := range fr.calls {
		if len(c) > 0 && c[0] == "xorriso" {
			t.Fatalf("xorriso should not run when the outer overlay is unchanged, got %v", c)
		}
	}
}

func TestRepackDevNullSkipsMaterialization(t *testing.T) {
	s, _ := newTestSessionWithOuterTree(t)
	s.outerFstype = "iso9660"

	outer, err := s.AddOverlay(t.Context(), []Lower{PathLower("/dev/null")}, "new/iso")
	require.NoError(t, err)
	s.Outer = outer

	require.NoError(t, writeFile(filepath.Join(outer.UpperDir, "marker"), "x"))

	wrote, err := s.Repack(t.Context(), os.DevNull)
	require.NoError(t, err)
	require.True(t, wrote)
}
