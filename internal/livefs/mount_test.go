package livefs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLowerdirStringSingle(t *testing.T) {
	s, err := lowerdirString([]Lower{PathLower("/a")})
	require.NoError(t, err)
	require.Equal(t, "/a", s)
}

func TestLowerdirStringOrdersHighestPrecedenceFirst(t *testing.T) {
	// Input order is lowest-to-highest precedence; the kernel-facing
	// string must list highest precedence first.
	s, err := lowerdirString([]Lower{PathLower("/a"), PathLower("/b")})
	require.NoError(t, err)
	require.Equal(t, "/b:/a", s)
}

func TestResolveLowersFlattensNestedOverlay(t *testing.T) {
	inner := &OverlayMount{
		Lowers:   []Lower{PathLower("/x")},
		UpperDir: "/x-upper",
	}
	flat, err := resolveLowers([]Lower{OverlayLower{Overlay: inner}, PathLower("/y")})
	require.NoError(t, err)
	require.Equal(t, []string{"/x", "/x-upper", "/y"}, flat)
}

func TestResolveLowersFlattensList(t *testing.T) {
	flat, err := resolveLowers([]Lower{ListLower{PathLower("/a"), PathLower("/b")}, PathLower("/c")})
	require.NoError(t, err)
	require.Equal(t, []string{"/a", "/b", "/c"}, flat)
}

func TestOverlayUnchangedOnEmptyUpper(t *testing.T) {
	s, err := New("", Options{TmpRootParent: t.TempDir(), Runner: newFakeRunner()})
	require.NoError(t, err)
	defer s.Teardown(t.Context())

	overlay, err := s.AddOverlay(t.Context(), []Lower{PathLower("/dev/null")}, "new/iso")
	require.NoError(t, err)

	unchanged, err := overlay.Unchanged()
	require.NoError(t, err)
	require.True(t, unchanged)
}

func TestOverlayUnchangedFalseAfterWrite(t *testing.T) {
	s, err := New("", Options{TmpRootParent: t.TempDir(), Runner: newFakeRunner()})
	require.NoError(t, err)
	defer s.Teardown(t.Context())

	overlay, err := s.AddOverlay(t.Context(), []Lower{PathLower("/dev/null")}, "new/iso")
	require.NoError(t, err)

	require.NoError(t, writeFile(overlay.UpperDir+"/marker", "x"))

	unchanged, err := overlay.Unchanged()
	require.NoError(t, err)
	require.False(t, unchanged)
}
