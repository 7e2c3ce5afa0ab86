package livefs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPreRepackHooksRunInReverseOrder(t *testing.T) {
	s, err := New("", Options{TmpRootParent: t.TempDir(), Runner: newFakeRunner()})
	require.NoError(t, err)
	defer s.Teardown(t.Context())

	var order []int
	s.AddPreRepackHook(func(ctx context.Context) error { order = append(order, 1); return nil })
	s.AddPreRepackHook(func(ctx context.Context) error { order = append(order, 2); return nil })
	s.AddPreRepackHook(func(ctx context.Context) error { order = append(order, 3); return nil })

	require.NoError(t, s.runPreRepackHooks(t.Context()))
	require.Equal(t, []int{3, 2, 1}, order)
}

func TestTeardownUnmountsInReverseMountOrder(t *testing.T) {
	fr := newFakeRunner()
	s, err := New("", Options{TmpRootParent: t.TempDir(), Runner: fr})
	require.NoError(t, err)

	_, err = s.AddMount(t.Context(), "devtmpfs", "devtmpfs", "a", "")
	require.NoError(t, err)
	_, err = s.AddMount(t.Context(), "devtmpfs", "devtmpfs", "b", "")
	require.NoError(t, err)

	require.NoError(t, s.Teardown(t.Context()))

	var rprivateOrder []string
	for _, call := range fr.calls {
		if len(call) >= 3 && call[0] == "mount" && call[1] == "--make-rprivate" {
			rprivateOrder = append(rprivateOrder, call[2])
		}
	}
	require.Len(t, rprivateOrder, 2)
	require.Contains(t, rprivateOrder[0], "/b")
	require.Contains(t, rprivateOrder[1], "/a")
}

func TestTeardownFallsBackToLazyUnmountOnFailure(t *testing.T) {
	fr := newFakeRunner()
	s, err := New("", Options{TmpRootParent: t.TempDir(), Runner: fr})
	require.NoError(t, err)

	_, err = s.AddMount(t.Context(), "devtmpfs", "devtmpfs", "a", "")
	require.NoError(t, err)

	// Force umount -R to report a non-zero exit so teardown degrades to
	// umount -l instead of failing outright.
	realRun := fr.Run
	fr2 := &recursiveUmountFailsRunner{inner: fr, realRun: realRun}
	s.runner = fr2

	require.NoError(t, s.Teardown(t.Context()))

	var sawLazy bool
	for _, call := range fr2.calls {
		if len(call) >= 2 && call[0] == "umount" && call[1] == "-l" {
			sawLazy = true
		}
	}
	require.True(t, sawLazy)
}

// recursiveUmountFailsRunner wraps fakeRunner, reporting ExitCode 32 for
// "umount -R" while recording every call like the wrapped fake does.
type recursiveUmountFailsRunner struct {
	inner   *fakeRunner
	realRun func(ctx context.Context, argv []string, opts RunOptions) (RunResult, error)
	calls   [][]string
}

func (r *recursiveUmountFailsRunner) Run(ctx context.Context, argv []string, opts RunOptions) (RunResult, error) {
	r.calls = append(r.calls, append([]string{}, argv...))
	if len(argv) >= 2 && argv[0] == "umount" && argv[1] == "-R" {
		return RunResult{ExitCode: 32}, nil
	}
	return r.realRun(ctx, argv, opts)
}
