package actions

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestInjectSnapReplacesExistingSeedEntryNoDuplicate(t *testing.T) {
	seedDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(seedDir, "snaps"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(seedDir, "assertions"), 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(seedDir, "snaps", "core22_1.snap"), []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(seedDir, "seed.yaml"), []byte(
		"snaps:\n  - name: core22\n    file: core22_1.snap\n    channel: stable\n"), 0o644))

	snapMountPath := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(snapMountPath, "meta"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(snapMountPath, "meta", "snap.yaml"),
		[]byte("name: core22\nconfinement: strict\n"), 0o644))

	newSnapFile := filepath.Join(t.TempDir(), "core22_2.snap")
	require.NoError(t, os.WriteFile(newSnapFile, []byte("new"), 0o644))

	require.NoError(t, injectSnapIntoSeed(newSnapFile, "stable", snapMountPath, seedDir))

	seedData, err := os.ReadFile(filepath.Join(seedDir, "seed.yaml"))
	require.NoError(t, err)

	var parsed seedYAML
	require.NoError(t, yaml.Unmarshal(seedData, &parsed))
	require.Len(t, parsed.Snaps, 1)
	require.Equal(t, "core22", parsed.Snaps[0].Name)
	require.Equal(t, "core22_injected.snap", parsed.Snaps[0].File)

	_, statErr := os.Stat(filepath.Join(seedDir, "snaps", "core22_1.snap"))
	require.True(t, os.IsNotExist(statErr), "old seed snap file should be removed")

	_, statErr = os.Stat(filepath.Join(seedDir, "snaps", "core22_injected.snap"))
	require.NoError(t, statErr, "new seed snap file should be staged")
}

func TestInjectSnapMarksUnassertedWhenNoAssertFile(t *testing.T) {
	seedDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(seedDir, "snaps"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(seedDir, "assertions"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(seedDir, "seed.yaml"), []byte("snaps: []\n"), 0o644))

	snapMountPath := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(snapMountPath, "meta"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(snapMountPath, "meta", "snap.yaml"),
		[]byte("name: hello\n"), 0o644))

	snapFile := filepath.Join(t.TempDir(), "hello.snap")
	require.NoError(t, os.WriteFile(snapFile, []byte("data"), 0o644))

	require.NoError(t, injectSnapIntoSeed(snapFile, "edge", snapMountPath, seedDir))

	seedData, err := os.ReadFile(filepath.Join(seedDir, "seed.yaml"))
	require.NoError(t, err)
	var parsed seedYAML
	require.NoError(t, yaml.Unmarshal(seedData, &parsed))
	require.Len(t, parsed.Snaps, 1)
	require.True(t, parsed.Snaps[0].Unasserted)
}
