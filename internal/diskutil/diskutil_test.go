package diskutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"shipit/internal/diskutil"

	"github.com/stretchr/testify/require"
)

func TestDirSizeSumsRegularFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a"), make([]byte, 100), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b"), make([]byte, 50), 0o644))

	size, err := diskutil.DirSize(dir)
	require.NoError(t, err)
	require.Equal(t, int64(150), size)
}

func TestSameDeviceTrueForSiblingPaths(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	require.NoError(t, os.Mkdir(a, 0o755))
	require.NoError(t, os.Mkdir(b, 0o755))

	same, err := diskutil.SameDevice(a, b)
	require.NoError(t, err)
	require.True(t, same)
}
