package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspectDataDirMissing(t *testing.T) {
	_, err := InspectDataDir(filepath.Join(t.TempDir(), "absent"))
	assert.ErrorContains(t, err, "no data directory")
}

func TestInspectDataDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, CheckpointFileName), []byte(`{}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, LedgerFileName), []byte(`{"entries":[]}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0644))

	info, err := InspectDataDir(dir)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(info.Path))
	require.Len(t, info.Files, 2)
	assert.Equal(t, LedgerFileName, info.Files[0].Name)
	assert.Equal(t, CheckpointFileName, info.Files[1].Name)
	assert.Equal(t, int64(2), info.Files[1].Size)
	assert.Nil(t, info.Lock)

	lockPath, err := AcquireLock(dir, "test", "dev")
	require.NoError(t, err)
	defer ReleaseLock(lockPath)

	info, err = InspectDataDir(dir)
	require.NoError(t, err)
	require.NotNil(t, info.Lock)
	assert.Equal(t, os.Getpid(), info.Lock.PID)
	assert.Equal(t, "test", info.Lock.Holder)
}
