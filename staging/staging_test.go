package staging

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caff_back/logging"
)

func TestAllocateIsolatesDirectories(t *testing.T) {
	t.Parallel()

	mgr, err := NewManager(filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)

	const n = 32
	var (
		mu    sync.Mutex
		seen  = make(map[string]struct{}, n)
		wg    sync.WaitGroup
		paths = make(chan string, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := mgr.Allocate()
			if !assert.NoError(t, err) {
				return
			}
			paths <- h.Path()
		}()
	}
	wg.Wait()
	close(paths)

	for p := range paths {
		mu.Lock()
		_, dup := seen[p]
		seen[p] = struct{}{}
		mu.Unlock()
		assert.False(t, dup, "duplicate staging directory %s", p)

		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
		assert.Equal(t, os.FileMode(dirMode), info.Mode().Perm())
	}
	assert.Len(t, seen, n)
}

func TestHandleJoinAndRelease(t *testing.T) {
	t.Parallel()

	mgr, err := NewManager(t.TempDir())
	require.NoError(t, err)

	h, err := mgr.Allocate()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(mgr.Root(), h.ID(), "source.caff"), h.Join("source.caff"))

	require.NoError(t, os.WriteFile(h.Join("source.caff"), []byte("CAFF"), 0o600))
	require.NoError(t, os.MkdirAll(h.Join("nested", "deeper"), 0o700))

	require.NoError(t, h.Release())
	_, err = os.Stat(h.Path())
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, h.Release(), "release is idempotent")
}

func TestNewManagerRequiresRoot(t *testing.T) {
	t.Parallel()

	_, err := NewManager(" ")
	require.Error(t, err)
}

func TestCleanStaleRemovesOldDirectories(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	oldDir := filepath.Join(root, "old")
	recentDir := filepath.Join(root, "recent")
	require.NoError(t, os.Mkdir(oldDir, 0o700))
	require.NoError(t, os.Mkdir(recentDir, 0o700))
	oldTime := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(oldDir, oldTime, oldTime))

	oldFile := filepath.Join(root, "stray.txt")
	require.NoError(t, os.WriteFile(oldFile, []byte("x"), 0o600))
	require.NoError(t, os.Chtimes(oldFile, oldTime, oldTime))

	result := CleanStale(context.Background(), root, time.Hour, logging.Discard())
	require.Empty(t, result.Errors)
	assert.Equal(t, []string{oldDir}, result.Removed)

	_, err := os.Stat(oldDir)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(recentDir)
	assert.NoError(t, err)
	_, err = os.Stat(oldFile)
	assert.NoError(t, err, "files are never swept")
}

func TestCleanStaleSkipsWhenLocked(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	oldDir := filepath.Join(root, "old")
	require.NoError(t, os.Mkdir(oldDir, 0o700))
	oldTime := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(oldDir, oldTime, oldTime))

	held := flock.New(filepath.Join(root, sweepLockName))
	ok, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer held.Unlock()

	result := CleanStale(context.Background(), root, time.Hour, logging.Discard())
	assert.True(t, result.Skipped)
	assert.Empty(t, result.Removed)
	_, err = os.Stat(oldDir)
	assert.NoError(t, err)
}

func TestCleanStaleInvalidRoots(t *testing.T) {
	t.Parallel()

	for _, dir := range []string{"", "   ", filepath.Join(t.TempDir(), "missing")} {
		result := CleanStale(context.Background(), dir, time.Hour, nil)
		assert.Empty(t, result.Removed, dir)
		assert.Empty(t, result.Errors, dir)
	}
}
