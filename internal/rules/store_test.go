package rules

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestStore_SwapNotifiesOnVersionChange(t *testing.T) {
	first, err := Parse([]byte(minimalYAML), FormatYAML, DefaultMatchTimeout)
	require.NoError(t, err)
	same, err := Parse([]byte(minimalYAML), FormatYAML, DefaultMatchTimeout)
	require.NoError(t, err)

	store := NewStore(first)
	var calls atomic.Int32
	store.OnChange(func(prev, cur *Catalog) {
		calls.Add(1)
		assert.Equal(t, first.Version(), prev.Version())
		assert.Equal(t, MustDefault().Version(), cur.Version())
	})

	store.Swap(same)
	assert.Equal(t, int32(0), calls.Load(), "same version is not a change")

	store.Swap(MustDefault())
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, MustDefault().Version(), store.Current().Version())
}

func TestWatcher_ReloadsAndKeepsSnapshotOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o644))

	initial, err := LoadFile(path, DefaultMatchTimeout)
	require.NoError(t, err)
	store := NewStore(initial)

	w, err := NewWatcher(path, store, DefaultMatchTimeout)
	require.NoError(t, err)
	w.SetDebounce(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	t.Run("malformed file keeps previous snapshot", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, []byte("version: [\n"), 0o644))
		require.Eventually(t, func() bool { return w.Stats().Failures > 0 }, 2*time.Second, 10*time.Millisecond)
		assert.Equal(t, initial.Version(), store.Current().Version())
	})

	t.Run("valid edit swaps snapshot", func(t *testing.T) {
		edited := strings.Replace(minimalYAML, `version: "1"`, `version: "2"`, 1)
		require.NoError(t, os.WriteFile(path, []byte(edited), 0o644))
		require.Eventually(t, func() bool {
			return store.Current().DeclaredVersion() == "2"
		}, 2*time.Second, 10*time.Millisecond)
	})
}

func TestWatcher_ReloadDirect(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":"9","rules":[{"id":"STR-01","name":"x","category":"structure","severity":"low","weight":1,"instruction":"x","forbidden":[{"kind":"literal","pattern":"x"}]}]}`), 0o644))

	store := NewStore(MustDefault())
	w, err := NewWatcher(path, store, DefaultMatchTimeout)
	require.NoError(t, err)
	defer w.Stop()

	w.Reload()
	assert.Equal(t, "9", store.Current().DeclaredVersion())
	assert.Equal(t, 1, w.Stats().Reloads)
}

func TestWatcher_GuardRejectsReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o644))

	store := NewStore(MustDefault())
	w, err := NewWatcher(path, store, DefaultMatchTimeout)
	require.NoError(t, err)
	defer w.Stop()

	var seen atomic.Int32
	w.SetGuard(func(c *Catalog) error {
		seen.Add(1)
		if c.DeclaredVersion() == "1" {
			return errors.New("STR-02 requires prefix(\"de\") but STR-01 forbids it")
		}
		return nil
	})

	w.Reload()
	assert.Equal(t, int32(1), seen.Load())
	assert.Equal(t, MustDefault().Version(), store.Current().Version(), "rejected catalog must not go live")
	stats := w.Stats()
	assert.Equal(t, 1, stats.Failures)
	assert.Equal(t, 0, stats.Reloads)
	assert.Contains(t, stats.LastError, "STR-02")

	edited := strings.Replace(minimalYAML, `version: "1"`, `version: "2"`, 1)
	require.NoError(t, os.WriteFile(path, []byte(edited), 0o644))
	w.Reload()
	assert.Equal(t, "2", store.Current().DeclaredVersion())
	assert.Equal(t, 1, w.Stats().Reloads)
}
