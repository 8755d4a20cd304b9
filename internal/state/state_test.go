package state_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indo-san/WKWebView/internal/blocklist"
	"github.com/indo-san/WKWebView/internal/state"
	"github.com/indo-san/WKWebView/internal/state/bolt"
	"github.com/indo-san/WKWebView/internal/state/sqlite"
)

func openBackends(t *testing.T) map[string]state.Store {
	t.Helper()

	dir := t.TempDir()

	sq, err := sqlite.Open(filepath.Join(dir, "state.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })

	bl, err := bolt.Open(filepath.Join(dir, "state.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { bl.Close() })

	return map[string]state.Store{"sqlite": sq, "bolt": bl}
}

func TestSaveLoadClear(t *testing.T) {
	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Load("missing")
			assert.ErrorIs(t, err, state.ErrNotFound)

			require.NoError(t, store.Save("k", []byte("v1")))

			blob, err := store.Load("k")
			require.NoError(t, err)
			assert.Equal(t, []byte("v1"), blob)

			// Last writer wins.
			require.NoError(t, store.Save("k", []byte("v2")))
			blob, err = store.Load("k")
			require.NoError(t, err)
			assert.Equal(t, []byte("v2"), blob)

			require.NoError(t, store.Clear("k"))
			_, err = store.Load("k")
			assert.ErrorIs(t, err, state.ErrNotFound)

			// Clearing an absent key is a no-op.
			require.NoError(t, store.Clear("k"))
		})
	}
}

func TestUserSnapshotRoundTrip(t *testing.T) {
	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			models := state.NewModels(store)

			_, err := models.LoadUser()
			assert.ErrorIs(t, err, state.ErrNotFound)

			user, err := blocklist.NewUser()
			require.NoError(t, err)

			now := time.Now().UTC()
			user.BlockList = &blocklist.BlockList{
				Name:         user.BlockList.Name,
				Source:       user.BlockList.Source,
				DateDownload: &now,
				Initiator:    blocklist.UserAction,
			}
			user.LastVersion = "201901010000"

			require.NoError(t, models.SaveUser(user))

			loaded, err := models.LoadUser()
			require.NoError(t, err)
			assert.Equal(t, user.Name, loaded.Name)
			assert.Equal(t, user.LastVersion, loaded.LastVersion)
			require.NotNil(t, loaded.BlockList)
			assert.Equal(t, user.BlockList.Name, loaded.BlockList.Name)
			assert.Equal(t, user.BlockList.Source, loaded.BlockList.Source)
		})
	}
}

func TestLoadUpdaterInitializesDefault(t *testing.T) {
	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			models := state.NewModels(store)

			updater, err := models.LoadUpdater()
			require.NoError(t, err)
			assert.NotEmpty(t, updater.Name)

			// The default is persisted, so a second load sees the same state.
			again, err := models.LoadUpdater()
			require.NoError(t, err)
			assert.Equal(t, updater.Name, again.Name)
		})
	}
}

func TestIncrementDownloadCount(t *testing.T) {
	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			models := state.NewModels(store)

			require.NoError(t, models.IncrementDownloadCount(false))
			require.NoError(t, models.IncrementDownloadCount(false))

			ctr, err := models.LoadCounter(false)
			require.NoError(t, err)
			assert.Equal(t, 2, ctr.DownloadCount)

			// Testing counter is independent.
			tctr, err := models.LoadCounter(true)
			require.NoError(t, err)
			assert.Equal(t, 0, tctr.DownloadCount)
		})
	}
}

func TestReset(t *testing.T) {
	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			models := state.NewModels(store)

			user, err := blocklist.NewUser()
			require.NoError(t, err)
			require.NoError(t, models.SaveUser(user))
			require.NoError(t, models.IncrementDownloadCount(false))

			require.NoError(t, models.Reset())

			_, err = models.LoadUser()
			assert.ErrorIs(t, err, state.ErrNotFound)

			ctr, err := models.LoadCounter(false)
			require.NoError(t, err)
			assert.Equal(t, 0, ctr.DownloadCount)
		})
	}
}
