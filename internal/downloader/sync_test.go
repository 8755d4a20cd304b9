package downloader

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indo-san/WKWebView/internal/blocklist"
	"github.com/indo-san/WKWebView/internal/source"
)

func makeDownloadedList(t *testing.T, container string, date time.Time, initiator blocklist.Initiator) blocklist.BlockList {
	t.Helper()

	blst, err := blocklist.New(true, source.RemotePlusExceptions, "", &date, initiator)
	require.NoError(t, err)

	path := filepath.Join(container, blst.Filename())
	require.NoError(t, os.WriteFile(path, []byte(sampleRules), 0o644))
	require.NoError(t, os.Chtimes(path, date, date))

	return blst
}

func containerFiles(t *testing.T, container string) []string {
	t.Helper()

	entries, err := os.ReadDir(container)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}

	return names
}

func TestSyncDownloadsPrunesStateAndFiles(t *testing.T) {
	container := t.TempDir()
	stale := time.Now().Add(-48 * time.Hour)

	user, err := blocklist.NewUser()
	require.NoError(t, err)

	var lists []blocklist.BlockList
	for i := 0; i < 6; i++ {
		blst := makeDownloadedList(t, container, stale.Add(time.Duration(i)*time.Minute), blocklist.UserAction)
		lists = append(lists, blst)
		user = user.DownloadAdded(blst)
	}

	user = user.WithBlockList(lists[5])

	eng, err := NewEngine(blocklist.UserAction, user, Deps{
		ContainerDir: container,
		Models:       newTestModels(t),
		Expiration:   24 * time.Hour,
	})
	require.NoError(t, err)

	snapshot, err := eng.SyncDownloads(context.Background(), user, blocklist.UserAction)
	require.NoError(t, err)

	pruned, ok := snapshot.(blocklist.User)
	require.True(t, ok)

	require.Len(t, pruned.Downloads, blocklist.UserDownloadsMax)

	// Oldest download evicted, its stale file removed from the container.
	assert.NotContains(t, containerFiles(t, container), lists[0].Filename())
	for _, blst := range pruned.Downloads {
		assert.Contains(t, containerFiles(t, container), blst.Filename())
	}

	// History carries the active list.
	require.NotNil(t, pruned.ActiveBlockList())
	found := false
	for _, blst := range pruned.BlockListHistory {
		if blst.Equal(*pruned.ActiveBlockList()) {
			found = true
		}
	}
	assert.True(t, found)
}

func TestSyncDownloadsIsIdempotent(t *testing.T) {
	container := t.TempDir()
	stale := time.Now().Add(-48 * time.Hour)

	user, err := blocklist.NewUser()
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		blst := makeDownloadedList(t, container, stale.Add(time.Duration(i)*time.Minute), blocklist.UserAction)
		user = user.DownloadAdded(blst)
	}

	user = user.WithBlockList(user.Downloads[5])

	eng, err := NewEngine(blocklist.UserAction, user, Deps{
		ContainerDir: container,
		Models:       newTestModels(t),
		Expiration:   24 * time.Hour,
	})
	require.NoError(t, err)

	first, err := eng.SyncDownloads(context.Background(), user, blocklist.UserAction)
	require.NoError(t, err)

	firstFiles := containerFiles(t, container)

	second, err := eng.SyncDownloads(context.Background(), first, blocklist.UserAction)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, firstFiles, containerFiles(t, container))
}

func TestSyncDownloadsKeepWindowSparesRecentFiles(t *testing.T) {
	container := t.TempDir()

	user, err := blocklist.NewUser()
	require.NoError(t, err)

	active := makeDownloadedList(t, container, time.Now(), blocklist.UserAction)
	user = user.DownloadAdded(active).WithBlockList(active)

	// Unreferenced but recent, still inside the keep window.
	recent := makeDownloadedList(t, container, time.Now().Add(-time.Hour), blocklist.UserAction)

	eng, err := NewEngine(blocklist.UserAction, user, Deps{
		ContainerDir: container,
		Models:       newTestModels(t),
		Expiration:   24 * time.Hour,
	})
	require.NoError(t, err)

	_, err = eng.SyncDownloads(context.Background(), user, blocklist.UserAction)
	require.NoError(t, err)

	assert.Contains(t, containerFiles(t, container), recent.Filename())
}

func TestSyncDownloadsUpdaterExemptsUserFiles(t *testing.T) {
	container := t.TempDir()
	stale := time.Now().Add(-48 * time.Hour)

	models := newTestModels(t)

	user, err := blocklist.NewUser()
	require.NoError(t, err)

	userList := makeDownloadedList(t, container, stale, blocklist.UserAction)
	user = user.DownloadAdded(userList).WithBlockList(userList)
	require.NoError(t, models.SaveUser(user))

	updater, err := blocklist.NewUpdater()
	require.NoError(t, err)

	var updaterLists []blocklist.BlockList
	for i := 0; i < 6; i++ {
		blst := makeDownloadedList(t, container, stale.Add(time.Duration(i)*time.Minute), blocklist.AutomaticUpdate)
		updaterLists = append(updaterLists, blst)
		updater = updater.DownloadAdded(blst)
	}

	eng, err := NewEngine(blocklist.AutomaticUpdate, updater, Deps{
		ContainerDir: container,
		Models:       models,
		Expiration:   24 * time.Hour,
	})
	require.NoError(t, err)

	snapshot, err := eng.SyncDownloads(context.Background(), updater, blocklist.AutomaticUpdate)
	require.NoError(t, err)

	pruned, ok := snapshot.(blocklist.Updater)
	require.True(t, ok)
	require.Len(t, pruned.Downloads, blocklist.UpdaterDownloadsMax)

	files := containerFiles(t, container)
	assert.Contains(t, files, userList.Filename(), "active user file must survive an updater sync")
	assert.NotContains(t, files, updaterLists[0].Filename())
}

func TestSyncDownloadsRejectsForeignInitiator(t *testing.T) {
	user, err := blocklist.NewUser()
	require.NoError(t, err)

	eng, err := NewEngine(blocklist.UserAction, user, Deps{
		ContainerDir: t.TempDir(),
		Models:       newTestModels(t),
	})
	require.NoError(t, err)

	_, err = eng.SyncDownloads(context.Background(), user, blocklist.AutomaticUpdate)
	assert.ErrorIs(t, err, ErrBadInitiator)
}
