package activation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indo-san/WKWebView/internal/blocklist"
	"github.com/indo-san/WKWebView/internal/rulestore"
	"github.com/indo-san/WKWebView/internal/source"
)

const sampleRules = `[{"trigger":{"url-filter":".*"},"action":{"type":"block"}}]`

func newTestResolver(t *testing.T, opts ...Option) (*Resolver, *rulestore.LocalStore, string) {
	t.Helper()

	store := rulestore.NewLocalStore()
	t.Cleanup(store.Close)

	container := t.TempDir()

	return NewResolver(store, container, testExpiration, opts...), store, container
}

func writeRules(t *testing.T, container string, blst blocklist.BlockList) {
	t.Helper()

	require.NoError(t, os.WriteFile(filepath.Join(container, blst.Filename()), []byte(sampleRules), 0o644))
}

func TestResolveFreshUserNeedsDownload(t *testing.T) {
	resolver, _, _ := newTestResolver(t)

	user, err := blocklist.NewUser()
	require.NoError(t, err)

	updater, err := blocklist.NewUpdater()
	require.NoError(t, err)

	_, err = resolver.Resolve(context.Background(), user, updater, false)
	assert.ErrorIs(t, err, ErrNeedsDownload)
}

func TestResolvePromotesAutomaticUpdate(t *testing.T) {
	resolver, _, _ := newTestResolver(t)

	stale := listAt(t, true, source.RemotePlusExceptions, 48*time.Hour, blocklist.UserAction)
	user := userWithActive(t, stale)

	candidate := listAt(t, true, source.RemotePlusExceptions, time.Hour, blocklist.AutomaticUpdate)

	updater, err := blocklist.NewUpdater()
	require.NoError(t, err)
	updater = updater.DownloadAdded(candidate)

	resolved, err := resolver.Resolve(context.Background(), user, updater, false)
	require.NoError(t, err)

	require.NotNil(t, resolved.ActiveBlockList())
	assert.True(t, resolved.ActiveBlockList().Equal(candidate))

	_, err = blocklist.BlockListNamed(candidate.Name, resolved.Downloads)
	assert.NoError(t, err)
}

func TestResolveReusesHistory(t *testing.T) {
	resolver, _, _ := newTestResolver(t)

	stale := listAt(t, true, source.RemotePlusExceptions, 48*time.Hour, blocklist.UserAction)
	previous := listAt(t, true, source.RemotePlusExceptions, 12*time.Hour, blocklist.UserAction)

	user := userWithActive(t, stale)
	user.BlockListHistory = []blocklist.BlockList{previous}

	updater, err := blocklist.NewUpdater()
	require.NoError(t, err)

	resolved, err := resolver.Resolve(context.Background(), user, updater, false)
	require.NoError(t, err)

	require.NotNil(t, resolved.ActiveBlockList())
	assert.True(t, resolved.ActiveBlockList().Equal(previous))
}

func TestActivateCompilesAndVerifies(t *testing.T) {
	resolver, store, container := newTestResolver(t)

	active := listAt(t, true, source.RemotePlusExceptions, time.Hour, blocklist.UserAction)
	user := userWithActive(t, active)
	writeRules(t, container, active)

	activated, err := resolver.Activate(context.Background(), user)
	require.NoError(t, err)
	assert.True(t, activated.ActiveBlockList().Equal(active))

	compiled, err := store.Lookup(context.Background(), active.Name)
	require.NoError(t, err)
	assert.Equal(t, 1, compiled.RuleCount)
}

func TestActivateFallsBackToHistoryOnce(t *testing.T) {
	resolver, _, container := newTestResolver(t)

	broken := listAt(t, true, source.RemotePlusExceptions, time.Hour, blocklist.UserAction)
	previous := listAt(t, true, source.RemotePlusExceptions, 12*time.Hour, blocklist.UserAction)

	user := userWithActive(t, broken)
	user.BlockListHistory = []blocklist.BlockList{previous}

	// Only the history list has rules on disk.
	writeRules(t, container, previous)

	activated, err := resolver.Activate(context.Background(), user)
	require.NoError(t, err)
	assert.True(t, activated.ActiveBlockList().Equal(previous))
}

func TestActivateSecondFailureSurfaces(t *testing.T) {
	resolver, _, _ := newTestResolver(t)

	broken := listAt(t, true, source.RemotePlusExceptions, time.Hour, blocklist.UserAction)
	previous := listAt(t, true, source.RemotePlusExceptions, 12*time.Hour, blocklist.UserAction)

	user := userWithActive(t, broken)
	user.BlockListHistory = []blocklist.BlockList{previous}

	_, err := resolver.Activate(context.Background(), user)
	require.Error(t, err)
}

func TestActivateWithoutActiveList(t *testing.T) {
	resolver, _, _ := newTestResolver(t)

	user, err := blocklist.NewUser()
	require.NoError(t, err)
	user.BlockList = nil

	_, err = resolver.Activate(context.Background(), user)
	assert.ErrorIs(t, err, ErrNothingToActivate)
}

func TestActivateAppendsWhitelistRule(t *testing.T) {
	resolver, store, container := newTestResolver(t)

	active := listAt(t, true, source.RemotePlusExceptions, time.Hour, blocklist.UserAction)
	user := userWithActive(t, active).WithWhitelistedDomains([]string{"example.com"})
	writeRules(t, container, active)

	_, err := resolver.Activate(context.Background(), user)
	require.NoError(t, err)

	compiled, err := store.Lookup(context.Background(), active.Name)
	require.NoError(t, err)
	assert.Equal(t, 2, compiled.RuleCount)
}

// flakyStore fails a fixed number of compiles before delegating.
type flakyStore struct {
	rulestore.RuleStore

	failures int
}

func (s *flakyStore) Compile(ctx context.Context, identifier, rules string) (rulestore.CompiledList, error) {
	if s.failures > 0 {
		s.failures--

		return rulestore.CompiledList{}, errors.New("transient compile failure")
	}

	return s.RuleStore.Compile(ctx, identifier, rules)
}

func TestActivateRetriesCompileWhenConfigured(t *testing.T) {
	local := rulestore.NewLocalStore()
	t.Cleanup(local.Close)

	store := &flakyStore{RuleStore: local, failures: 1}
	container := t.TempDir()

	resolver := NewResolver(store, container, testExpiration, WithCompileRetry(3, time.Millisecond))

	active := listAt(t, true, source.RemotePlusExceptions, time.Hour, blocklist.UserAction)
	user := userWithActive(t, active)
	writeRules(t, container, active)

	activated, err := resolver.Activate(context.Background(), user)
	require.NoError(t, err)
	assert.True(t, activated.ActiveBlockList().Equal(active))
}
