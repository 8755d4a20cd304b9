package updater

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indo-san/WKWebView/internal/blocklist"
	"github.com/indo-san/WKWebView/internal/downloader"
	"github.com/indo-san/WKWebView/internal/source"
	"github.com/indo-san/WKWebView/internal/state"
	"github.com/indo-san/WKWebView/internal/state/bolt"
)

const sampleRules = `[{"trigger":{"url-filter":".*"},"action":{"type":"block"}}]`

func newTestModels(t *testing.T) *state.Models {
	t.Helper()

	store, err := bolt.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)

	t.Cleanup(func() { store.Close() })

	return state.NewModels(store)
}

func saveUserWithActiveAge(t *testing.T, models *state.Models, age time.Duration) {
	t.Helper()

	date := time.Now().Add(-age)

	active, err := blocklist.New(true, source.RemotePlusExceptions, "", &date, blocklist.UserAction)
	require.NoError(t, err)

	user, err := blocklist.NewUser()
	require.NoError(t, err)

	require.NoError(t, models.SaveUser(user.DownloadAdded(active).WithBlockList(active)))
}

func newTestScheduler(t *testing.T, models *state.Models, serverURL string) *Scheduler {
	t.Helper()

	container := t.TempDir()

	return New(Deps{
		Models:     models,
		Expiration: 24 * time.Hour,
		Period:     10 * time.Millisecond,
		NewEngine: func(consumer blocklist.Updater) (*downloader.Engine, error) {
			return downloader.NewEngine(blocklist.AutomaticUpdate, consumer, downloader.Deps{
				ContainerDir: container,
				Models:       models,
				SourceURL: func(source.Source) (string, error) {
					return serverURL, nil
				},
			})
		},
	})
}

func TestSchedulerDownloadsWhenStale(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(sampleRules))
	}))
	defer srv.Close()

	models := newTestModels(t)
	saveUserWithActiveAge(t, models, 48*time.Hour)

	sched := newTestScheduler(t, models, srv.URL)
	sched.Start(context.Background())

	require.Eventually(t, func() bool {
		updaterState, err := models.LoadUpdater()

		return err == nil && len(updaterState.Downloads) > 0
	}, 5*time.Second, 10*time.Millisecond)

	sched.Shutdown()
	<-sched.Done()
	assert.NoError(t, sched.Err())

	updaterState, err := models.LoadUpdater()
	require.NoError(t, err)
	require.NotEmpty(t, updaterState.Downloads)
	assert.NotNil(t, updaterState.Downloads[0].DateDownload)
	assert.Equal(t, blocklist.AutomaticUpdate, updaterState.Downloads[0].Initiator)

	// The user's active slot stays untouched.
	user, err := models.LoadUser()
	require.NoError(t, err)
	assert.NotEqual(t, updaterState.Downloads[0].Name, user.ActiveBlockList().Name)
}

func TestSchedulerSkipsFreshUser(t *testing.T) {
	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Write([]byte(sampleRules))
	}))
	defer srv.Close()

	models := newTestModels(t)
	saveUserWithActiveAge(t, models, time.Hour)

	sched := newTestScheduler(t, models, srv.URL)
	sched.Start(context.Background())

	time.Sleep(100 * time.Millisecond)

	sched.Shutdown()
	<-sched.Done()

	assert.Zero(t, hits.Load())
}

func TestSchedulerStopsOnFatalError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	models := newTestModels(t)
	saveUserWithActiveAge(t, models, 48*time.Hour)

	sched := newTestScheduler(t, models, srv.URL)
	sched.Start(context.Background())

	select {
	case <-sched.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop on fatal error")
	}

	require.Error(t, sched.Err())

	var respErr *downloader.InvalidResponseError
	assert.ErrorAs(t, sched.Err(), &respErr)
}

func TestSchedulerStartIsIdempotent(t *testing.T) {
	models := newTestModels(t)
	saveUserWithActiveAge(t, models, time.Hour)

	sched := newTestScheduler(t, models, "http://127.0.0.1:0")
	sched.Start(context.Background())
	sched.Start(context.Background())

	sched.Shutdown()

	select {
	case <-sched.Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler did not shut down")
	}
}
