package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/indo-san/WKWebView/internal/blocklist"
	"github.com/indo-san/WKWebView/internal/downloader/progress"
	"github.com/indo-san/WKWebView/internal/logctx"
	"github.com/indo-san/WKWebView/internal/source"
	"github.com/indo-san/WKWebView/internal/state"
	"github.com/indo-san/WKWebView/internal/telemetry"
)

var (
	// ErrBadInitiator signals an initiator paired with the wrong consumer kind.
	ErrBadInitiator = errors.New("downloader: bad initiator")
	// ErrIncompleteSourceDownload signals an invalidate while a task is still running.
	ErrIncompleteSourceDownload = errors.New("downloader: incomplete source download")
)

// InvalidResponseError reports a list server response outside the 2xx range.
type InvalidResponseError struct {
	StatusCode int
	URL        string
}

func (e *InvalidResponseError) Error() string {
	return fmt.Sprintf("downloader: invalid response %d from %s", e.StatusCode, e.URL)
}

const (
	versionTimeFormat = "200601021504"
	progressInterval  = int64(64 * 1024)
)

// Deps carries the collaborators and tunables of an Engine.
type Deps struct {
	Client       *http.Client
	ContainerDir string
	Models       *state.Models
	Telemetry    *telemetry.Telemetry
	Identity     Identity

	Expiration   time.Duration
	KeepFactor   float64
	DownloadsMax int
	HistoryMax   int
	CounterMax   int

	// SourceURL resolves a source to its download URL. Defaults to the
	// registry raw identifier.
	SourceURL func(src source.Source) (string, error)
}

type task struct {
	list   blocklist.BlockList
	stream *taskStream
}

type session struct {
	cancel context.CancelFunc
	tasks  []*task
}

// Engine drives one download session for a single consumer. All consumer and
// session mutation is serialized behind the engine mutex.
type Engine struct {
	mu sync.Mutex

	initiator blocklist.Initiator
	consumer  blocklist.Consumer
	session   *session
	deps      Deps
}

// NewEngine pairs an initiator with its consumer. User state downloads come
// from user actions, updater downloads from automatic updates.
func NewEngine(initiator blocklist.Initiator, consumer blocklist.Consumer, deps Deps) (*Engine, error) {
	switch consumer.(type) {
	case blocklist.User:
		if initiator != blocklist.UserAction {
			return nil, ErrBadInitiator
		}
	case blocklist.Updater:
		if initiator != blocklist.AutomaticUpdate {
			return nil, ErrBadInitiator
		}
	default:
		return nil, ErrBadInitiator
	}

	if deps.Client == nil {
		deps.Client = http.DefaultClient
	}

	if deps.Telemetry == nil {
		deps.Telemetry = &telemetry.Telemetry{}
	}

	if deps.Expiration <= 0 {
		deps.Expiration = blocklist.DefaultExpiration
	}

	if deps.KeepFactor <= 0 {
		deps.KeepFactor = 1
	}

	if deps.DownloadsMax <= 0 {
		deps.DownloadsMax = blocklist.UserDownloadsMax
	}

	if deps.HistoryMax <= 0 {
		deps.HistoryMax = blocklist.UserHistoryMax
	}

	if deps.CounterMax <= 0 {
		deps.CounterMax = blocklist.DownloadCounterMax
	}

	if deps.SourceURL == nil {
		deps.SourceURL = func(src source.Source) (string, error) {
			return src.Raw()
		}
	}

	return &Engine{
		initiator: initiator,
		consumer:  consumer,
		deps:      deps,
	}, nil
}

// Consumer returns the engine's current consumer snapshot.
func (e *Engine) Consumer() blocklist.Consumer {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.consumer
}

// LastEvent returns the most recent event recorded for the named task.
func (e *Engine) LastEvent(filterListName string) (Event, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return Event{}, false
	}

	for _, t := range e.session.tasks {
		if t.list.Name == filterListName {
			return t.stream.last()
		}
	}

	return Event{}, false
}

// StartDownloads begins a download session for the consumer's needed sources
// and returns the task event streams concatenated in task creation order.
// Any outstanding session is cancelled first.
func (e *Engine) StartDownloads(ctx context.Context) (<-chan Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session != nil {
		e.session.cancel()
		e.session = nil
	}

	aa := blocklist.AcceptableAdsInUse(e.consumer)
	src := source.RemoteForAA(aa)

	placeholder, err := blocklist.New(aa, src, "", nil, e.initiator)
	if err != nil {
		return nil, fmt.Errorf("failed to create block list: %w", err)
	}

	counter, err := e.deps.Models.LoadCounter(false)
	if err != nil {
		return nil, fmt.Errorf("failed to load download counter: %w", err)
	}

	sessionCtx, cancel := context.WithCancel(ctx)

	sess := &session{cancel: cancel}

	var wg errgroup.Group

	for _, blst := range []blocklist.BlockList{placeholder} {
		t := &task{list: blst, stream: newTaskStream()}
		sess.tasks = append(sess.tasks, t)

		wg.Go(func() error {
			return e.download(sessionCtx, t, counter)
		})
	}

	logger := logctx.LoggerFromContext(ctx)

	go func() {
		if err := wg.Wait(); err != nil {
			// Terminal errors are already on the task streams.
			logger.Debug("download session finished with errors", "err", err)
		}
	}()

	e.session = sess

	out := make(chan Event)
	go concatStreams(sess.tasks, out)

	return out, nil
}

// download runs one task to its terminal event. It always publishes a
// terminal event, including on cancellation.
func (e *Engine) download(ctx context.Context, t *task, counter blocklist.DownloadCounter) error {
	logger := logctx.LoggerFromContext(ctx).With("filter_list", t.list.Name, "source", t.list.Source.Encode())
	start := time.Now()

	e.deps.Telemetry.IncrementActiveDownloads()
	defer e.deps.Telemetry.DecrementActiveDownloads()

	fail := func(err error) error {
		logger.Error("failed to download filter list", "err", err)
		e.deps.Telemetry.RecordDownload("failed", time.Since(start), 0)
		t.stream.publish(Event{FilterListName: t.list.Name, Err: err})

		return err
	}

	rawURL, err := e.deps.SourceURL(t.list.Source)
	if err != nil {
		return fail(fmt.Errorf("failed to resolve source: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fail(fmt.Errorf("failed to build request: %w", err))
	}

	req.URL.RawQuery = e.deps.Identity.QueryValues(
		e.consumerVersion(),
		counter.StringForRequest(e.deps.CounterMax),
	).Encode()

	resp, err := e.deps.Client.Do(req)
	if err != nil {
		return fail(fmt.Errorf("failed to fetch filter list: %w", err))
	}

	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fail(&InvalidResponseError{StatusCode: resp.StatusCode, URL: rawURL})
	}

	tmp, err := os.CreateTemp(e.deps.ContainerDir, t.list.Name+"-*.tmp")
	if err != nil {
		return fail(fmt.Errorf("failed to create temp file: %w", err))
	}

	pr := progress.NewReader(resp.Body, resp.ContentLength, progressInterval, func(written, total int64) {
		logger.Debug("download progress",
			"downloaded", humanize.Bytes(uint64(written)),
			"total", humanize.Bytes(uint64(max(total, 0))))

		t.stream.publish(Event{FilterListName: t.list.Name, TotalBytesWritten: written})
	})

	_, copyErr := io.Copy(tmp, pr)

	if err := tmp.Close(); copyErr == nil {
		copyErr = err
	}

	if copyErr != nil {
		os.Remove(tmp.Name())

		return fail(fmt.Errorf("failed to write filter list: %w", copyErr))
	}

	if err := e.finalize(t, tmp.Name(), resp); err != nil {
		os.Remove(tmp.Name())

		return fail(err)
	}

	logger.Info("downloaded filter list", "size", humanize.Bytes(uint64(pr.Written())), "took", time.Since(start))
	e.deps.Telemetry.RecordDownload("success", time.Since(start), pr.Written())

	t.stream.publish(Event{
		FilterListName:       t.list.Name,
		DidFinishDownloading: true,
		TotalBytesWritten:    pr.Written(),
	})

	return nil
}

// finalize moves the temp file into the container, stamps the download date
// and appends the finished list to the consumer downloads.
func (e *Engine) finalize(t *task, tmpPath string, resp *http.Response) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	target := filepath.Join(e.deps.ContainerDir, t.list.Filename())
	if err := os.Rename(tmpPath, target); err != nil {
		return fmt.Errorf("failed to move filter list into container: %w", err)
	}

	version := time.Now().UTC()
	if served, err := http.ParseTime(resp.Header.Get("Date")); err == nil {
		version = served.UTC()
	}

	finished := t.list.WithDateDownload(time.Now())
	t.list = finished

	switch c := e.consumer.(type) {
	case blocklist.User:
		u := c.DownloadAdded(finished).WithLastVersion(version.Format(versionTimeFormat))
		if err := e.deps.Models.SaveUser(u); err != nil {
			return fmt.Errorf("failed to save user state: %w", err)
		}

		e.consumer = u
	case blocklist.Updater:
		u := c.DownloadAdded(finished).WithLastVersion(version.Format(versionTimeFormat))
		if err := e.deps.Models.SaveUpdater(u); err != nil {
			return fmt.Errorf("failed to save updater state: %w", err)
		}

		e.consumer = u
	}

	if err := e.deps.Models.IncrementDownloadCount(false); err != nil {
		return fmt.Errorf("failed to increment download counter: %w", err)
	}

	return nil
}

func (e *Engine) consumerVersion() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.consumer.Version()
}

// SessionInvalidate tears the session down all or nothing. A task without a
// terminal event means the caller invalidated too early.
func (e *Engine) SessionInvalidate() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.sessionInvalidateLocked()
}

func (e *Engine) sessionInvalidateLocked() error {
	if e.session == nil {
		return nil
	}

	for _, t := range e.session.tasks {
		last, ok := t.stream.last()
		if !ok || !last.Terminal() {
			return ErrIncompleteSourceDownload
		}
	}

	e.session.cancel()
	e.session = nil

	return nil
}

// AfterDownloads drains the session stream, requires every task to have
// finished downloading, invalidates the session and returns the consumer
// snapshot carrying the new downloads.
func (e *Engine) AfterDownloads(initiator blocklist.Initiator, stream <-chan Event) (blocklist.Consumer, error) {
	if initiator != e.initiator {
		return nil, ErrBadInitiator
	}

	last := make(map[string]Event)
	order := make([]string, 0, 1)

	for ev := range stream {
		if _, seen := last[ev.FilterListName]; !seen {
			order = append(order, ev.FilterListName)
		}

		last[ev.FilterListName] = ev
	}

	for _, name := range order {
		ev := last[name]
		if ev.Err != nil {
			return nil, fmt.Errorf("download of %s failed: %w", name, ev.Err)
		}

		if !ev.DidFinishDownloading {
			return nil, ErrIncompleteSourceDownload
		}
	}

	if err := e.SessionInvalidate(); err != nil {
		return nil, err
	}

	return e.Consumer(), nil
}
