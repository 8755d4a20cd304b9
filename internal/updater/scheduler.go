package updater

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/indo-san/WKWebView/internal/blocklist"
	"github.com/indo-san/WKWebView/internal/downloader"
	"github.com/indo-san/WKWebView/internal/logctx"
	"github.com/indo-san/WKWebView/internal/rulestore"
	"github.com/indo-san/WKWebView/internal/state"
	"github.com/indo-san/WKWebView/internal/telemetry"
)

// ErrAlreadyStarted signals a second Start on a running scheduler.
var ErrAlreadyStarted = errors.New("updater: scheduler already started")

// Deps carries the collaborators of a Scheduler.
type Deps struct {
	Models    *state.Models
	Telemetry *telemetry.Telemetry

	// Expiration is the staleness threshold for automatic downloads.
	Expiration time.Duration
	// Period is the check interval, usually a small fraction of Expiration.
	Period time.Duration

	// NewEngine builds a download engine for one automatic update session.
	NewEngine func(consumer blocklist.Updater) (*downloader.Engine, error)

	// UserForUpdate yields the user snapshot driving the expiration check.
	// Defaults to the persisted user.
	UserForUpdate func() (blocklist.User, error)
}

// Scheduler periodically checks whether the user's rules went stale and
// downloads a fresh list on the updater's behalf. It never touches the
// user's active rule list. Once shut down or failed it stays down; updating
// again means constructing a new scheduler.
type Scheduler struct {
	deps Deps

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc

	done chan struct{}
	err  error
}

func New(deps Deps) *Scheduler {
	if deps.Telemetry == nil {
		deps.Telemetry = &telemetry.Telemetry{}
	}

	if deps.Expiration <= 0 {
		deps.Expiration = blocklist.DefaultExpiration
	}

	if deps.Period <= 0 {
		deps.Period = deps.Expiration / 4320
	}

	if deps.UserForUpdate == nil {
		deps.UserForUpdate = deps.Models.LoadUserOrNew
	}

	return &Scheduler{
		deps: deps,
		done: make(chan struct{}),
	}
}

// Start begins the periodic update checks. Calling Start on a running or
// finished scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}

	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go s.run(runCtx)
}

// Shutdown stops the ticker. It does not wait for an in-flight tick.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
}

// Done is closed once the scheduler has stopped, whether by Shutdown,
// context cancellation or a fatal tick error.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// Err reports the fatal error that stopped the scheduler, if any.
func (s *Scheduler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.err
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	logger := logctx.LoggerFromContext(ctx)

	logger.Info("starting automatic update checks", "period", s.deps.Period, "expiration", s.deps.Expiration)

	ticker := time.NewTicker(s.deps.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down automatic updates")

			return
		case <-ticker.C:
			err := s.tick(ctx)
			if err == nil {
				continue
			}

			if errors.Is(err, rulestore.ErrRemoveFailed) {
				logger.Warn("tolerated removal failure during update", "err", err)

				continue
			}

			logger.Error("automatic update failed, stopping scheduler", "err", err)
			s.deps.Telemetry.RecordUpdateTick("failed")

			s.mu.Lock()
			s.err = err
			s.mu.Unlock()

			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	user, err := s.deps.UserForUpdate()
	if err != nil {
		return fmt.Errorf("failed to load user for update: %w", err)
	}

	updaterState, err := s.deps.Models.LoadUpdater()
	if err != nil {
		return fmt.Errorf("failed to load updater state: %w", err)
	}

	if !s.shouldUpdate(user, updaterState) {
		s.deps.Telemetry.RecordUpdateTick("skipped")

		return nil
	}

	if active := user.ActiveBlockList(); active != nil {
		updaterState = updaterState.WithBlockList(*active)
	}

	engine, err := s.deps.NewEngine(updaterState)
	if err != nil {
		return fmt.Errorf("failed to build update engine: %w", err)
	}

	stream, err := engine.StartDownloads(ctx)
	if err != nil {
		return fmt.Errorf("failed to start update downloads: %w", err)
	}

	snapshot, err := engine.AfterDownloads(blocklist.AutomaticUpdate, stream)
	if err != nil {
		return fmt.Errorf("update download failed: %w", err)
	}

	if _, err := engine.SyncDownloads(ctx, snapshot, blocklist.AutomaticUpdate); err != nil {
		return fmt.Errorf("failed to synchronize update downloads: %w", err)
	}

	logger.Info("automatic update completed")
	s.deps.Telemetry.RecordUpdateTick("updated")

	return nil
}

// shouldUpdate is true once the newest automatic download, or failing that
// the user's active list, has aged past expiration.
func (s *Scheduler) shouldUpdate(user blocklist.User, updaterState blocklist.Updater) bool {
	var newest *time.Time

	if sorted := blocklist.SortedDownloads(updaterState.Downloads); len(sorted) > 0 {
		newest = sorted[0].DateDownload
	}

	if newest == nil {
		if active := user.ActiveBlockList(); active != nil {
			newest = active.DateDownload
		}
	}

	if newest == nil {
		return true
	}

	return time.Since(*newest) > s.deps.Expiration
}
