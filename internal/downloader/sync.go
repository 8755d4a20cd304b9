package downloader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/indo-san/WKWebView/internal/blocklist"
	"github.com/indo-san/WKWebView/internal/logctx"
	"github.com/indo-san/WKWebView/internal/state"
)

// SyncDownloads prunes the consumer's download and history lists, persists
// the pruned snapshot and removes container files no retained list refers to.
// Removal of an already absent file is tolerated. The session is invalidated
// at the end, so the engine is ready for a fresh StartDownloads.
func (e *Engine) SyncDownloads(ctx context.Context, c blocklist.Consumer, initiator blocklist.Initiator) (blocklist.Consumer, error) {
	if initiator != e.initiator {
		return nil, ErrBadInitiator
	}

	pruned, keep, err := e.pruneAndSave(c, initiator)
	if err != nil {
		return nil, err
	}

	if err := e.removeFiles(ctx, keep); err != nil {
		return nil, err
	}

	if err := e.SessionInvalidate(); err != nil {
		return nil, err
	}

	return pruned, nil
}

// pruneAndSave applies the retention rules for the consumer kind and returns
// the pruned snapshot plus the set of container filenames still referenced.
func (e *Engine) pruneAndSave(c blocklist.Consumer, initiator blocklist.Initiator) (blocklist.Consumer, map[string]bool, error) {
	keep := make(map[string]bool)

	switch consumer := c.(type) {
	case blocklist.User:
		user := consumer.DownloadsUpdated(e.deps.DownloadsMax)

		if initiator == blocklist.UserAction {
			updated, err := user.HistoryUpdated(e.deps.HistoryMax)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to update history: %w", err)
			}

			user = updated
		}

		if err := e.deps.Models.SaveUser(user); err != nil {
			return nil, nil, fmt.Errorf("failed to save user state: %w", err)
		}

		for _, blst := range user.Downloads {
			keep[blst.Filename()] = true
		}

		for _, blst := range user.BlockListHistory {
			keep[blst.Filename()] = true
		}

		if active := user.ActiveBlockList(); active != nil {
			keep[active.Filename()] = true
		}

		e.setConsumer(user)

		return user, keep, nil
	case blocklist.Updater:
		updater := consumer.DownloadsUpdated(e.deps.DownloadsMax)

		if err := e.deps.Models.SaveUpdater(updater); err != nil {
			return nil, nil, fmt.Errorf("failed to save updater state: %w", err)
		}

		for _, blst := range updater.Downloads {
			keep[blst.Filename()] = true
		}

		// The user's active rules stay on disk no matter who synchronizes.
		user, err := e.deps.Models.LoadUser()
		if err != nil && !errors.Is(err, state.ErrNotFound) {
			return nil, nil, fmt.Errorf("failed to load user state: %w", err)
		}

		if err == nil {
			if active := user.ActiveBlockList(); active != nil {
				keep[active.Filename()] = true
			}

			for _, blst := range user.Downloads {
				keep[blst.Filename()] = true
			}
		}

		e.setConsumer(updater)

		return updater, keep, nil
	default:
		return nil, nil, ErrBadInitiator
	}
}

func (e *Engine) setConsumer(c blocklist.Consumer) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.consumer = c
}

// removeFiles deletes unreferenced rule files from the container once they
// age past the keep window. Files that vanished underneath us do not fail
// the sync.
func (e *Engine) removeFiles(ctx context.Context, keep map[string]bool) error {
	logger := logctx.LoggerFromContext(ctx)

	entries, err := os.ReadDir(e.deps.ContainerDir)
	if err != nil {
		return fmt.Errorf("failed to read container dir: %w", err)
	}

	keepWindow := time.Duration(float64(e.deps.Expiration) * e.deps.KeepFactor)
	cutoff := time.Now().Add(-keepWindow)
	removed := 0

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, blocklist.RulesExtension) || keep[name] {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}

			return fmt.Errorf("failed to stat %s: %w", name, err)
		}

		if info.ModTime().After(cutoff) {
			continue
		}

		if err := os.Remove(filepath.Join(e.deps.ContainerDir, name)); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				logger.Debug("rule file already removed", "file", name)

				continue
			}

			return fmt.Errorf("failed to remove %s: %w", name, err)
		}

		logger.Debug("removed stale rule file", "file", name)

		removed++
	}

	e.deps.Telemetry.RecordFileRemovals(removed)

	return nil
}
