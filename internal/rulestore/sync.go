package rulestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/indo-san/WKWebView/internal/blocklist"
	"github.com/indo-san/WKWebView/internal/logctx"
)

// SyncTarget selects which user state the store is reconciled against.
type SyncTarget int

const (
	// TargetUserBlocklist keeps only the active block list compiled.
	TargetUserBlocklist SyncTarget = iota
	// TargetUserBlocklistAndHistory keeps the active list and the user's
	// history so previously used lists need no recompilation.
	TargetUserBlocklistAndHistory
)

// SyncHistoryRemovers removes every identifier in the store that is not in
// the kept set for the target. This is meant to run after rules have been
// loaded, so the store always serves the history in the user state.
//
// The result carries one entry per removal; a tolerated failure (identifier
// already absent) contributes an empty string to keep the chain continuous.
// An empty removal set short-circuits to a single empty entry.
func SyncHistoryRemovers(ctx context.Context, store RuleStore, target SyncTarget, user blocklist.User) ([]string, error) {
	logger := logctx.LoggerFromContext(ctx)

	kept := map[string]bool{}

	if blst := user.ActiveBlockList(); blst != nil {
		kept[blst.Name] = true
	}

	if target == TargetUserBlocklistAndHistory {
		for _, blst := range user.History() {
			kept[blst.Name] = true
		}
	}

	ids, err := store.Identifiers(ctx)
	if err != nil {
		return nil, fmt.Errorf("rulestore: listing identifiers: %w", err)
	}

	var removed []string

	for _, id := range ids {
		if kept[id] {
			continue
		}

		if err := store.Remove(ctx, id); err != nil {
			if errors.Is(err, ErrRemoveFailed) {
				logger.Warn("rule list already absent during sync", "identifier", id)
				removed = append(removed, "")

				continue
			}

			return nil, fmt.Errorf("rulestore: removing %s: %w", id, err)
		}

		removed = append(removed, id)
	}

	if len(removed) == 0 {
		return []string{""}, nil
	}

	return removed, nil
}

// Verified checks an activated rule list against the user's intended active
// list: the identifiers must match and the identifier must be known to the
// store. This verifies user state against the store, not rule syntax.
func Verified(ctx context.Context, store RuleStore, intended *blocklist.BlockList, compiled CompiledList) (CompiledList, error) {
	if intended == nil {
		return CompiledList{}, ErrInvalidRuleData
	}

	if intended.Name != compiled.Identifier {
		return CompiledList{}, ErrInvalidRuleData
	}

	ids, err := store.Identifiers(ctx)
	if err != nil {
		return CompiledList{}, err
	}

	for _, id := range ids {
		if id == intended.Name {
			return compiled, nil
		}
	}

	return CompiledList{}, ErrInvalidRuleData
}
