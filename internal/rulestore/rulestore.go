// Package rulestore abstracts the content blocking engine's compiled rule
// list store. Compiled lists are addressed by identifier; the store is
// reconciled against a user's history so no orphaned entries remain.
package rulestore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrRemoveFailed reports a removal of an identifier the store no longer
	// has. It is the one tolerated store failure; subsequent syncs account
	// for anything not previously removed.
	ErrRemoveFailed = errors.New("rulestore: remove failed")

	// ErrInvalidRuleData reports rules that can't be compiled, or an
	// activated list that doesn't match the intended identifier.
	ErrInvalidRuleData = errors.New("rulestore: invalid rule data")

	// ErrNotOnDispatch reports use of a store whose dispatch loop is gone.
	// This is a logic error in the caller, not a runtime condition.
	ErrNotOnDispatch = errors.New("rulestore: not on dispatch loop")

	ErrNotFound = errors.New("rulestore: rule list not found")
)

// CompiledList is the engine-side handle for a compiled rule list.
type CompiledList struct {
	Identifier string
	RuleCount  int
	CompiledAt time.Time
}

// RuleStore is the collaborator interface the core consumes. Remove is
// idempotent in effect; an already absent identifier yields ErrRemoveFailed
// which callers treat as success.
type RuleStore interface {
	Compile(ctx context.Context, identifier, encodedRules string) (CompiledList, error)
	Lookup(ctx context.Context, identifier string) (*CompiledList, error)
	Remove(ctx context.Context, identifier string) error
	Identifiers(ctx context.Context) ([]string, error)
}
