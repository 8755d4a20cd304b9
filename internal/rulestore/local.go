package rulestore

import (
	"context"
	"encoding/json"
	"time"
)

// blockingRule is the minimal shape a compiled rule must carry.
type blockingRule struct {
	Trigger map[string]any `json:"trigger"`
	Action  map[string]any `json:"action"`
}

// LocalStore compiles and stores rule lists in process. All operations are
// funneled through a single dispatch goroutine: the underlying engine's
// compile entry point is not thread safe and requires a serialized caller,
// even though completions may fire elsewhere.
type LocalStore struct {
	requests chan func(map[string]CompiledList)
	closed   chan struct{}
}

func NewLocalStore() *LocalStore {
	s := &LocalStore{
		requests: make(chan func(map[string]CompiledList)),
		closed:   make(chan struct{}),
	}

	go s.dispatch()

	return s
}

func (s *LocalStore) dispatch() {
	lists := make(map[string]CompiledList)

	for {
		select {
		case req := <-s.requests:
			req(lists)
		case <-s.closed:
			return
		}
	}
}

// Close stops the dispatch loop. Any call after Close is a programmer error
// and fails with ErrNotOnDispatch.
func (s *LocalStore) Close() {
	close(s.closed)
}

func (s *LocalStore) run(ctx context.Context, req func(map[string]CompiledList)) error {
	done := make(chan struct{})

	wrapped := func(lists map[string]CompiledList) {
		req(lists)
		close(done)
	}

	select {
	case s.requests <- wrapped:
	case <-s.closed:
		return ErrNotOnDispatch
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Compile parses the encoded rule list and stores it under identifier,
// replacing any previous entry.
func (s *LocalStore) Compile(ctx context.Context, identifier, encodedRules string) (CompiledList, error) {
	var rules []blockingRule
	if err := json.Unmarshal([]byte(encodedRules), &rules); err != nil {
		return CompiledList{}, ErrInvalidRuleData
	}

	if len(rules) == 0 {
		return CompiledList{}, ErrInvalidRuleData
	}

	for _, rule := range rules {
		if len(rule.Trigger) == 0 || len(rule.Action) == 0 {
			return CompiledList{}, ErrInvalidRuleData
		}
	}

	compiled := CompiledList{
		Identifier: identifier,
		RuleCount:  len(rules),
		CompiledAt: time.Now(),
	}

	err := s.run(ctx, func(lists map[string]CompiledList) {
		lists[identifier] = compiled
	})
	if err != nil {
		return CompiledList{}, err
	}

	return compiled, nil
}

func (s *LocalStore) Lookup(ctx context.Context, identifier string) (*CompiledList, error) {
	var found *CompiledList

	err := s.run(ctx, func(lists map[string]CompiledList) {
		if compiled, ok := lists[identifier]; ok {
			found = &compiled
		}
	})
	if err != nil {
		return nil, err
	}

	if found == nil {
		return nil, ErrNotFound
	}

	return found, nil
}

func (s *LocalStore) Remove(ctx context.Context, identifier string) error {
	var missing bool

	err := s.run(ctx, func(lists map[string]CompiledList) {
		if _, ok := lists[identifier]; !ok {
			missing = true
			return
		}

		delete(lists, identifier)
	})
	if err != nil {
		return err
	}

	if missing {
		return ErrRemoveFailed
	}

	return nil
}

func (s *LocalStore) Identifiers(ctx context.Context) ([]string, error) {
	var ids []string

	err := s.run(ctx, func(lists map[string]CompiledList) {
		for id := range lists {
			ids = append(ids, id)
		}
	})
	if err != nil {
		return nil, err
	}

	return ids, nil
}
