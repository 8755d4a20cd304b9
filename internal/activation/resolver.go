package activation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/indo-san/WKWebView/internal/blocklist"
	"github.com/indo-san/WKWebView/internal/logctx"
	"github.com/indo-san/WKWebView/internal/rulestore"
	"github.com/indo-san/WKWebView/internal/telemetry"
)

var (
	// ErrNeedsDownload signals that no usable rule list exists yet and a
	// download session has to run first.
	ErrNeedsDownload = errors.New("activation: needs download")
	// ErrNothingToActivate signals a user without an active block list.
	ErrNothingToActivate = errors.New("activation: nothing to activate")
)

// Resolver decides which rule list a user activates and drives its
// compilation into the rule store.
type Resolver struct {
	store        rulestore.RuleStore
	containerDir string
	expiration   time.Duration

	retryTries    uint
	retryInterval time.Duration

	telemetry *telemetry.Telemetry
}

type Option func(*Resolver)

// WithCompileRetry retries a failed compile a fixed number of times with a
// fixed pause in between. Off by default.
func WithCompileRetry(tries uint, interval time.Duration) Option {
	return func(r *Resolver) {
		r.retryTries = tries
		r.retryInterval = interval
	}
}

// WithTelemetry reports store prune counts through the given instruments.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(r *Resolver) {
		r.telemetry = t
	}
}

func NewResolver(store rulestore.RuleStore, containerDir string, expiration time.Duration, opts ...Option) *Resolver {
	r := &Resolver{
		store:        store,
		containerDir: containerDir,
		expiration:   expiration,
		telemetry:    &telemetry.Telemetry{},
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Resolve picks the user's next active rule list. An eligible automatic
// update download is promoted into the active slot; otherwise a history
// match is reused. Compilation happens only when forceCompile is set. When
// the remote source was never downloaded, ErrNeedsDownload is returned.
func (r *Resolver) Resolve(ctx context.Context, user blocklist.User, updater blocklist.Updater, forceCompile bool) (blocklist.User, error) {
	logger := logctx.LoggerFromContext(ctx)

	if candidate := MatchUserBlockList(TargetAutomaticUpdate, r.expiration)(user, updater); candidate != nil {
		logger.Debug("promoting automatic update download", "filter_list", candidate.Name)

		next := user.DownloadAdded(*candidate).WithBlockList(*candidate)
		if !forceCompile {
			return next, nil
		}

		return r.Activate(ctx, next)
	}

	if candidate := MatchUserBlockList(TargetUserHistory, r.expiration)(user, updater); candidate != nil {
		logger.Debug("reusing rule list from history", "filter_list", candidate.Name)

		next := user.WithBlockList(*candidate)
		if !forceCompile {
			return next, nil
		}

		return r.Activate(ctx, next)
	}

	return user, ErrNeedsDownload
}

// Activate compiles and verifies the user's active rule list. On the first
// compile or verify failure it retries exactly once from a history match;
// the second failure surfaces.
func (r *Resolver) Activate(ctx context.Context, user blocklist.User) (blocklist.User, error) {
	active := user.ActiveBlockList()
	if active == nil {
		return blocklist.User{}, ErrNothingToActivate
	}

	logger := logctx.LoggerFromContext(ctx)

	err := r.compileAndVerify(ctx, user, *active)
	if err == nil {
		return user, r.pruneStore(ctx, user)
	}

	logger.Warn("activation failed, falling back to history", "filter_list", active.Name, "err", err)

	fallback := MatchUserBlockList(TargetUserHistory, r.expiration)(user, blocklist.Updater{})
	if fallback == nil || fallback.Equal(*active) {
		return blocklist.User{}, err
	}

	retried := user.WithBlockList(*fallback)
	if err := r.compileAndVerify(ctx, retried, *fallback); err != nil {
		return blocklist.User{}, err
	}

	return retried, r.pruneStore(ctx, retried)
}

// pruneStore drops compiled lists neither active nor in history, so the
// store never grows past what the user state can reach.
func (r *Resolver) pruneStore(ctx context.Context, user blocklist.User) error {
	removed, err := rulestore.SyncHistoryRemovers(ctx, r.store, rulestore.TargetUserBlocklistAndHistory, user)
	if err != nil {
		return err
	}

	count := 0

	for _, id := range removed {
		if id != "" {
			count++
		}
	}

	if count > 0 {
		logctx.LoggerFromContext(ctx).Debug("pruned compiled rule lists", "count", count)
		r.telemetry.RecordStoreRemovals(count)
	}

	return nil
}

func (r *Resolver) compileAndVerify(ctx context.Context, user blocklist.User, blst blocklist.BlockList) error {
	data, err := os.ReadFile(filepath.Join(r.containerDir, blst.Filename()))
	if err != nil {
		return fmt.Errorf("failed to read rule file: %w", err)
	}

	rules, err := withWhitelistRule(data, user.WhitelistedDomains)
	if err != nil {
		return err
	}

	compiled, err := r.compile(ctx, blst.Name, rules)
	if err != nil {
		return err
	}

	if _, err := rulestore.Verified(ctx, r.store, &blst, compiled); err != nil {
		return err
	}

	return nil
}

func (r *Resolver) compile(ctx context.Context, identifier, rules string) (rulestore.CompiledList, error) {
	if r.retryTries == 0 {
		return r.store.Compile(ctx, identifier, rules)
	}

	return backoff.Retry(ctx, func() (rulestore.CompiledList, error) {
		return r.store.Compile(ctx, identifier, rules)
	}, backoff.WithBackOff(backoff.NewConstantBackOff(r.retryInterval)), backoff.WithMaxTries(r.retryTries))
}

type whitelistRule struct {
	Trigger struct {
		URLFilter string   `json:"url-filter"`
		IfDomain  []string `json:"if-domain"`
	} `json:"trigger"`
	Action struct {
		Type string `json:"type"`
	} `json:"action"`
}

// withWhitelistRule appends an ignore-previous-rules rule covering the
// user's whitelisted domains. Domains are prefixed with "*" so subdomains
// match too.
func withWhitelistRule(data []byte, domains []string) (string, error) {
	if len(domains) == 0 {
		return string(data), nil
	}

	var rules []json.RawMessage
	if err := json.Unmarshal(data, &rules); err != nil {
		return "", fmt.Errorf("failed to parse rule file: %w", err)
	}

	var rule whitelistRule
	rule.Trigger.URLFilter = ".*"
	rule.Action.Type = "ignore-previous-rules"

	for _, domain := range domains {
		rule.Trigger.IfDomain = append(rule.Trigger.IfDomain, "*"+domain)
	}

	raw, err := json.Marshal(rule)
	if err != nil {
		return "", fmt.Errorf("failed to render whitelist rule: %w", err)
	}

	combined, err := json.Marshal(append(rules, raw))
	if err != nil {
		return "", fmt.Errorf("failed to render rule list: %w", err)
	}

	return string(combined), nil
}
