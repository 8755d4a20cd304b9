// Package state persists model snapshots under fixed keys. The store is a
// namespaced key/value map with last-writer-wins semantics; only one User and
// one Updater snapshot exist at a time.
package state

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/indo-san/WKWebView/internal/blocklist"
)

// ErrNotFound reports a missing key.
var ErrNotFound = errors.New("state: not found")

// Persisted state layout. LegacyFilterLists is reserved for data written by
// older installations and only ever cleared.
const (
	KeyUser                   = "user"
	KeyUpdater                = "updater"
	KeyDownloadCounter        = blocklist.CounterDefaultLabel
	KeyDownloadCounterTesting = blocklist.CounterTestingLabel
	KeyLegacyFilterLists      = "legacy-filter-lists"
)

// Store is a keyed blob store. Implementations must return ErrNotFound from
// Load for absent keys and treat Clear of an absent key as a no-op.
type Store interface {
	Save(key string, blob []byte) error
	Load(key string) ([]byte, error)
	Clear(key string) error
	Close() error
}

// Models wraps a Store with the snapshot encode/decode for each model type.
type Models struct {
	store Store
}

func NewModels(store Store) *Models {
	return &Models{store: store}
}

func (m *Models) SaveUser(user blocklist.User) error {
	return m.save(KeyUser, user)
}

// LoadUser returns ErrNotFound when no user was ever persisted.
func (m *Models) LoadUser() (blocklist.User, error) {
	var user blocklist.User
	if err := m.load(KeyUser, &user); err != nil {
		return blocklist.User{}, err
	}

	return user, nil
}

// LoadUserOrNew falls back to a fresh default user.
func (m *Models) LoadUserOrNew() (blocklist.User, error) {
	user, err := m.LoadUser()
	if err == nil {
		return user, nil
	}

	if !errors.Is(err, ErrNotFound) {
		return blocklist.User{}, err
	}

	return blocklist.NewUser()
}

func (m *Models) SaveUpdater(updater blocklist.Updater) error {
	return m.save(KeyUpdater, updater)
}

// LoadUpdater initializes and saves a default updater when none exists yet.
func (m *Models) LoadUpdater() (blocklist.Updater, error) {
	var updater blocklist.Updater

	err := m.load(KeyUpdater, &updater)
	if err == nil {
		return updater, nil
	}

	if !errors.Is(err, ErrNotFound) {
		return blocklist.Updater{}, err
	}

	updater, err = blocklist.NewUpdater()
	if err != nil {
		return blocklist.Updater{}, err
	}

	if err := m.SaveUpdater(updater); err != nil {
		return blocklist.Updater{}, err
	}

	return updater, nil
}

func (m *Models) SaveCounter(ctr blocklist.DownloadCounter) error {
	return m.save(counterKey(ctr.Testing), ctr)
}

// LoadCounter returns a zeroed counter when none exists yet.
func (m *Models) LoadCounter(testing bool) (blocklist.DownloadCounter, error) {
	var ctr blocklist.DownloadCounter

	err := m.load(counterKey(testing), &ctr)
	if err == nil {
		ctr.Testing = testing
		return ctr, nil
	}

	if !errors.Is(err, ErrNotFound) {
		return blocklist.DownloadCounter{}, err
	}

	return blocklist.NewDownloadCounter(testing), nil
}

// IncrementDownloadCount advances the install-lifetime counter by one,
// creating it on first use.
func (m *Models) IncrementDownloadCount(testing bool) error {
	ctr, err := m.LoadCounter(testing)
	if err != nil {
		return err
	}

	return m.SaveCounter(ctr.Incremented())
}

// Reset clears every key in the persisted layout.
func (m *Models) Reset() error {
	keys := []string{
		KeyUser, KeyUpdater,
		KeyDownloadCounter, KeyDownloadCounterTesting,
		KeyLegacyFilterLists,
	}

	for _, key := range keys {
		if err := m.store.Clear(key); err != nil {
			return fmt.Errorf("state: clearing %s: %w", key, err)
		}
	}

	return nil
}

func (m *Models) save(key string, model any) error {
	blob, err := json.Marshal(model)
	if err != nil {
		return fmt.Errorf("state: encoding %s: %w", key, err)
	}

	return m.store.Save(key, blob)
}

func (m *Models) load(key string, model any) error {
	blob, err := m.store.Load(key)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(blob, model); err != nil {
		return fmt.Errorf("state: decoding %s: %w", key, err)
	}

	return nil
}

func counterKey(testing bool) string {
	if testing {
		return KeyDownloadCounterTesting
	}

	return KeyDownloadCounter
}
