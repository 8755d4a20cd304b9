// Package blocklist holds the value model for a user's content blocking
// state: the active block list, download history and the global download
// counter. Values are copy-on-write; every mutator returns a new value and
// nothing is shared across async boundaries.
package blocklist

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/indo-san/WKWebView/internal/source"
)

var (
	ErrAcceptableAdsMismatch = errors.New("blocklist: acceptable ads state mismatch")
	ErrFailedUpdateData      = errors.New("blocklist: failed to update state")
	ErrBadDownloads          = errors.New("blocklist: bad downloads")
)

// Pruning bounds. The maxima are eventual consistency targets: a session in
// flight may briefly exceed them until the next sync call.
const (
	UserDownloadsMax    = 5
	UpdaterDownloadsMax = 5
	UserHistoryMax      = 5
	DownloadCounterMax  = 4
)

// DefaultExpiration is the age after which a downloaded list is stale.
const DefaultExpiration = 24 * time.Hour

// Initiator records why a download was started.
type Initiator string

const (
	UserAction         Initiator = "userAction"
	AutomaticUpdate    Initiator = "automaticUpdate"
	RepurposedExisting Initiator = "repurposedExisting"
)

// RulesExtension is appended to a list name to form its on-disk filename.
const RulesExtension = ".json"

// BlockList is a named rule list tied to a source. A nil DateDownload marks a
// placeholder created at task-creation time, before any file landed on disk.
type BlockList struct {
	Name         string
	Source       source.Source
	DateDownload *time.Time
	Initiator    Initiator
}

// New validates the declared acceptable ads flag against the source
// classification. Name defaults to a random identifier when empty.
func New(withAcceptableAds bool, src source.Source, name string, dateDownload *time.Time, initiator Initiator) (BlockList, error) {
	if src.HasAcceptableAds() != withAcceptableAds {
		return BlockList{}, ErrAcceptableAdsMismatch
	}

	if name == "" {
		name = uuid.NewString()
	}

	return BlockList{
		Name:         name,
		Source:       src,
		DateDownload: dateDownload,
		Initiator:    initiator,
	}, nil
}

// Equal compares by name only, matching the identity contract.
func (b BlockList) Equal(other BlockList) bool {
	return b.Name == other.Name
}

// Filename is the canonical on-disk name for the list's rules.
func (b BlockList) Filename() string {
	return b.Name + RulesExtension
}

// IsExpired is true for placeholders and for downloads older than expiration.
func (b BlockList) IsExpired(expiration time.Duration) bool {
	if b.DateDownload == nil {
		return true
	}

	return time.Since(*b.DateDownload) > expiration
}

// WithDateDownload returns a copy with a concrete download date.
func (b BlockList) WithDateDownload(t time.Time) BlockList {
	copied := b
	copied.DateDownload = &t

	return copied
}

type blockListJSON struct {
	Name         string     `json:"name"`
	Source       string     `json:"source"`
	DateDownload *time.Time `json:"dateDownload"`
	Initiator    Initiator  `json:"initiator"`
}

func (b BlockList) MarshalJSON() ([]byte, error) {
	return json.Marshal(blockListJSON{
		Name:         b.Name,
		Source:       b.Source.Encode(),
		DateDownload: b.DateDownload,
		Initiator:    b.Initiator,
	})
}

func (b *BlockList) UnmarshalJSON(data []byte) error {
	var raw blockListJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	src, err := source.Decode(raw.Source)
	if err != nil {
		return err
	}

	b.Name = raw.Name
	b.Source = src
	b.DateDownload = raw.DateDownload
	b.Initiator = raw.Initiator

	return nil
}
