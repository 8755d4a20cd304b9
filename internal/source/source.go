// Package source enumerates block list sources and their acceptable ads
// classification. A source identifies where a rule list's raw content comes
// from: a bundled file, a remote URL, a testing bundle or a locally generated
// whitelist. The compact "type/label" string form is used for persistence.
package source

import (
	"errors"
	"fmt"
	"strings"
)

var ErrFailedDecoding = errors.New("source: failed decoding")

// Type discriminates where the rule content originates.
type Type string

const (
	Bundled        Type = "bundled"
	Remote         Type = "remote"
	BundledTesting Type = "bundled-testing"
	UserWhitelist  Type = "user-whitelist-locally-generated"
)

const (
	labelEasylist               = "easylist"
	labelEasylistPlusExceptions = "easylistPlusExceptions"
	labelTestEasylist           = "test-easylist"
	labelTestPlusExceptions     = "test-easylistPlusExceptions"
	labelAANotApplicable        = "aa-na"

	sep = "/"
)

// Source is immutable once constructed. Two sources are equal iff they have
// the same type and label, which Go's == gives us directly.
type Source struct {
	Type  Type
	Label string
}

var (
	BundledEasylist       = Source{Bundled, labelEasylist}
	BundledPlusExceptions = Source{Bundled, labelEasylistPlusExceptions}
	RemoteEasylist        = Source{Remote, labelEasylist}
	RemotePlusExceptions  = Source{Remote, labelEasylistPlusExceptions}
	TestingEasylist       = Source{BundledTesting, labelTestEasylist}
	TestingPlusExceptions = Source{BundledTesting, labelTestPlusExceptions}
	WhitelistLocal        = Source{UserWhitelist, labelAANotApplicable}
)

// rawIdentifiers maps each known source to its canonical raw identifier, a
// bundle filename or a download URL.
var rawIdentifiers = map[Source]string{
	BundledEasylist:       "easylist_content_blocker.json",
	BundledPlusExceptions: "easylist+exceptionrules_content_blocker.json",
	RemoteEasylist:        "https://easylist-downloads.adblockplus.org/easylist_min_content_blocker.json",
	RemotePlusExceptions:  "https://easylist-downloads.adblockplus.org/easylist_min+exceptionrules_content_blocker.json",
	TestingEasylist:       "test-easylist_content_blocker.json",
	TestingPlusExceptions: "test-v1-easylist-short.json",
	WhitelistLocal:        "locallyGenerated",
}

// All returns every source known to the registry.
func All() []Source {
	return []Source{
		BundledEasylist, BundledPlusExceptions,
		RemoteEasylist, RemotePlusExceptions,
		TestingEasylist, TestingPlusExceptions,
		WhitelistLocal,
	}
}

func (s Source) IsZero() bool {
	return s.Type == "" && s.Label == ""
}

// Raw returns the canonical raw identifier (filename or URL).
func (s Source) Raw() (string, error) {
	raw, ok := rawIdentifiers[s]
	if !ok {
		return "", fmt.Errorf("source: no raw identifier for %s", s.Encode())
	}

	return raw, nil
}

// HasAcceptableAds reports the acceptable ads classification of the source.
// The whitelist source carries no AA state and reports false.
func (s Source) HasAcceptableAds() bool {
	switch s.Label {
	case labelEasylistPlusExceptions, labelTestPlusExceptions:
		return true
	default:
		return false
	}
}

func (s Source) IsRemote() bool {
	return s.Type == Remote
}

func (s Source) IsBundled() bool {
	return s.Type == Bundled
}

// Encode produces the compact string form used for persistence.
func (s Source) Encode() string {
	return string(s.Type) + sep + s.Label
}

// Decode parses the compact string form back into a registry source.
func Decode(enc string) (Source, error) {
	parts := strings.SplitN(enc, sep, 2)
	if len(parts) != 2 {
		return Source{}, ErrFailedDecoding
	}

	src := Source{Type: Type(parts[0]), Label: parts[1]}
	if _, ok := rawIdentifiers[src]; !ok {
		return Source{}, ErrFailedDecoding
	}

	return src, nil
}

// RemoteForAA returns the remote source for a given acceptable ads state.
func RemoteForAA(aa bool) Source {
	if aa {
		return RemotePlusExceptions
	}

	return RemoteEasylist
}

// BundledForAA returns the bundled source for a given acceptable ads state.
func BundledForAA(aa bool) Source {
	if aa {
		return BundledPlusExceptions
	}

	return BundledEasylist
}

// Match reports whether two sources identify the same registry entry.
func Match(a, b Source) bool {
	return a == b && !a.IsZero()
}
