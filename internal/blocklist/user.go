package blocklist

import (
	"github.com/google/uuid"

	"github.com/indo-san/WKWebView/internal/source"
)

// User state has one active BlockList. It may be a copy from a cache
// collection. BlockListHistory is synced against the compiled rule store;
// Downloads is synced against local storage.
type User struct {
	Name               string      `json:"name"`
	BlockList          *BlockList  `json:"blockList"`
	BlockListHistory   []BlockList `json:"blockListHistory"`
	Downloads          []BlockList `json:"downloads"`
	LastVersion        string      `json:"lastVersion"`
	WhitelistedDomains []string    `json:"whitelistedDomains"`
}

// NewUser returns the default user state: acceptable ads on, remote easylist
// plus exceptions as the active (not yet downloaded) list.
func NewUser() (User, error) {
	blst, err := New(true, source.RemotePlusExceptions, "", nil, UserAction)
	if err != nil {
		return User{}, err
	}

	return User{
		Name:               uuid.NewString(),
		BlockList:          &blst,
		BlockListHistory:   []BlockList{},
		Downloads:          []BlockList{},
		WhitelistedDomains: []string{},
		LastVersion:        "0",
	}, nil
}

func (u User) ConsumerName() string        { return u.Name }
func (u User) ActiveBlockList() *BlockList { return u.BlockList }
func (u User) DownloadList() []BlockList   { return u.Downloads }
func (u User) Version() string             { return u.LastVersion }

// AcceptableAdsInUse derives the AA state from the active list source.
func (u User) AcceptableAdsInUse() bool {
	return AcceptableAdsInUse(u)
}

// History excludes placeholder entries and orders newest first. Placeholders
// are never added to the rule store, so they have no business in history.
func (u User) History() []BlockList {
	concrete := make([]BlockList, 0, len(u.BlockListHistory))

	for _, blst := range u.BlockListHistory {
		if blst.DateDownload != nil {
			concrete = append(concrete, blst)
		}
	}

	return SortedDownloads(concrete)
}

// WithBlockList returns a copy with the active list replaced.
func (u User) WithBlockList(blst BlockList) User {
	copied := u
	copied.BlockList = &blst

	return copied
}

// WithWhitelistedDomains returns a copy with the white list replaced.
func (u User) WithWhitelistedDomains(domains []string) User {
	copied := u
	copied.WhitelistedDomains = domains

	return copied
}

// WithLastVersion returns a copy with the last downloaded version replaced.
func (u User) WithLastVersion(version string) User {
	copied := u
	copied.LastVersion = version

	return copied
}

// DownloadAdded returns a copy with the list appended to downloads.
func (u User) DownloadAdded(blst BlockList) User {
	copied := u
	copied.Downloads = append(append([]BlockList{}, u.Downloads...), blst)

	return copied
}

// DownloadsUpdated prunes downloads to max, evicting the oldest appended
// first. The active block list is not included.
func (u User) DownloadsUpdated(max int) User {
	copied := u
	copied.Downloads = PrunedHistory(max, u.Downloads)

	return copied
}

// HistoryUpdated adds the current block list to history while pruning. It
// should be called when changing the user's rule list; the active list is
// always retained in the history.
func (u User) HistoryUpdated(max int) (User, error) {
	if u.BlockList == nil {
		return User{}, ErrFailedUpdateData
	}

	copied := u

	present := false
	for _, blst := range copied.BlockListHistory {
		if blst.Name == u.BlockList.Name {
			present = true
			break
		}
	}

	if present {
		copied.BlockListHistory = PrunedHistory(max, copied.BlockListHistory)
	} else {
		copied.BlockListHistory = PrunedHistory(max, append(PrunedHistory(max, copied.BlockListHistory), *u.BlockList))
	}

	return copied, nil
}

// BlockListNamed finds the single list with the given name in lists. More or
// fewer than exactly one match indicates inconsistent state.
func BlockListNamed(name string, lists []BlockList) (BlockList, error) {
	var found []BlockList

	for _, blst := range lists {
		if blst.Name == name {
			found = append(found, blst)
		}
	}

	if len(found) != 1 {
		return BlockList{}, ErrBadDownloads
	}

	return found[0], nil
}
