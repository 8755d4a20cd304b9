package blocklist

import (
	"github.com/google/uuid"

	"github.com/indo-san/WKWebView/internal/source"
)

// Updater represents the state of the automatic updater. Its block list
// mirrors the user's active list so the right AA variant is fetched; the
// updater never owns the user's active slot.
type Updater struct {
	Name        string      `json:"name"`
	BlockList   *BlockList  `json:"blockList"`
	Downloads   []BlockList `json:"downloads"`
	LastVersion string      `json:"lastVersion"`
}

// NewUpdater returns the default updater state.
func NewUpdater() (Updater, error) {
	blst, err := New(true, source.RemotePlusExceptions, "", nil, AutomaticUpdate)
	if err != nil {
		return Updater{}, err
	}

	return Updater{
		Name:      uuid.NewString(),
		BlockList: &blst,
		Downloads: []BlockList{},
	}, nil
}

func (u Updater) ConsumerName() string        { return u.Name }
func (u Updater) ActiveBlockList() *BlockList { return u.BlockList }
func (u Updater) DownloadList() []BlockList   { return u.Downloads }
func (u Updater) Version() string             { return u.LastVersion }

func (u Updater) AcceptableAdsInUse() bool {
	return AcceptableAdsInUse(u)
}

// WithBlockList returns a copy with the mirrored list replaced.
func (u Updater) WithBlockList(blst BlockList) Updater {
	copied := u
	copied.BlockList = &blst

	return copied
}

// WithLastVersion returns a copy with the last downloaded version replaced.
func (u Updater) WithLastVersion(version string) Updater {
	copied := u
	copied.LastVersion = version

	return copied
}

// DownloadAdded returns a copy with the list appended to downloads.
func (u Updater) DownloadAdded(blst BlockList) Updater {
	copied := u
	copied.Downloads = append(append([]BlockList{}, u.Downloads...), blst)

	return copied
}

// DownloadsUpdated prunes downloads to max, evicting the oldest first.
func (u Updater) DownloadsUpdated(max int) Updater {
	copied := u
	copied.Downloads = PrunedHistory(max, u.Downloads)

	return copied
}

// HistoryUpdated exists only to satisfy generic consumer handling; the
// updater keeps no history of its own.
func (u Updater) HistoryUpdated(int) (Updater, error) {
	return u, nil
}
