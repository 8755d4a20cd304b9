package activation

import (
	"time"

	"github.com/indo-san/WKWebView/internal/blocklist"
)

// MatchTarget selects the candidate pool a replacement rule list is drawn from.
type MatchTarget string

const (
	// TargetAutomaticUpdate draws from the updater's downloads.
	TargetAutomaticUpdate MatchTarget = "automaticUpdate"
	// TargetUserHistory draws from the user's block list history.
	TargetUserHistory MatchTarget = "userHistory"
	// TargetUserDownload draws from the user's own downloads.
	TargetUserDownload MatchTarget = "userDownload"
)

// MatchUserBlockList returns the predicate that picks the newest candidate
// able to replace the user's active block list. A candidate needs a concrete
// download date, the same source remoteness as the active list and an
// acceptable ads state matching the user's. The automatic update target
// additionally requires the active list to be expired and the candidate to
// be strictly newer.
func MatchUserBlockList(target MatchTarget, expiration time.Duration) func(user blocklist.User, updater blocklist.Updater) *blocklist.BlockList {
	return func(user blocklist.User, updater blocklist.Updater) *blocklist.BlockList {
		active := user.ActiveBlockList()
		if active == nil {
			return nil
		}

		var pool []blocklist.BlockList

		switch target {
		case TargetAutomaticUpdate:
			pool = updater.Downloads
		case TargetUserHistory:
			pool = user.BlockListHistory
		case TargetUserDownload:
			pool = user.Downloads
		default:
			return nil
		}

		aa := user.AcceptableAdsInUse()

		for _, candidate := range blocklist.SortedDownloads(pool) {
			if candidate.DateDownload == nil {
				continue
			}

			if candidate.Source.IsRemote() != active.Source.IsRemote() {
				continue
			}

			if candidate.Source.HasAcceptableAds() != aa {
				continue
			}

			if target == TargetAutomaticUpdate {
				if !active.IsExpired(expiration) {
					continue
				}

				if active.DateDownload != nil && !candidate.DateDownload.After(*active.DateDownload) {
					continue
				}
			}

			matched := candidate

			return &matched
		}

		return nil
	}
}
