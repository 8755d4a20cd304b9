package blocklist

import "sort"

// Consumer is the capability set shared by User and Updater: an active block
// list, a bounded download cache and the last seen list version. Shared
// behavior lives in free functions over this interface rather than embedded
// defaults.
type Consumer interface {
	ConsumerName() string
	ActiveBlockList() *BlockList
	DownloadList() []BlockList
	Version() string
}

// AcceptableAdsInUse derives the AA flag from the consumer's active list.
// No active list means AA is not in use.
func AcceptableAdsInUse(c Consumer) bool {
	blst := c.ActiveBlockList()
	if blst == nil {
		return false
	}

	return blst.Source.HasAcceptableAds()
}

// SortedDownloads orders a download list newest first. Placeholders without a
// download date sort last.
func SortedDownloads(downloads []BlockList) []BlockList {
	sorted := make([]BlockList, len(downloads))
	copy(sorted, downloads)
	sort.SliceStable(sorted, func(i, j int) bool {
		di, dj := sorted[i].DateDownload, sorted[j].DateDownload
		switch {
		case di == nil:
			return false
		case dj == nil:
			return true
		default:
			return di.After(*dj)
		}
	})

	return sorted
}

// PrunedHistory keeps at most max entries, dropping from the head. Members
// are assumed to be appended at the tail.
func PrunedHistory(max int, lists []BlockList) []BlockList {
	if len(lists) == 0 {
		return []BlockList{}
	}

	copied := make([]BlockList, len(lists))
	copy(copied, lists)

	if len(copied) > max {
		copied = copied[len(copied)-max:]
	}

	return copied
}
