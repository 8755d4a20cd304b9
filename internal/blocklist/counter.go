package blocklist

import "strconv"

// Counter key names in the persistent store.
const (
	CounterDefaultLabel = "download-counter"
	CounterTestingLabel = "download-counter-testing"
)

// DownloadCounter counts downloads for the life of an installation,
// independently from user state.
type DownloadCounter struct {
	Name          string `json:"name"`
	DownloadCount int    `json:"downloadCount"`
	Testing       bool   `json:"-"`
}

// NewDownloadCounter returns a zeroed counter under the default label.
func NewDownloadCounter(testing bool) DownloadCounter {
	name := CounterDefaultLabel
	if testing {
		name = CounterTestingLabel
	}

	return DownloadCounter{Name: name, Testing: testing}
}

// Incremented returns a copy with the count advanced by one.
func (c DownloadCounter) Incremented() DownloadCounter {
	copied := c
	copied.DownloadCount++

	return copied
}

// StringForRequest caps the textual representation at the display maximum,
// e.g. "4+" once the count exceeds it.
func (c DownloadCounter) StringForRequest(max int) string {
	if c.DownloadCount <= max {
		return strconv.Itoa(c.DownloadCount)
	}

	return strconv.Itoa(max) + "+"
}
