package progress

import "io"

// Reader wraps an io.Reader and reports cumulative bytes via a callback.
type Reader struct {
	reader     io.Reader
	total      int64
	written    int64 // cumulative total
	lastReport int64 // bytes since last report
	interval   int64 // bytes
	onProgress func(written int64, total int64)
}

func NewReader(r io.Reader, total int64, interval int64, cb func(written int64, total int64)) *Reader {
	return &Reader{
		reader:     r,
		total:      total,
		interval:   interval,
		onProgress: cb,
	}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.written += int64(n)
		pr.lastReport += int64(n)

		if pr.lastReport >= pr.interval {
			pr.onProgress(pr.written, pr.total)
			pr.lastReport = 0
		}
	}

	return n, err
}

// Written returns the cumulative number of bytes read so far.
func (pr *Reader) Written() int64 {
	return pr.written
}
