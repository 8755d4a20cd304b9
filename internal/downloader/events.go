package downloader

import "sync"

// Event reports the progress of a single block list download task.
type Event struct {
	FilterListName       string
	DidFinishDownloading bool
	TotalBytesWritten    int64
	Err                  error
}

// Terminal reports whether no further events follow for this task.
func (e Event) Terminal() bool {
	return e.DidFinishDownloading || e.Err != nil
}

// taskStream records every event published for one download task. It keeps
// the full history so a late reader can observe the latest value, and wakes
// waiters whenever a new event lands.
type taskStream struct {
	mu      sync.Mutex
	events  []Event
	updated chan struct{}
}

func newTaskStream() *taskStream {
	return &taskStream{updated: make(chan struct{})}
}

func (s *taskStream) publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, ev)

	close(s.updated)
	s.updated = make(chan struct{})
}

// snapshot returns the recorded events and a channel closed on the next publish.
func (s *taskStream) snapshot() ([]Event, <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.events[:len(s.events):len(s.events)], s.updated
}

func (s *taskStream) last() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.events) == 0 {
		return Event{}, false
	}

	return s.events[len(s.events)-1], true
}

// concatStreams forwards the events of each task stream in task creation
// order. A task's events are forwarded until its terminal event, then the
// next task's stream is drained. The output channel closes once every task
// has terminated.
func concatStreams(tasks []*task, out chan<- Event) {
	defer close(out)

	for _, t := range tasks {
		next := 0

		for {
			events, updated := t.stream.snapshot()

			for ; next < len(events); next++ {
				out <- events[next]
			}

			if next > 0 && events[next-1].Terminal() {
				break
			}

			<-updated
		}
	}
}
