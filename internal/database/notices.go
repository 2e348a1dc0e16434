package database

import "sync"

// NoticeCollector accumulates server notices (RAISE NOTICE, vacuum verbose
// output) delivered by the driver's notice handler while a statement runs.
// The handler fires on the connection's goroutine during query processing, so
// access is guarded; draining empties the buffer and leaves the session clean
// for the next operation.
type NoticeCollector struct {
	mu      sync.Mutex
	notices []string
}

// NewNoticeCollector creates an empty collector.
func NewNoticeCollector() *NoticeCollector {
	return &NoticeCollector{}
}

// Append records one notice message.
func (nc *NoticeCollector) Append(msg string) {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	nc.notices = append(nc.notices, msg)
}

// Drain returns all accumulated notices and clears the buffer.
func (nc *NoticeCollector) Drain() []string {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	drained := nc.notices
	nc.notices = nil
	return drained
}

// Len reports the number of buffered notices.
func (nc *NoticeCollector) Len() int {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	return len(nc.notices)
}
