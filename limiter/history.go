package limiter

import "time"

// minHistorySize is the number of slots a new history starts with.
const minHistorySize = 4

// history is a ring buffer of accepted timestamps for one key.
// Timestamps are appended in non-decreasing order, so the slot at head is always the oldest.
// The buffer grows by doubling up to limit and shrinks again once mostly empty, so it stays
// proportional to the entries held.
type history struct {
	times []time.Time
	head  int
	len   int
	limit int
}

func newHistory(limit int) *history {
	return &history{
		times: make([]time.Time, min(minHistorySize, limit)),
		limit: limit,
	}
}

// push appends now. The caller must check that fewer than limit entries are held.
func (h *history) push(now time.Time) {
	if h.len == len(h.times) {
		h.resize(min(2*len(h.times), h.limit))
	}

	tail := (h.head + h.len) % len(h.times)
	h.times[tail] = now
	h.len++
}

// oldest returns the earliest timestamp still held.
func (h *history) oldest() time.Time {
	return h.times[h.head]
}

// prune drops every timestamp strictly before cutoff, stopping at the first one in range.
func (h *history) prune(cutoff time.Time) {
	for h.len > 0 && h.times[h.head].Before(cutoff) {
		h.times[h.head] = time.Time{}
		h.head = (h.head + 1) % len(h.times)
		h.len--
	}

	if h.len > 0 && h.len <= len(h.times)/4 && len(h.times) > minHistorySize {
		h.resize(max(len(h.times)/2, minHistorySize))
	}
}

func (h *history) empty() bool {
	return h.len == 0
}

// resize copies the entries, oldest first, into a buffer of size slots.
func (h *history) resize(size int) {
	times := make([]time.Time, size)
	for i := 0; i < h.len; i++ {
		times[i] = h.times[(h.head+i)%len(h.times)]
	}
	h.times = times
	h.head = 0
}
