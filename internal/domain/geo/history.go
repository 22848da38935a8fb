// internal/domain/geo/history.go

package geo

// History is a bounded ring buffer of the most recent position samples.
// It is not safe for concurrent use; the owning scheduler task is its only writer.
type History struct {
	buf   []PositionSample
	start int
	size  int
}

// NewHistory creates a history holding at most capacity samples
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{buf: make([]PositionSample, capacity)}
}

// Add appends a sample, evicting the oldest one when full
func (h *History) Add(s PositionSample) {
	if h.size < len(h.buf) {
		h.buf[(h.start+h.size)%len(h.buf)] = s
		h.size++
		return
	}
	h.buf[h.start] = s
	h.start = (h.start + 1) % len(h.buf)
}

// Len returns the number of samples held
func (h *History) Len() int {
	return h.size
}

// Samples returns the held samples oldest first
func (h *History) Samples() []PositionSample {
	out := make([]PositionSample, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}
