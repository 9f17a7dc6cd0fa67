package chat

// DefaultHistorySize is the number of recent messages a room keeps.
const DefaultHistorySize = 5

// History keeps the last N messages of a room in a ring buffer. The oldest
// message is overwritten once the buffer is full.
type History struct {
	items []*Message
	pos   int
	count int
}

// NewHistory creates an empty history holding up to size messages. A size
// below one falls back to DefaultHistorySize.
func NewHistory(size int) *History {
	if size < 1 {
		size = DefaultHistorySize
	}
	return &History{items: make([]*Message, size)}
}

// Add appends a message, evicting the oldest when full.
func (h *History) Add(msg *Message) {
	h.items[h.pos] = msg
	h.pos = (h.pos + 1) % len(h.items)
	if h.count < len(h.items) {
		h.count++
	}
}

// Len returns the number of messages held.
func (h *History) Len() int {
	return h.count
}

// Cap returns the maximum number of messages held.
func (h *History) Cap() int {
	return len(h.items)
}

// Messages returns the held messages oldest first. The slice is fresh but
// the messages are shared, so callers may flip Seen in place.
func (h *History) Messages() []*Message {
	size := len(h.items)
	result := make([]*Message, h.count)
	// The oldest message sits at (pos - count) mod size.
	start := (h.pos - h.count + size) % size
	for i := 0; i < h.count; i++ {
		result[i] = h.items[(start+i)%size]
	}
	return result
}

// Newest returns the held messages newest first.
func (h *History) Newest() []*Message {
	msgs := h.Messages()
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs
}
