package bus

import "sync"

// history is a bounded ring of sent and broadcast messages, kept for
// observability only. Entries are clones; delivery never reads them.
type history struct {
	mu   sync.Mutex
	buf  []*Message
	next int
	full bool
}

func newHistory(capacity int) *history {
	return &history{buf: make([]*Message, capacity)}
}

func (h *history) add(m *Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf[h.next] = m.Clone()
	h.next = (h.next + 1) % len(h.buf)
	if h.next == 0 {
		h.full = true
	}
}

// query returns matching messages oldest-first, truncated to the last
// limit entries. Empty handlerID, empty type and limit <= 0 disable the
// respective filter.
func (h *history) query(handlerID string, t Type, limit int) []*Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	var ordered []*Message
	if h.full {
		ordered = append(ordered, h.buf[h.next:]...)
		ordered = append(ordered, h.buf[:h.next]...)
	} else {
		ordered = append(ordered, h.buf[:h.next]...)
	}

	matched := make([]*Message, 0, len(ordered))
	for _, m := range ordered {
		if handlerID != "" && m.Sender != handlerID && m.Recipient != handlerID {
			continue
		}
		if t != "" && m.Type != t {
			continue
		}
		matched = append(matched, m)
	}

	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched
}

func (h *history) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.full {
		return len(h.buf)
	}
	return h.next
}
