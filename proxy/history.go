package proxy

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// Exchange is one captured request/response pair.
type Exchange struct {
	ID          int64             `json:"id"`
	Time        time.Time         `json:"time"`
	Method      string            `json:"method"`
	URL         string            `json:"url"`
	Host        string            `json:"host"`
	Path        string            `json:"path"`
	ReqHeaders  map[string]string `json:"request_headers"`
	ReqBody     []byte            `json:"request_body,omitempty"`
	Status      int               `json:"status"`
	RespHeaders map[string]string `json:"response_headers"`
	RespBody    []byte            `json:"response_body,omitempty"`
	Duration    time.Duration     `json:"duration"`
}

// Filter narrows a history query. Zero values match everything.
type Filter struct {
	Host        string // substring match against the host
	Method      string // exact, case-insensitive
	Status      int    // exact status code
	PathPattern string // substring match against path and query
}

func (f Filter) matches(e *Exchange) bool {
	if f.Host != "" && !strings.Contains(e.Host, f.Host) {
		return false
	}
	if f.Method != "" && !strings.EqualFold(f.Method, e.Method) {
		return false
	}
	if f.Status != 0 && f.Status != e.Status {
		return false
	}
	if f.PathPattern != "" && !strings.Contains(e.Path, f.PathPattern) {
		return false
	}
	return true
}

// History is a bounded ring of captured exchanges. When full, the
// oldest entries are overwritten.
type History struct {
	mu     sync.RWMutex
	ring   []*Exchange
	next   int
	size   int
	lastID int64
}

// NewHistory creates a history holding at most capacity exchanges.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 1
	}
	return &History{ring: make([]*Exchange, capacity)}
}

// Add records an exchange and assigns it an id.
func (h *History) Add(e *Exchange) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastID++
	e.ID = h.lastID
	h.ring[h.next] = e
	h.next = (h.next + 1) % len(h.ring)
	if h.size < len(h.ring) {
		h.size++
	}
	return e.ID
}

// Get returns the exchange with the given id, or nil if it has been
// evicted or never existed.
func (h *History) Get(id int64) *Exchange {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, e := range h.ring {
		if e != nil && e.ID == id {
			return e
		}
	}
	return nil
}

// List returns exchanges matching the filter, oldest first, at most
// limit entries (0 means no limit).
func (h *History) List(f Filter, limit int) []*Exchange {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []*Exchange
	start := h.next - h.size
	if start < 0 {
		start += len(h.ring)
	}
	for i := 0; i < h.size; i++ {
		e := h.ring[(start+i)%len(h.ring)]
		if e == nil || !f.matches(e) {
			continue
		}
		out = append(out, e)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Len returns the number of retained exchanges.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

// Summary renders a one-line description used in tool output.
func (e *Exchange) Summary() string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(e.ID, 10))
	b.WriteString(" ")
	b.WriteString(e.Method)
	b.WriteString(" ")
	b.WriteString(e.URL)
	b.WriteString(" -> ")
	b.WriteString(strconv.Itoa(e.Status))
	return b.String()
}
