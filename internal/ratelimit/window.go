// Package ratelimit implements per-client request admission over a
// sliding time window.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Window admits up to limit requests per client identity within the
// trailing period. The identity map grows with the number of distinct
// clients seen over the process lifetime; identities are never evicted.
// That is acceptable at the intended request volume and is a known
// scaling caveat.
type Window struct {
	limit  int
	period time.Duration
	now    func() time.Time

	mu       sync.Mutex
	byClient map[string][]time.Time
}

func NewWindow(limit int, period time.Duration) *Window {
	if limit <= 0 {
		limit = 30
	}
	if period <= 0 {
		period = time.Minute
	}
	return &Window{
		limit:    limit,
		period:   period,
		now:      time.Now,
		byClient: make(map[string][]time.Time),
	}
}

// Allow prunes timestamps older than the window, then admits the call
// iff fewer than limit remain. Admission appends the new timestamp;
// denial has no side effects.
func (w *Window) Allow(clientID string) bool {
	n := w.now()
	cutoff := n.Add(-w.period)

	w.mu.Lock()
	defer w.mu.Unlock()

	calls := w.byClient[clientID]
	kept := calls[:0]
	for _, t := range calls {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= w.limit {
		w.byClient[clientID] = kept
		return false
	}
	w.byClient[clientID] = append(kept, n)
	return true
}

// ClientID resolves the client identity for a request: the first hop of
// X-Forwarded-For when present, otherwise the peer address.
func ClientID(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, ok := strings.Cut(fwd, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
