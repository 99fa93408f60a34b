// Package ratelimit implements per-client admission control over several
// sliding windows at once.
//
// Each client keeps an ordered log of the instants at which it was admitted.
// A request is admitted only if every window still has room; a rejected
// request is not recorded, so it never extends the client's penalty.
package ratelimit

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Window bounds a client to Limit admissions per Duration.
type Window struct {
	Name     string
	Duration time.Duration
	Limit    int
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed bool
	// Window is the first saturated window when Allowed is false.
	Window Window
	// RetryAfter is how long until Window has room again.
	RetryAfter time.Duration
}

// ExceededError is returned by Allow when a window is saturated.
type ExceededError struct {
	Window     string
	Limit      int
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d per %s", e.Limit, e.Window)
}

type clientHistory struct {
	mu     sync.Mutex
	stamps []time.Time // ascending
}

// Limiter tracks admissions per client id.
type Limiter struct {
	windows   []Window // ascending by duration
	maxWindow time.Duration

	mu      sync.RWMutex
	clients map[string]*clientHistory

	now func() time.Time
}

// New creates a limiter over the given windows. Windows are evaluated from
// shortest to longest.
func New(windows []Window) (*Limiter, error) {
	if len(windows) == 0 {
		return nil, fmt.Errorf("at least one window is required")
	}

	sorted := make([]Window, len(windows))
	copy(sorted, windows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Duration < sorted[j].Duration
	})

	seen := make(map[string]bool, len(sorted))
	for _, w := range sorted {
		if w.Name == "" {
			return nil, fmt.Errorf("window name is required")
		}
		if seen[w.Name] {
			return nil, fmt.Errorf("duplicate window %q", w.Name)
		}
		seen[w.Name] = true
		if w.Duration <= 0 {
			return nil, fmt.Errorf("window %q: duration must be positive", w.Name)
		}
		if w.Limit < 1 {
			return nil, fmt.Errorf("window %q: limit must be positive", w.Name)
		}
	}

	return &Limiter{
		windows:   sorted,
		maxWindow: sorted[len(sorted)-1].Duration,
		clients:   make(map[string]*clientHistory),
		now:       time.Now,
	}, nil
}

// Windows returns the configured windows, shortest first.
func (l *Limiter) Windows() []Window {
	out := make([]Window, len(l.windows))
	copy(out, l.windows)
	return out
}

// Clients returns the number of client ids with a history.
func (l *Limiter) Clients() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.clients)
}

// Allow admits a request at the current time, or returns *ExceededError.
func (l *Limiter) Allow(clientID string) error {
	d := l.Admit(clientID, l.now())
	if d.Allowed {
		return nil
	}
	return &ExceededError{
		Window:     d.Window.Name,
		Limit:      d.Window.Limit,
		RetryAfter: d.RetryAfter,
	}
}

// Admit decides whether clientID may make a request at now and records the
// request if so.
func (l *Limiter) Admit(clientID string, now time.Time) Decision {
	h := l.history(clientID)

	h.mu.Lock()
	defer h.mu.Unlock()

	// Drop everything older than the largest window.
	cutoff := now.Add(-l.maxWindow)
	if i := sort.Search(len(h.stamps), func(i int) bool {
		return !h.stamps[i].Before(cutoff)
	}); i > 0 {
		h.stamps = append(h.stamps[:0], h.stamps[i:]...)
	}

	for _, w := range l.windows {
		start := now.Add(-w.Duration)
		first := sort.Search(len(h.stamps), func(i int) bool {
			return !h.stamps[i].Before(start)
		})
		// Stamps after now can only come from callers passing an older now.
		end := sort.Search(len(h.stamps), func(i int) bool {
			return h.stamps[i].After(now)
		})
		count := end - first
		if count >= w.Limit {
			// The slot frees up when the stamp that pushed the window
			// over its limit ages out.
			freeing := h.stamps[first+count-w.Limit]
			retry := freeing.Add(w.Duration).Sub(now)
			if retry < 0 {
				retry = 0
			}
			return Decision{Allowed: false, Window: w, RetryAfter: retry}
		}
	}

	insertSorted(&h.stamps, now)
	return Decision{Allowed: true}
}

func (l *Limiter) history(clientID string) *clientHistory {
	l.mu.RLock()
	h, ok := l.clients[clientID]
	l.mu.RUnlock()
	if ok {
		return h
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok = l.clients[clientID]; !ok {
		h = &clientHistory{}
		l.clients[clientID] = h
	}
	return h
}

func insertSorted(stamps *[]time.Time, t time.Time) {
	s := *stamps
	if n := len(s); n == 0 || !t.Before(s[n-1]) {
		*stamps = append(s, t)
		return
	}
	i := sort.Search(len(s), func(i int) bool { return s[i].After(t) })
	s = append(s, time.Time{})
	copy(s[i+1:], s[i:])
	s[i] = t
	*stamps = s
}
