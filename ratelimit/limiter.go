// Package ratelimit provides a process-local fixed-window limiter keyed by
// arbitrary strings (client IP, widget id).
package ratelimit

import (
	"container/list"
	"sync"
	"time"
)

const DefaultMaxEntries = 10000

type Options struct {
	Max        int
	Window     time.Duration
	MaxEntries int
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

type entry struct {
	key     string
	count   int
	resetAt time.Time
	elem    *list.Element
}

// Limiter counts calls per key inside fixed windows. Entries live in memory
// only, so a restart resets every counter.
type Limiter struct {
	mu         sync.Mutex
	max        int
	window     time.Duration
	maxEntries int
	now        func() time.Time
	entries    map[string]*entry
	order      *list.List
}

func New(opts Options) *Limiter {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Limiter{
		max:        opts.Max,
		window:     opts.Window,
		maxEntries: opts.MaxEntries,
		now:        opts.Now,
		entries:    make(map[string]*entry),
		order:      list.New(),
	}
}

// Allow records a call for key and reports whether it is within the limit.
func (l *Limiter) Allow(key string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		// Make room before inserting so the store never exceeds maxEntries.
		l.prune(now, l.maxEntries-1)
		e = &entry{key: key}
		e.elem = l.order.PushBack(e)
		l.entries[key] = e
	}
	if !ok || now.After(e.resetAt) {
		e.count = 1
		e.resetAt = now.Add(l.window)
		return true
	}
	if e.count >= l.max {
		return false
	}
	e.count++
	return true
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// prune drops expired entries, then the oldest-inserted ones, until at most
// target entries remain.
func (l *Limiter) prune(now time.Time, target int) {
	if len(l.entries) <= target {
		return
	}
	for el := l.order.Front(); el != nil && len(l.entries) > target; {
		next := el.Next()
		if e := el.Value.(*entry); now.After(e.resetAt) {
			l.remove(e)
		}
		el = next
	}
	for len(l.entries) > target {
		front := l.order.Front()
		if front == nil {
			return
		}
		l.remove(front.Value.(*entry))
	}
}

func (l *Limiter) remove(e *entry) {
	l.order.Remove(e.elem)
	delete(l.entries, e.key)
}
