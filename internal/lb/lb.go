// Package lb implements weighted backend selection over balancer lists.
package lb

import (
	"math/rand"
	"sync"
)

// Algo selects the balancing algorithm of a list.
type Algo int

const (
	Random Algo = iota // weighted random pick
	IWRR               // interleaved weighted round-robin
)

// Backend is the view a balancer list needs of a routing target. The
// proxy's backend type satisfies it; tests use lightweight fakes.
type Backend interface {
	// Priority is the configured weight, >= 0.
	Priority() int
	// Usable reports enabled-and-alive.
	Usable() bool
}

// List is an ordered bag of backends with cached aggregate priorities.
// totPri and maxPri cover usable backends only and are rebuilt on every
// membership or health change.
type List struct {
	mu     sync.Mutex
	algo   Algo
	items  []Backend
	totPri int
	maxPri int

	// IWRR state
	curPri int
	cursor int
}

// New builds a list over items and computes its priority caches.
func New(algo Algo, items []Backend) *List {
	l := &List{algo: algo, items: items}
	l.Rebuild()
	return l
}

// Rebuild recomputes totPri/maxPri and resets the IWRR round state.
// Call after any enable/disable/add/remove/kill.
func (l *List) Rebuild() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rebuildLocked()
}

func (l *List) rebuildLocked() {
	tot, max := 0, 0
	for _, b := range l.items {
		if !b.Usable() {
			continue
		}
		tot += b.Priority()
		if b.Priority() > max {
			max = b.Priority()
		}
	}
	l.totPri, l.maxPri = tot, max
	l.curPri = max
	if l.cursor >= len(l.items) {
		l.cursor = 0
	}
}

// Add appends a backend and rebuilds.
func (l *List) Add(b Backend) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, b)
	l.rebuildLocked()
}

// Remove deletes a backend and rebuilds.
func (l *List) Remove(b Backend) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, it := range l.items {
		if it == b {
			l.items = append(l.items[:i], l.items[i+1:]...)
			break
		}
	}
	l.rebuildLocked()
}

// Backends returns a snapshot of the list's members.
func (l *List) Backends() []Backend {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Backend, len(l.items))
	copy(out, l.items)
	return out
}

// TotalPriority returns the cached sum over usable backends. A zero
// total means the list cannot serve and the caller falls back to the
// emergency list.
func (l *List) TotalPriority() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totPri
}

// Next picks the backend for the current request, or nil if no usable
// backend exists.
func (l *List) Next() Backend {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.totPri == 0 {
		return nil
	}
	if l.algo == IWRR {
		return l.nextIWRR()
	}
	return l.nextRandom()
}

// nextRandom draws a uniform integer in [0, totPri) and walks the list
// in order subtracting priorities of usable backends.
func (l *List) nextRandom() Backend {
	pick := rand.Intn(l.totPri)
	for _, b := range l.items {
		if !b.Usable() {
			continue
		}
		pick -= b.Priority()
		if pick < 0 {
			return b
		}
	}
	return nil
}

// nextIWRR runs one interleaved weighted round-robin step: a backend is
// eligible in the current pass iff its priority >= curPri, and each
// eligible backend is served once per pass. When the cursor exhausts the
// list, curPri decrements, wrapping to maxPri at zero. Over a full cycle
// each backend is chosen priority-many times, interleaved.
func (l *List) nextIWRR() Backend {
	n := len(l.items)
	// totPri > 0 guarantees some backend qualifies within maxPri passes.
	for guard := 0; guard <= l.maxPri; guard++ {
		for l.cursor < n {
			b := l.items[l.cursor]
			l.cursor++
			if b.Usable() && b.Priority() >= l.curPri {
				return b
			}
		}
		l.cursor = 0
		l.curPri--
		if l.curPri <= 0 {
			l.curPri = l.maxPri
		}
	}
	return nil
}
