package crdtcounter

import (
	"sync/atomic"
	"time"
)

// Epoch tracks the current window id for a counter key, rotating via an
// atomic compare-and-swap when wall-clock crosses a window boundary.
// Operations labeled with a stale epoch are discarded (spec.md §4.10
// "Window resets").
type Epoch struct {
	windowSize time.Duration
	current    atomic.Int64
}

// NewEpoch returns an Epoch with the given window size, initialized to
// the window containing now.
func NewEpoch(windowSize time.Duration) *Epoch {
	e := &Epoch{windowSize: windowSize}
	e.current.Store(epochFor(time.Now(), windowSize))
	return e
}

func epochFor(t time.Time, windowSize time.Duration) int64 {
	return t.UnixNano() / int64(windowSize)
}

// Current returns the id of the window containing now, rotating the
// stored epoch via compare-and-swap if the wall clock has advanced past
// it.
func (e *Epoch) Current() int64 {
	want := epochFor(time.Now(), e.windowSize)
	for {
		cur := e.current.Load()
		if cur >= want {
			return cur
		}
		if e.current.CompareAndSwap(cur, want) {
			return want
		}
	}
}

// Accepts reports whether an operation labeled with opEpoch falls within
// the current window.
func (e *Epoch) Accepts(opEpoch int64) bool {
	return opEpoch == e.Current()
}
