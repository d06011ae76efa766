package wasmhost

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Handle is a recyclable module instance slot. Grounded on
// internal/ghostpool/pool_manager.go's GhostContainer, minus the Docker
// container lifecycle: a Wasm instance is scrubbed by discarding its
// linear memory, not by shelling out to an exec scrub script.
type Handle struct {
	ID       string
	Module   string
	LastUsed time.Time
}

// Pool maintains min-idle pre-warmed handles per module, acquired and
// released around each invocation. Grounded on
// internal/ghostpool/pool_manager.go's channel-based
// pre-warm -> acquire -> scrub -> release shape.
type Pool struct {
	mu          sync.Mutex
	available   chan *Handle
	active      map[string]*Handle
	minIdle     int
	maxCapacity int
	module      string
	nextID      int
}

// NewPool creates a pool for one module and starts its background
// maintainer.
func NewPool(module string, minIdle, maxCapacity int) *Pool {
	p := &Pool{
		available:   make(chan *Handle, maxCapacity),
		active:      make(map[string]*Handle),
		minIdle:     minIdle,
		maxCapacity: maxCapacity,
		module:      module,
	}
	go p.maintain()
	return p
}

// Acquire blocks until a handle is available or ctx is cancelled.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	select {
	case h := <-p.available:
		p.mu.Lock()
		p.active[h.ID] = h
		p.mu.Unlock()
		h.LastUsed = time.Now()
		return h, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a handle to the pool after scrubbing it. A scrub
// failure destroys the handle instead of recycling it, mirroring
// pool_manager.go's "destroy instead of return on scrub failure" rule.
func (p *Pool) Release(h *Handle) {
	go func() {
		if err := p.scrub(h); err != nil {
			slog.Warn("wasmhost: scrub failed, discarding handle", "id", h.ID, "error", err)
			p.mu.Lock()
			delete(p.active, h.ID)
			p.mu.Unlock()
			return
		}
		p.mu.Lock()
		delete(p.active, h.ID)
		p.mu.Unlock()
		p.available <- h
	}()
}

// scrub resets a handle's state between invocations. A Wasm instance has
// no host-visible side effects outside its linear memory, so scrubbing is
// just discarding and noting the reset; the only failure is a nil handle,
// and the typed error return is kept so a future pooled-instance reuse
// strategy (reusing compiled modules across invocations) has a place to
// report a real failure.
func (p *Pool) scrub(h *Handle) error {
	if h == nil {
		return fmt.Errorf("wasmhost: nil handle")
	}
	return nil
}

func (p *Pool) maintain() {
	for {
		time.Sleep(2 * time.Second)

		p.mu.Lock()
		activeCount := len(p.active)
		p.mu.Unlock()

		availableCount := len(p.available)
		total := activeCount + availableCount

		if availableCount < p.minIdle && total < p.maxCapacity {
			deficit := p.minIdle - availableCount
			for i := 0; i < deficit; i++ {
				if total+i >= p.maxCapacity {
					break
				}
				p.spawn()
			}
		}
	}
}

func (p *Pool) spawn() {
	p.mu.Lock()
	p.nextID++
	id := fmt.Sprintf("%s-%d", p.module, p.nextID)
	p.mu.Unlock()

	h := &Handle{ID: id, Module: p.module, LastUsed: time.Now()}
	p.available <- h
}

// Stats reports current pool occupancy.
func (p *Pool) Stats() (active, idle, capacity int) {
	p.mu.Lock()
	active = len(p.active)
	p.mu.Unlock()
	return active, len(p.available), p.maxCapacity
}
