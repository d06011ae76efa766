package orchestrator

import (
	"sort"
	"sync"
)

// RouteTable holds the set of module bindings active on this node,
// sorted by ascending priority, and resolves a request's (method, uri) to
// the single highest-priority matching binding. The priority-sorted
// resolution shape is grounded on pkg/plugins/registry.go's Registry,
// generalized from "first plugin that CanHandle" to "first binding whose
// method+path-prefix matches".
type RouteTable struct {
	mu       sync.RWMutex
	bindings []ModuleBinding
}

// NewRouteTable returns an empty RouteTable.
func NewRouteTable() *RouteTable {
	return &RouteTable{}
}

// Add registers a binding and re-sorts by priority (lower value wins a tie).
func (rt *RouteTable) Add(b ModuleBinding) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.bindings = append(rt.bindings, b)
	sort.SliceStable(rt.bindings, func(i, j int) bool {
		return rt.bindings[i].Priority < rt.bindings[j].Priority
	})
}

// Resolve returns the first (lowest-priority-number) binding of class
// matching method+uri, or false if none binds.
func (rt *RouteTable) Resolve(method, uri string, class ModuleClass) (ModuleBinding, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	for _, b := range rt.bindings {
		if b.Class == class && b.matches(method, uri) {
			return b, true
		}
	}
	return ModuleBinding{}, false
}

// Len reports the number of registered bindings.
func (rt *RouteTable) Len() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return len(rt.bindings)
}

// Bindings returns a snapshot of every registered binding, used at startup
// to register each bound module id with the Wasm manager's instance pools.
func (rt *RouteTable) Bindings() []ModuleBinding {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return append([]ModuleBinding(nil), rt.bindings...)
}
