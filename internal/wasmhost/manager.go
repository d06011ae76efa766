package wasmhost

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// ModuleSpec is a loaded module's static configuration.
type ModuleSpec struct {
	Name  string
	Class Class
	Quota Quota
}

// Manager owns a Runtime plus one Pool per loaded module, and applies the
// WAF-vs-EdgeFunction fail-open/fail-closed policy around every
// invocation (spec §4.6). Only a *ModuleDescriptor* that has passed Load
// may be Register-ed, so the map of pools doubles as the active set
// invariant I1 and I3 depend on: a name present here has a verified
// signature (or the compile-time dev escape was open), and is present
// exactly once.
type Manager struct {
	runtime *Runtime
	hostAPI *HostAPI

	mu                     sync.RWMutex
	active                 map[string]ModuleSpec
	pools                  map[string]*Pool
	edgeFunctionFailClosed bool
}

// NewManager builds a manager; edgeFunctionFailClosed mirrors
// Config.WasmHost.EdgeFunctionFailClosed (default true, per the Open
// Questions decision in DESIGN.md).
func NewManager(runtime *Runtime, edgeFunctionFailClosed bool) *Manager {
	return &Manager{
		runtime:                runtime,
		hostAPI:                NewHostAPI(),
		active:                 make(map[string]ModuleSpec),
		pools:                  make(map[string]*Pool),
		edgeFunctionFailClosed: edgeFunctionFailClosed,
	}
}

// Register admits a verified module into the active set and starts its
// instance pool. desc must come from Load — there is no other way to
// construct a *ModuleDescriptor, so a caller cannot accidentally register
// an unverified module. Registering a name that is already active
// performs a hot swap: the new spec becomes the one future Invoke calls
// use, while handles already acquired under the old pool finish under
// it (spec.md §4.6: "the new handle becomes active atomically; in-flight
// requests complete under the handle they started with").
func (m *Manager) Register(desc *ModuleDescriptor, quota Quota, minIdle, maxCapacity int) error {
	if desc == nil {
		return fmt.Errorf("wasmhost: cannot register a nil module descriptor")
	}
	spec := ModuleSpec{Name: desc.Name, Class: desc.Class, Quota: quota}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.active[desc.Name]; exists {
		slog.Info("wasmhost: hot-swapping module", "module", desc.Name, "class", desc.Class)
	}
	m.active[desc.Name] = spec
	m.pools[desc.Name] = NewPool(desc.Name, minIdle, maxCapacity)
	return nil
}

// Invoke runs the active module named by name against input, applying
// the fault policy for its class: WAF modules fail open (a module error
// is swallowed, the request proceeds through the remaining WAF rules
// unaffected); an EdgeFunction module fails per edgeFunctionFailClosed.
// A name with no entry in the active set is never invoked — this is the
// one place invariant I1 is actually enforced at request time.
func (m *Manager) Invoke(ctx context.Context, name string, input any) (*Result, error) {
	m.mu.RLock()
	spec, ok := m.active[name]
	pool := m.pools[name]
	m.mu.RUnlock()
	if !ok || pool == nil {
		return nil, &ModuleError{Module: name, Reason: "module not in active set"}
	}

	h, err := pool.Acquire(ctx)
	if err != nil {
		return faultResult(spec, m.edgeFunctionFailClosed, "acquire handle: "+err.Error())
	}
	defer pool.Release(h)

	payload, err := json.Marshal(input)
	if err != nil {
		return faultResult(spec, m.edgeFunctionFailClosed, "marshal input: "+err.Error())
	}

	result, err := m.runtime.Invoke(ctx, spec.Name, spec.Quota, Invocation{
		RequestID: h.ID,
		Module:    spec.Name,
		Class:     spec.Class,
		Input:     payload,
	})
	if err != nil {
		return faultResult(spec, m.edgeFunctionFailClosed, err.Error())
	}
	if !result.Success {
		return faultResult(spec, m.edgeFunctionFailClosed, result.Error)
	}
	return result, nil
}

// faultResult applies the class fault policy: WAF always fails open
// (returns a non-error, non-blocking Result so the caller treats it as
// "no match"); EdgeFunction fails closed unless failClosed is false.
func faultResult(spec ModuleSpec, failClosed bool, reason string) (*Result, error) {
	if spec.Class == ClassWAF {
		slog.Warn("wasmhost: WAF module fault, failing open", "module", spec.Name, "reason", reason)
		return &Result{Success: false, Error: reason}, nil
	}
	if failClosed {
		return nil, fallback(spec, reason)
	}
	slog.Warn("wasmhost: EdgeFunction module fault, failing open per policy", "module", spec.Name, "reason", reason)
	return &Result{Success: false, Error: reason}, nil
}

func fallback(spec ModuleSpec, reason string) error {
	return &ModuleError{Module: spec.Name, Class: spec.Class, Reason: reason}
}

// ModuleError reports a module invocation fault, carrying enough context
// for the orchestrator to decide whether to terminate the request early.
type ModuleError struct {
	Module string
	Class  Class
	Reason string
}

func (e *ModuleError) Error() string {
	return "wasmhost: module " + e.Module + " (" + string(e.Class) + ") failed: " + e.Reason
}
