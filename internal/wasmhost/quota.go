// Package wasmhost implements C6: a sandboxed Wasm policy runtime for WAF
// and EdgeFunction modules. The external-binary-probe, available-flag,
// demo-mode-instead-of-panic discipline is grounded on
// internal/gvisor/sandbox_executor.go (runsc -> wasmtime); the module
// handle pool is grounded on internal/ghostpool/pool_manager.go's
// channel-based pre-warm/acquire/scrub/release shape, minus its Docker
// dependency (no container runtime survives in a single-process Wasm
// sandbox model; see DESIGN.md). Load (see load.go) gates what may ever
// reach a pool: module bytes are raw Wasm, not canonical JSON, so
// signature verification calls crypto/ed25519 directly rather than going
// through internal/canonical; the compile-time unsigned-module escape
// hatch is split across load_secure.go/load_insecure.go behind the
// wasmdevunsigned build tag.
package wasmhost

import "time"

// Class distinguishes the two module kinds spec.md names: a WAF module
// augments rule-based analysis and fails open on fault; an EdgeFunction
// module can mutate the response and its fault policy is configurable.
type Class string

const (
	ClassWAF          Class = "waf"
	ClassEdgeFunction Class = "edge_function"
)

// Quota bounds a single module invocation.
type Quota struct {
	FuelLimit        uint64
	MemoryLimitPages uint32
	WallClock        time.Duration
}

// DefaultQuota returns a conservative quota for modules that don't specify
// their own.
func DefaultQuota() Quota {
	return Quota{
		FuelLimit:        10_000_000,
		MemoryLimitPages: 256, // 16 MiB at 64 KiB/page
		WallClock:        50 * time.Millisecond,
	}
}
