package wasmhost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// Runtime shells out to an external wasmtime binary to execute a compiled
// module with quota enforcement. Grounded on
// internal/gvisor/sandbox_executor.go's exec.LookPath-probed external-
// binary pattern: when wasmtime isn't installed, Runtime degrades to a
// typed "unavailable" result rather than panicking.
type Runtime struct {
	binaryPath string
	moduleDir  string
	available  bool
}

// Invocation is the payload handed to a module over its host API.
type Invocation struct {
	RequestID string          `json:"request_id"`
	Module    string          `json:"module"`
	Class     Class           `json:"class"`
	Input     json.RawMessage `json:"input"`
}

// Result is what a module invocation returns.
type Result struct {
	RequestID  string          `json:"request_id"`
	Success    bool            `json:"success"`
	Output     json.RawMessage `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
	FuelUsed   uint64          `json:"fuel_used,omitempty"`
	Elapsed    time.Duration   `json:"elapsed"`
	DemoMode   bool            `json:"demo_mode,omitempty"`
}

// NewRuntime probes for the wasmtime binary at binaryPath (falling back to
// PATH lookup if empty) and records availability.
func NewRuntime(binaryPath, moduleDir string) *Runtime {
	if binaryPath == "" {
		binaryPath = "wasmtime"
	}
	available := true
	if _, err := exec.LookPath(binaryPath); err != nil {
		slog.Warn("wasmhost: wasmtime binary not found, running in demo mode", "path", binaryPath, "error", err)
		available = false
	}
	return &Runtime{binaryPath: binaryPath, moduleDir: moduleDir, available: available}
}

// IsAvailable reports whether a real wasmtime binary backs this runtime.
func (r *Runtime) IsAvailable() bool {
	return r.available
}

// Invoke runs a module under a fuel/memory/wall-clock quota. It never
// returns a Go panic for an unavailable runtime or a module timeout: both
// are reported as a typed failure in Result.
func (r *Runtime) Invoke(ctx context.Context, moduleName string, q Quota, inv Invocation) (*Result, error) {
	start := time.Now()

	if !r.available {
		return &Result{
			RequestID: inv.RequestID,
			Success:   false,
			Error:     "wasmtime runtime unavailable",
			Elapsed:   time.Since(start),
			DemoMode:  true,
		}, nil
	}

	wallCtx, cancel := context.WithTimeout(ctx, q.WallClock)
	defer cancel()

	modulePath := filepath.Join(r.moduleDir, moduleName+".wasm")
	if _, err := os.Stat(modulePath); err != nil {
		return nil, fmt.Errorf("wasmhost: module %s not found: %w", moduleName, err)
	}

	payload, err := json.Marshal(inv)
	if err != nil {
		return nil, fmt.Errorf("wasmhost: marshal invocation: %w", err)
	}
	cmd := exec.CommandContext(wallCtx,
		r.binaryPath,
		"run",
		fmt.Sprintf("--fuel=%d", q.FuelLimit),
		fmt.Sprintf("--max-memory-size=%d", uint64(q.MemoryLimitPages)*65536),
		"--invoke", "handle",
		modulePath,
	)
	cmd.Stdin = bytes.NewReader(payload)

	out, err := cmd.Output()
	elapsed := time.Since(start)

	if wallCtx.Err() == context.DeadlineExceeded {
		return &Result{RequestID: inv.RequestID, Success: false, Error: "wall-clock quota exceeded", Elapsed: elapsed}, nil
	}
	if err != nil {
		return &Result{RequestID: inv.RequestID, Success: false, Error: err.Error(), Elapsed: elapsed}, nil
	}

	return &Result{RequestID: inv.RequestID, Success: true, Output: out, Elapsed: elapsed}, nil
}
