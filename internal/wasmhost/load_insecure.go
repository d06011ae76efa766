//go:build wasmdevunsigned

package wasmhost

import (
	"log/slog"
	"os"
	"sync"
)

var warnOnce sync.Once

// unsignedModulesPermitted is only compiled in when the binary was built
// with -tags wasmdevunsigned, and even then only opens the path when the
// operator also sets AEGIS_WASM_DEV_UNSIGNED at runtime — a deliberate
// two-key turn (build flag + env var) so this path can never be live in
// a binary shipped without the tag. Never build this tag into a release
// artifact.
func unsignedModulesPermitted() bool {
	if os.Getenv("AEGIS_WASM_DEV_UNSIGNED") == "" {
		return false
	}
	warnOnce.Do(func() {
		slog.Warn("wasmhost: built with wasmdevunsigned — unsigned Wasm modules are accepted")
	})
	return true
}
