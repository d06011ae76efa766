//go:build !wasmdevunsigned

package wasmhost

// unsignedModulesPermitted is false in every ordinary build: Load never
// admits a module that carries neither a signature nor an issuer key.
// AEGIS_WASM_DEV_UNSIGNED has no effect here — the env var alone cannot
// open this path (spec.md §4.6: "a release build must refuse to enable
// the development-only unsigned-module path; this is enforced at
// compile time, not runtime"). Opening it requires building with
// -tags wasmdevunsigned, which load_insecure.go provides.
func unsignedModulesPermitted() bool {
	return false
}
