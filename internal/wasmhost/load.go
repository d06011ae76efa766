package wasmhost

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
)

// Per-class content size budgets a module's compiled bytes must fit
// under to be loaded (spec.md §4.6: "Load fails if ... content size
// exceeds class limit"). WAF modules run on the hot analysis path for
// every request and are kept small; EdgeFunction modules do more work
// per invocation and get more room.
const (
	maxModuleSizeWAF          = 1 << 20 // 1 MiB
	maxModuleSizeEdgeFunction = 5 << 20 // 5 MiB
)

func maxSizeForClass(class Class) int {
	if class == ClassEdgeFunction {
		return maxModuleSizeEdgeFunction
	}
	return maxModuleSizeWAF
}

// wasmMagic is the 8-byte header every Wasm binary starts with (\0asm,
// version 1). Checking it is the "class-specific validation (e.g.
// required exports absent)" spec.md §4.6 asks Load to perform before a
// module enters the active set — a stand-in for a full export-table
// walk, which would need an actual Wasm parser this stack doesn't carry.
var wasmMagic = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// ModuleDescriptor is a module that has passed Load: its signature
// verified under its declared issuer (or the compile-time dev escape was
// open), it fits its class's size budget, and it looks like a real Wasm
// binary. Only a ModuleDescriptor may be handed to Manager.Register —
// this is what makes invariant I1 ("a module in the active set has a
// verified signature") structural rather than a convention callers can
// forget to follow.
type ModuleDescriptor struct {
	Name        string
	Class       Class
	Content     []byte
	ContentHash [32]byte
	IssuerKey   ed25519.PublicKey // nil if admitted via the dev escape hatch
}

// Load implements spec.md §4.6's module lifecycle entry point:
// `Load(bytes, signature, issuer_key, class) -> Handle`. It fails
// closed — returns an error, admits nothing — on an oversized binary,
// a missing Wasm header, an unparsable issuer key, or a signature that
// does not verify. A module with no issuer key and no signature is only
// ever admitted when unsignedModulesPermitted reports true, which is
// fixed at compile time by which of load_secure.go / load_insecure.go
// was built in (see that file for why this can't be a runtime flag).
func Load(name string, content, signature []byte, issuerKeyHex string, class Class) (*ModuleDescriptor, error) {
	if class != ClassWAF && class != ClassEdgeFunction {
		return nil, fmt.Errorf("wasmhost: module %s has unknown class %q", name, class)
	}
	if limit := maxSizeForClass(class); len(content) > limit {
		return nil, fmt.Errorf("wasmhost: module %s is %d bytes, exceeds %s limit of %d", name, len(content), class, limit)
	}
	if len(content) < len(wasmMagic) || !bytes.Equal(content[:len(wasmMagic)], wasmMagic) {
		return nil, fmt.Errorf("wasmhost: module %s missing Wasm binary header", name)
	}

	hash := sha256.Sum256(content)

	issuerKeyHex = strings.TrimSpace(issuerKeyHex)
	if issuerKeyHex == "" && len(signature) == 0 {
		if !unsignedModulesPermitted() {
			return nil, fmt.Errorf("wasmhost: module %s is unsigned and unsigned modules are disabled in this build", name)
		}
		slog.Warn("wasmhost: admitting unsigned module via development escape hatch", "module", name)
		return &ModuleDescriptor{Name: name, Class: class, Content: content, ContentHash: hash}, nil
	}

	issuerKey, err := hex.DecodeString(issuerKeyHex)
	if err != nil || len(issuerKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("wasmhost: module %s has a malformed issuer key", name)
	}
	if !ed25519.Verify(ed25519.PublicKey(issuerKey), content, signature) {
		return nil, fmt.Errorf("wasmhost: module %s signature does not verify under its issuer key", name)
	}

	return &ModuleDescriptor{
		Name:        name,
		Class:       class,
		Content:     content,
		ContentHash: hash,
		IssuerKey:   ed25519.PublicKey(issuerKey),
	}, nil
}

// VerifyContentAddress checks fetched module bytes against a requested
// content identifier before Load ever sees them (spec.md §6: "the core
// validates the returned bytes hash against the requested CID before any
// further processing"). cid is expected in `sha256:<hex>` form; this
// stack carries no IPFS/multihash client (see DESIGN.md), so the address
// scheme is narrowed to a direct sha256 digest rather than full
// multihash/CIDv1 decoding.
func VerifyContentAddress(content []byte, cid string) error {
	const prefix = "sha256:"
	if !strings.HasPrefix(cid, prefix) {
		return fmt.Errorf("wasmhost: unsupported content address scheme %q", cid)
	}
	want, err := hex.DecodeString(strings.TrimPrefix(cid, prefix))
	if err != nil || len(want) != sha256.Size {
		return fmt.Errorf("wasmhost: malformed content address %q", cid)
	}
	got := sha256.Sum256(content)
	if !bytes.Equal(got[:], want) {
		return fmt.Errorf("wasmhost: content address mismatch: fetched bytes hash to %x, requested %s", got, cid)
	}
	return nil
}
