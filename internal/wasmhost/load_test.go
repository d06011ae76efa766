package wasmhost

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedModule(t *testing.T) (content, signature []byte, issuerKeyHex string) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	content = append([]byte(nil), wasmMagic...)
	return content, ed25519.Sign(priv, content), hex.EncodeToString(pub)
}

func TestLoadAcceptsValidSignedModule(t *testing.T) {
	content, sig, issuer := signedModule(t)
	desc, err := Load("mod", content, sig, issuer, ClassWAF)
	require.NoError(t, err)
	assert.Equal(t, "mod", desc.Name)
	assert.Equal(t, ClassWAF, desc.Class)
	assert.Equal(t, sha256.Sum256(content), desc.ContentHash)
	assert.NotNil(t, desc.IssuerKey)
}

func TestLoadRejectsBadSignature(t *testing.T) {
	content, _, issuer := signedModule(t)
	tamperedSig := make([]byte, ed25519.SignatureSize)
	_, err := Load("mod", content, tamperedSig, issuer, ClassWAF)
	assert.Error(t, err)
}

func TestLoadRejectsContentTamperedAfterSigning(t *testing.T) {
	content, sig, issuer := signedModule(t)
	content[len(content)-1] ^= 0xFF
	_, err := Load("mod", content, sig, issuer, ClassWAF)
	assert.Error(t, err)
}

func TestLoadRejectsMalformedIssuerKey(t *testing.T) {
	content, sig, _ := signedModule(t)
	_, err := Load("mod", content, sig, "not-hex-and-wrong-length", ClassWAF)
	assert.Error(t, err)
}

func TestLoadRejectsOversizedWAFModule(t *testing.T) {
	content := append([]byte(nil), wasmMagic...)
	content = append(content, make([]byte, maxModuleSizeWAF)...)
	_, sig, issuer := signedModule(t)
	_, err := Load("mod", content, sig, issuer, ClassWAF)
	assert.Error(t, err)
}

func TestLoadRejectsOversizedEdgeFunctionModule(t *testing.T) {
	content := append([]byte(nil), wasmMagic...)
	content = append(content, make([]byte, maxModuleSizeEdgeFunction)...)
	_, sig, issuer := signedModule(t)
	_, err := Load("mod", content, sig, issuer, ClassEdgeFunction)
	assert.Error(t, err)
}

func TestLoadRejectsMissingWasmHeader(t *testing.T) {
	content := []byte("not a wasm binary")
	_, sig, issuer := signedModule(t)
	_, err := Load("mod", content, sig, issuer, ClassWAF)
	assert.Error(t, err)
}

func TestLoadRejectsUnknownClass(t *testing.T) {
	content, sig, issuer := signedModule(t)
	_, err := Load("mod", content, sig, issuer, Class("bogus"))
	assert.Error(t, err)
}

func TestLoadRejectsUnsignedModuleInDefaultBuild(t *testing.T) {
	content := append([]byte(nil), wasmMagic...)
	_, err := Load("mod", content, nil, "", ClassWAF)
	assert.Error(t, err, "unsigned modules must be refused unless built with the dev escape hatch tag")
}

func TestVerifyContentAddressAcceptsMatchingHash(t *testing.T) {
	content := []byte("module bytes")
	sum := sha256.Sum256(content)
	cid := fmt.Sprintf("sha256:%x", sum)
	assert.NoError(t, VerifyContentAddress(content, cid))
}

func TestVerifyContentAddressRejectsMismatch(t *testing.T) {
	content := []byte("module bytes")
	other := sha256.Sum256([]byte("different bytes"))
	cid := fmt.Sprintf("sha256:%x", other)
	assert.Error(t, VerifyContentAddress(content, cid))
}

func TestVerifyContentAddressRejectsUnsupportedScheme(t *testing.T) {
	assert.Error(t, VerifyContentAddress([]byte("x"), "md5:deadbeef"))
}
