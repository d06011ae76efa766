package wasmhost

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validWasm is the smallest byte string that passes the Wasm header
// check Load performs; no test here exercises actual module execution
// (Runtime degrades to demo mode without a real wasmtime binary), so an
// empty module body is enough.
var validWasm = append([]byte(nil), wasmMagic...)

// mustLoad signs validWasm with a fresh key pair and loads it, so tests
// exercise the real signature-verified path rather than the dev escape
// hatch (which is compiled out of the default build anyway).
func mustLoad(t *testing.T, name string, class Class) *ModuleDescriptor {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	sig := ed25519.Sign(priv, validWasm)
	desc, err := Load(name, validWasm, sig, hex.EncodeToString(pub), class)
	require.NoError(t, err)
	return desc
}

func TestRuntimeDemoModeWhenBinaryMissing(t *testing.T) {
	rt := NewRuntime("/nonexistent/wasmtime-binary-xyz", t.TempDir())
	assert.False(t, rt.IsAvailable())

	result, err := rt.Invoke(context.Background(), "any", DefaultQuota(), Invocation{RequestID: "r1"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, result.DemoMode)
}

func TestPoolAcquireReleaseRoundTrip(t *testing.T) {
	p := NewPool("test-mod", 1, 4)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	h, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NotNil(t, h)

	active, _, _ := p.Stats()
	assert.Equal(t, 1, active)

	p.Release(h)
}

func TestManagerWAFModuleFaultFailsOpen(t *testing.T) {
	rt := NewRuntime("/nonexistent/wasmtime-binary-xyz", t.TempDir())
	m := NewManager(rt, true)
	desc := mustLoad(t, "waf-mod", ClassWAF)
	require.NoError(t, m.Register(desc, DefaultQuota(), 1, 2))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	result, err := m.Invoke(ctx, "waf-mod", map[string]string{"x": "y"})
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestManagerEdgeFunctionFailsClosedByDefault(t *testing.T) {
	rt := NewRuntime("/nonexistent/wasmtime-binary-xyz", t.TempDir())
	m := NewManager(rt, true)
	desc := mustLoad(t, "edge-mod", ClassEdgeFunction)
	require.NoError(t, m.Register(desc, DefaultQuota(), 1, 2))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := m.Invoke(ctx, "edge-mod", map[string]string{"x": "y"})
	require.Error(t, err)
	var modErr *ModuleError
	assert.ErrorAs(t, err, &modErr)
}

func TestManagerEdgeFunctionFailsOpenWhenConfigured(t *testing.T) {
	rt := NewRuntime("/nonexistent/wasmtime-binary-xyz", t.TempDir())
	m := NewManager(rt, false)
	desc := mustLoad(t, "edge-mod2", ClassEdgeFunction)
	require.NoError(t, m.Register(desc, DefaultQuota(), 1, 2))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	result, err := m.Invoke(ctx, "edge-mod2", map[string]string{"x": "y"})
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestManagerInvokeRejectsUnregisteredModule(t *testing.T) {
	rt := NewRuntime("/nonexistent/wasmtime-binary-xyz", t.TempDir())
	m := NewManager(rt, true)

	_, err := m.Invoke(context.Background(), "never-registered", nil)
	require.Error(t, err)
	var modErr *ModuleError
	assert.ErrorAs(t, err, &modErr)
}

func TestGuardOutboundBlocksLoopback(t *testing.T) {
	err := guardOutbound("localhost")
	assert.Error(t, err)
}
