package canonical

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalSortsKeysAtEveryLevel(t *testing.T) {
	v := map[string]interface{}{
		"b": 1,
		"a": map[string]interface{}{"z": 1, "y": 2},
		"c": []interface{}{3, 1, 2},
	}
	out, err := Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"y":2,"z":1},"b":1,"c":[3,1,2]}`, string(out))
}

func TestMarshalRoundTripIsByteIdentical(t *testing.T) {
	v := map[string]interface{}{"x": 1, "y": "hello", "z": []interface{}{1, 2, 3}}
	first, err := Marshal(v)
	require.NoError(t, err)

	var decoded interface{}
	require.NoError(t, json.Unmarshal(first, &decoded))

	second, err := Marshal(decoded)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSignerSignVerify(t *testing.T) {
	signer, err := NewSigner()
	require.NoError(t, err)

	data := []byte("threat record payload")
	sig := signer.Sign(data)
	assert.Len(t, sig, ed25519.SignatureSize)
	assert.True(t, Verify(signer.PublicKey(), data, sig))
	assert.False(t, Verify(signer.PublicKey(), []byte("tampered"), sig))
}

func TestSignerFromSeedIsDeterministic(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}

	a, err := NewSignerFromSeed(seed)
	require.NoError(t, err)
	b, err := NewSignerFromSeed(seed)
	require.NoError(t, err)

	assert.Equal(t, a.PublicKeyHex(), b.PublicKeyHex())

	data := []byte("counter op")
	assert.Equal(t, a.Sign(data), b.Sign(data))
}

func TestNewSignerFromSeedRejectsWrongLength(t *testing.T) {
	_, err := NewSignerFromSeed(make([]byte, 16))
	assert.Error(t, err)
}

func TestSignValueSignsCanonicalEncoding(t *testing.T) {
	signer, err := NewSigner()
	require.NoError(t, err)

	v := map[string]interface{}{"b": 1, "a": 2}
	canonicalBytes, sig, err := signer.SignValue(v)
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"b":1}`, string(canonicalBytes))
	assert.True(t, Verify(signer.PublicKey(), canonicalBytes, sig))
}

func TestVerifyRejectsMalformedPublicKey(t *testing.T) {
	assert.False(t, Verify(ed25519.PublicKey{0x01, 0x02}, []byte("data"), []byte("sig")))
}

func TestSignerPublicKeyHexRoundTrips(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer := &Signer{pub: pub}
	assert.Len(t, signer.PublicKeyHex(), ed25519.PublicKeySize*2)
	decoded, err := hex.DecodeString(signer.PublicKeyHex())
	require.NoError(t, err)
	assert.Equal(t, []byte(pub), decoded)
}
