package tlsfp

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildClientHello(t *testing.T, version uint16, ciphers, exts, groups []uint16, points []uint8, alpn []string, sni string) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, version))

	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint16(len(ciphers))))
	for _, c := range ciphers {
		require.NoError(t, binary.Write(&buf, binary.BigEndian, c))
	}
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint16(len(exts))))
	for _, e := range exts {
		require.NoError(t, binary.Write(&buf, binary.BigEndian, e))
	}
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint16(len(groups))))
	for _, g := range groups {
		require.NoError(t, binary.Write(&buf, binary.BigEndian, g))
	}
	buf.WriteByte(uint8(len(points)))
	buf.Write(points)

	buf.WriteByte(uint8(len(alpn)))
	for _, a := range alpn {
		buf.WriteByte(uint8(len(a)))
		buf.WriteString(a)
	}

	buf.WriteByte(uint8(len(sni)))
	buf.WriteString(sni)

	return buf.Bytes()
}

func TestFingerprintDeterministic(t *testing.T) {
	raw := buildClientHello(t, 0x0303, []uint16{0x1301, 0x1302}, []uint16{0, 10, 11}, []uint16{23, 24}, []uint8{0}, []string{"h2", "http/1.1"}, "example.com")

	r1, err := Fingerprint(raw)
	require.NoError(t, err)
	r2, err := Fingerprint(raw)
	require.NoError(t, err)

	assert.Equal(t, r1, r2)
	assert.Len(t, r1.JA3, 64)
	assert.Len(t, r1.JA4, 64)
}

func TestFingerprintDiffersForDistinctInputs(t *testing.T) {
	a := buildClientHello(t, 0x0303, []uint16{0x1301}, []uint16{0}, []uint16{23}, []uint8{0}, nil, "")
	b := buildClientHello(t, 0x0303, []uint16{0x1302}, []uint16{0}, []uint16{23}, []uint8{0}, nil, "")

	ra, err := Fingerprint(a)
	require.NoError(t, err)
	rb, err := Fingerprint(b)
	require.NoError(t, err)

	assert.NotEqual(t, ra.JA3, rb.JA3)
}

func TestJA3OrderInsensitiveUnlikeJA4(t *testing.T) {
	a := buildClientHello(t, 0x0303, []uint16{1, 2, 3}, []uint16{0}, []uint16{23}, []uint8{0}, nil, "")
	b := buildClientHello(t, 0x0303, []uint16{3, 2, 1}, []uint16{0}, []uint16{23}, []uint8{0}, nil, "")

	ra, err := Fingerprint(a)
	require.NoError(t, err)
	rb, err := Fingerprint(b)
	require.NoError(t, err)

	assert.Equal(t, ra.JA3, rb.JA3, "JA3 sorts ciphers so order shouldn't matter")
	assert.NotEqual(t, ra.JA4, rb.JA4, "JA4 preserves wire order")
}

func TestRejectsOversizedInput(t *testing.T) {
	raw := make([]byte, MaxClientHelloBytes+1)
	_, err := Fingerprint(raw)
	require.ErrorIs(t, err, ErrMalformedClientHello)
}

func TestRejectsTruncatedInput(t *testing.T) {
	raw := []byte{0x03, 0x03, 0x00} // version then truncated cipher count
	_, err := Fingerprint(raw)
	require.ErrorIs(t, err, ErrMalformedClientHello)
}

func TestCacheExpiryAndEviction(t *testing.T) {
	c := NewCache()
	c.Set("digest-a", "human")
	v, ok := c.Get("digest-a")
	require.True(t, ok)
	assert.Equal(t, "human", v)

	c.capacity = 2
	c.Set("digest-b", "bot")
	c.Set("digest-c", "bot")
	_, ok = c.Get("digest-a")
	assert.False(t, ok, "least recently used entry is evicted past capacity")
	assert.Equal(t, 2, c.Len())

	c.index["digest-b"].Value.(*cacheEntry).lastSeen = time.Now().Add(-entryTTL - time.Minute)
	_, ok = c.Get("digest-b")
	assert.False(t, ok, "entry idle longer than entryTTL expires")
}
