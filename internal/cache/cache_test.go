package cache

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateKeyRejectsOversized(t *testing.T) {
	assert.NoError(t, ValidateKey("GET:/foo"))
	assert.ErrorIs(t, ValidateKey(strings.Repeat("a", maxKeyBytes+1)), ErrKeyTooLarge)
	assert.ErrorIs(t, ValidateKey(""), ErrKeyTooLarge)
}

func TestValidateKeyRejectsControlChars(t *testing.T) {
	assert.ErrorIs(t, ValidateKey("GET:/foo\r\nX-Injected: 1"), ErrKeyTooLarge)
}

func TestBuildKeyCombinesMethodAndURI(t *testing.T) {
	assert.Equal(t, "GET:/a/b?q=1", BuildKey("GET", "/a/b?q=1"))
}

func TestCacheabilityNoStoreNeverCached(t *testing.T) {
	h := http.Header{"Cache-Control": []string{"no-store"}}
	_, storable := cacheability(h, defaultTTL)
	assert.False(t, storable)
}

func TestCacheabilityPrivateNeverCached(t *testing.T) {
	h := http.Header{"Cache-Control": []string{"private, max-age=60"}}
	_, storable := cacheability(h, defaultTTL)
	assert.False(t, storable)
}

func TestCacheabilityMaxAgeOverridesDefault(t *testing.T) {
	h := http.Header{"Cache-Control": []string{"max-age=120"}}
	ttl, storable := cacheability(h, defaultTTL)
	assert.True(t, storable)
	assert.Equal(t, 120*time.Second, ttl)
}

func TestCacheabilityZeroMaxAgeNotStored(t *testing.T) {
	h := http.Header{"Cache-Control": []string{"max-age=0"}}
	_, storable := cacheability(h, defaultTTL)
	assert.False(t, storable)
}

func TestCacheabilityNoHeaderUsesDefault(t *testing.T) {
	ttl, storable := cacheability(http.Header{}, defaultTTL)
	assert.True(t, storable)
	assert.Equal(t, defaultTTL, ttl)
}

func TestEncodeDecodeEntryRoundTrip(t *testing.T) {
	e := &Entry{
		Status: 200,
		Header: http.Header{"Content-Type": []string{"text/plain"}},
		Body:   []byte("hello"),
	}
	data, err := encodeEntry(e)
	require.NoError(t, err)
	got, err := decodeEntry(data)
	require.NoError(t, err)
	assert.Equal(t, e.Status, got.Status)
	assert.Equal(t, e.Body, got.Body)
	assert.Equal(t, "text/plain", got.Header.Get("Content-Type"))
}
