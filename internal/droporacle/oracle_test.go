package droporacle

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockIdempotentRefreshesExpiry(t *testing.T) {
	o, err := New("")
	require.NoError(t, err)

	addr := netip.MustParseAddr("198.51.100.7")
	prefix := netip.PrefixFrom(addr, 32)

	o.Block(prefix, 50*time.Millisecond)
	assert.True(t, o.IsBlocked(addr))

	time.Sleep(60 * time.Millisecond)
	assert.False(t, o.IsBlocked(addr), "expired block must not match")

	o.Block(prefix, time.Minute)
	o.Block(prefix, time.Minute) // duplicate add refreshes, doesn't stack
	assert.True(t, o.IsBlocked(addr))

	stats := o.Stats()
	assert.Equal(t, 1, stats.ActiveBlocks)
}

func TestWhitelistOverridesNothingButIsQueryable(t *testing.T) {
	o, err := New("")
	require.NoError(t, err)

	addr := netip.MustParseAddr("203.0.113.5")
	o.Whitelist(netip.PrefixFrom(addr, 32))
	assert.True(t, o.IsWhitelisted(addr))
	assert.False(t, o.IsBlocked(addr))
}

func TestSweepRemovesExpiredEntries(t *testing.T) {
	o, err := New("")
	require.NoError(t, err)

	addr := netip.MustParseAddr("192.0.2.1")
	o.Block(netip.PrefixFrom(addr, 32), time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	removed := o.Sweep()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, o.Stats().ActiveBlocks)
}

func TestCIDRBlockMatchesContainedAddress(t *testing.T) {
	o, err := New("")
	require.NoError(t, err)

	prefix := netip.MustParsePrefix("198.51.100.0/24")
	o.Block(prefix, time.Minute)

	assert.True(t, o.IsBlocked(netip.MustParseAddr("198.51.100.42")))
	assert.False(t, o.IsBlocked(netip.MustParseAddr("198.51.101.1")))
}
