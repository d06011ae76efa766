package evidence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendChainsHashesAndValidates(t *testing.T) {
	v := NewVault(Config{})

	v.RecordEarlyBlock(context.Background(), "req-1", "203.0.113.1")
	v.RecordWAFMatch(context.Background(), "req-2", "203.0.113.2", "sqli-union-select", "block")
	v.RecordChallengeIssued(context.Background(), "req-3", "203.0.113.3", "chal-abc")

	ok, idx := v.ValidateChain()
	assert.True(t, ok)
	assert.Equal(t, -1, idx)
}

func TestValidateChainDetectsTamperedRecord(t *testing.T) {
	v := NewVault(Config{})
	v.RecordEarlyBlock(context.Background(), "req-1", "203.0.113.1")
	rec := v.RecordWAFMatch(context.Background(), "req-2", "203.0.113.2", "xss-script-tag", "log")

	rec.Rule = "tampered"

	ok, idx := v.ValidateChain()
	assert.False(t, ok)
	assert.Equal(t, 1, idx)
}

func TestQueryFiltersByTypeAndClientIP(t *testing.T) {
	v := NewVault(Config{})
	v.RecordWAFMatch(context.Background(), "req-1", "203.0.113.1", "rule-a", "block")
	v.RecordWAFMatch(context.Background(), "req-2", "203.0.113.2", "rule-b", "log")
	v.RecordEarlyBlock(context.Background(), "req-3", "203.0.113.1")

	results := v.Query(context.Background(), Query{ClientIP: "203.0.113.1"})
	require.Len(t, results, 2)

	wafOnly := v.Query(context.Background(), Query{Type: RecordWAFMatch})
	require.Len(t, wafOnly, 2)
}

func TestProveInclusionSucceedsForAppendedRecordOnly(t *testing.T) {
	v := NewVault(Config{})
	rec := v.RecordWAFMatch(context.Background(), "req-1", "203.0.113.1", "rule-a", "block")

	assert.True(t, v.ProveInclusion(rec.Hash))
	assert.False(t, v.ProveInclusion("not-a-real-hash"))
}

func TestInMemoryStoreSaveAndQuery(t *testing.T) {
	store := NewInMemoryStore()
	v := NewVault(Config{Store: store})

	rec := v.RecordEarlyBlock(context.Background(), "req-1", "203.0.113.9")

	results, err := store.Query(context.Background(), Query{RequestID: "req-1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, rec.ID, results[0].ID)
}
