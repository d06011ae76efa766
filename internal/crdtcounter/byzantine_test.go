package crdtcounter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidatorAdmitsWithinBound(t *testing.T) {
	v := NewValidator(ByzantineConfig{MaxIncrementPerWindow: 100, SuspicionThreshold: 3, UnblockAfter: time.Hour})
	assert.True(t, v.Admit("node-a", 50))
	assert.False(t, v.IsQuarantined("node-a"))
}

func TestValidatorQuarantinesAfterThresholdViolations(t *testing.T) {
	v := NewValidator(ByzantineConfig{MaxIncrementPerWindow: 10, SuspicionThreshold: 2, UnblockAfter: time.Hour})

	assert.False(t, v.Admit("node-a", 100))
	assert.False(t, v.IsQuarantined("node-a"))

	assert.False(t, v.Admit("node-a", 100))
	assert.True(t, v.IsQuarantined("node-a"))

	assert.False(t, v.Admit("node-a", 1))
}

func TestValidatorUnblockClearsQuarantine(t *testing.T) {
	v := NewValidator(ByzantineConfig{MaxIncrementPerWindow: 10, SuspicionThreshold: 1, UnblockAfter: time.Hour})
	v.Admit("node-a", 100)
	assert.True(t, v.IsQuarantined("node-a"))

	v.Unblock("node-a")
	assert.False(t, v.IsQuarantined("node-a"))
	assert.True(t, v.Admit("node-a", 5))
}

func TestValidatorAutoUnblocksAfterCooldown(t *testing.T) {
	v := NewValidator(ByzantineConfig{MaxIncrementPerWindow: 10, SuspicionThreshold: 1, UnblockAfter: time.Millisecond})
	v.Admit("node-a", 100)
	assert.True(t, v.IsQuarantined("node-a"))

	time.Sleep(5 * time.Millisecond)
	assert.True(t, v.Admit("node-a", 1))
	assert.False(t, v.IsQuarantined("node-a"))
}
