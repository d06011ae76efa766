package crdtcounter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEpochAcceptsCurrentWindow(t *testing.T) {
	e := NewEpoch(time.Hour)
	assert.True(t, e.Accepts(e.Current()))
}

func TestEpochRejectsStaleWindow(t *testing.T) {
	e := NewEpoch(time.Millisecond)
	stale := e.Current()
	time.Sleep(5 * time.Millisecond)
	assert.False(t, e.Accepts(stale))
	assert.True(t, e.Accepts(e.Current()))
}
