package id

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTerminalID(t *testing.T) {
	tid := NewTerminalID()
	assert.True(t, IsTerminalID(tid.String()))
	assert.Contains(t, tid.String(), "term_")
}

func TestTerminalIDsAreUnique(t *testing.T) {
	seen := make(map[TerminalID]bool)
	for i := 0; i < 1000; i++ {
		tid := NewTerminalID()
		assert.False(t, seen[tid], "duplicate id %s", tid)
		seen[tid] = true
	}
}

func TestIsTerminalIDRejectsOtherDomains(t *testing.T) {
	rid := NewRequestID()
	assert.False(t, IsTerminalID(rid.String()))
	assert.False(t, IsTerminalID("term_not-a-ulid"))
	assert.False(t, IsTerminalID(""))
}

func TestTimestamp(t *testing.T) {
	before := time.Now().Add(-time.Second)
	tid := NewTerminalID()
	after := time.Now().Add(time.Second)

	ts, err := Timestamp(tid.String())
	require.NoError(t, err)
	assert.True(t, ts.After(before) && ts.Before(after), "timestamp %v outside [%v, %v]", ts, before, after)
}

func TestTimestampRejectsUnprefixed(t *testing.T) {
	_, err := Timestamp("nounderscore")
	assert.Error(t, err)
}
