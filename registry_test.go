package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeCode(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"already normal", "ABCD", "ABCD"},
		{"lowercase", "abcd", "ABCD"},
		{"surrounding whitespace", "  abcd  ", "ABCD"},
		{"punctuation stripped", "ab-cd", "ABCD"},
		{"digits kept", "ab23", "AB23"},
		{"capped at eight", "abcdefghijkl", "ABCDEFGH"},
		{"empty", "", ""},
		{"only junk", " -!? ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeCode(tt.in))
		})
	}
}

func TestRoomCodeProperties(t *testing.T) {
	reg := &Registry{rooms: make(map[string]*Room), cfg: testCfg()}

	for i := 0; i < 200; i++ {
		code := reg.newRoomCodeLocked()

		require.Len(t, code, roomCodeLength)
		for _, r := range code {
			assert.Contains(t, roomCodeAlphabet, string(r))
		}
		assert.Equal(t, code, normalizeCode(code), "codes survive normalization")
	}
}

func TestCreateLookupDestroy(t *testing.T) {
	reg := newRegistry(testCfg())

	room := reg.CreateRoom("host")
	require.NotNil(t, room)
	require.Len(t, room.code, roomCodeLength)
	t.Cleanup(func() { reg.Destroy(room.code, "test over") })

	found, ok := reg.Lookup(room.code)
	require.True(t, ok)
	assert.Same(t, room, found)

	// Clients type codes sloppily; lookup normalizes.
	found, ok = reg.Lookup("  " + room.code + "  ")
	require.True(t, ok)
	assert.Same(t, room, found)

	reg.Destroy(room.code, "test")

	_, ok = reg.Lookup(room.code)
	assert.False(t, ok)

	require.Eventually(t, func() bool {
		select {
		case <-room.done:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond, "room loop exits after destroy")

	// A second destroy for the same code is a no-op.
	reg.Destroy(room.code, "again")
}

func TestLookupUnknownCode(t *testing.T) {
	reg := newRegistry(testCfg())

	_, ok := reg.Lookup("ZZZZ")
	assert.False(t, ok)
}
