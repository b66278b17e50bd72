package main

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"
)

// Room codes use uppercase letters and digits minus the glyphs that read
// ambiguously on a phone screen (0, 1, O, I). 32 characters, so a random
// byte maps onto the alphabet without bias.
const roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	roomCodeLength     = 4
	roomCodeLengthLong = 6
	roomCodeAttempts   = 16
)

// Registry is the directory of live rooms, keyed by code. It is
// constructed once in ServePage and handed to the handlers that need it.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room
	cfg   *Config
}

func newRegistry(cfg *Config) *Registry {
	reg := &Registry{
		rooms: make(map[string]*Room),
		cfg:   cfg,
	}
	if cfg.roomTimeout > 0 {
		go reg.reaperLoop()
	}
	return reg
}

// normalizeCode maps whatever a client typed onto the code keyspace:
// trimmed, upper-cased, stripped of anything non-alphanumeric, capped at
// eight characters.
func normalizeCode(code string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(code)) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
		if b.Len() >= 8 {
			break
		}
	}
	return b.String()
}

// CreateRoom allocates a collision-free code, registers the room, and
// starts its command loop.
func (reg *Registry) CreateRoom(hostID PlayerID) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	code := reg.newRoomCodeLocked()
	room := newRoom(code, hostID, reg)
	reg.rooms[code] = room
	go room.run(reg.cfg)

	logf(reg.cfg, "ROOMS: Created room %s", code)

	return room
}

// newRoomCodeLocked draws random codes until one is free. Four
// characters cover the practical case; if the space somehow looks
// exhausted it falls back to six.
func (reg *Registry) newRoomCodeLocked() string {
	length := roomCodeLength
	for attempt := 0; ; attempt++ {
		if attempt == roomCodeAttempts {
			length = roomCodeLengthLong
		}

		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, length)
		for i := range out {
			out[i] = roomCodeAlphabet[int(buf[i])%len(roomCodeAlphabet)]
		}
		code := string(out)

		if _, exists := reg.rooms[code]; !exists {
			return code
		}
	}
}

func (reg *Registry) Lookup(code string) (*Room, bool) {
	reg.mu.Lock()
	room, ok := reg.rooms[normalizeCode(code)]
	reg.mu.Unlock()
	return room, ok
}

// Destroy removes the room from the directory and signals its loop to
// notify members and close their connections. Safe to call from inside
// the room's own loop; a second call for the same code is a no-op.
func (reg *Registry) Destroy(code, reason string) {
	normalized := normalizeCode(code)

	reg.mu.Lock()
	room, ok := reg.rooms[normalized]
	delete(reg.rooms, normalized)
	reg.mu.Unlock()

	if ok {
		room.shutdown(reason)
	}
}

// reaperLoop periodically destroys rooms idle longer than the configured
// timeout.
func (reg *Registry) reaperLoop() {
	ticker := time.NewTicker(reg.cfg.roomTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-reg.cfg.roomTimeout)

		reg.mu.Lock()
		var idle []string
		for code, room := range reg.rooms {
			if room.idleSince().Before(cutoff) {
				idle = append(idle, code)
			}
		}
		reg.mu.Unlock()

		for _, code := range idle {
			reg.Destroy(code, "idle")
		}
	}
}
