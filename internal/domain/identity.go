package domain

import (
	"crypto/rand"
	"strings"

	"github.com/google/uuid"
)

const (
	RoomCodeLength = 6

	// No 0/O/1/I: codes are read aloud and typed by hand.
	roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// NewParticipantID returns an opaque per-client identifier. It is generated
// once at startup and is not a durable identity; a restarted client gets a
// fresh one.
func NewParticipantID() string {
	return "user-" + uuid.NewString()
}

// NewRoomCode returns a fresh 6-character room code. No uniqueness check is
// performed: the key space makes collisions negligible, and a join racing
// into an occupied room is handled as a normal admission case, not an error.
func NewRoomCode() string {
	buf := make([]byte, RoomCodeLength)
	_, _ = rand.Read(buf)

	var b strings.Builder
	b.Grow(RoomCodeLength)
	for _, c := range buf {
		// Alphabet length is 32, so masking keeps the distribution uniform.
		b.WriteByte(roomCodeAlphabet[c&31])
	}
	return b.String()
}

// ValidRoomCode reports whether s has the exact shape of a room code.
// Callers should uppercase user input first; validation is strict.
func ValidRoomCode(s string) bool {
	if len(s) != RoomCodeLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !strings.ContainsRune(roomCodeAlphabet, rune(s[i])) {
			return false
		}
	}
	return true
}
