package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRoomCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code := NewRoomCode()
		require.Len(t, code, RoomCodeLength)
		assert.True(t, ValidRoomCode(code), "generated code %q must validate", code)

		for _, c := range code {
			assert.NotContains(t, "01OI", string(c), "ambiguous character in %q", code)
		}
		seen[code] = true
	}
	assert.Greater(t, len(seen), 90, "codes should not collide this often")
}

func TestValidRoomCode(t *testing.T) {
	tests := []struct {
		name string
		code string
		want bool
	}{
		{"valid", "ABC234", true},
		{"too short", "ABC23", false},
		{"too long", "ABC2345", false},
		{"lowercase", "abc234", false},
		{"ambiguous zero", "ABC230", false},
		{"ambiguous oh", "ABCO34", false},
		{"ambiguous one", "ABC123", false},
		{"ambiguous eye", "ABCI34", false},
		{"empty", "", false},
		{"symbols", "AB-C34", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidRoomCode(tt.code))
		})
	}
}

func TestNewParticipantID(t *testing.T) {
	id := NewParticipantID()
	assert.True(t, strings.HasPrefix(id, "user-"))
	assert.NotEqual(t, id, NewParticipantID())
}
