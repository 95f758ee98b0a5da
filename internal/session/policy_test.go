package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fadechat/fadechat/internal/domain"
)

func TestCanAdmit(t *testing.T) {
	settings := domain.RoomSettings{MaxMembers: 2}

	tests := []struct {
		name    string
		present map[string]bool
		want    bool
	}{
		{"empty room", map[string]bool{}, true},
		{"one present", map[string]bool{"user-a": true}, true},
		{"full", map[string]bool{"user-a": true, "user-b": true}, false},
		{"departed members do not count", map[string]bool{"user-a": true, "user-b": false}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanAdmit(tt.present, settings))
		})
	}
}

func TestIsCounterpartPresent(t *testing.T) {
	assert.False(t, IsCounterpartPresent(map[string]bool{}, "user-a"))
	assert.False(t, IsCounterpartPresent(map[string]bool{"user-a": true}, "user-a"))
	assert.False(t, IsCounterpartPresent(map[string]bool{"user-b": false}, "user-a"))
	assert.True(t, IsCounterpartPresent(map[string]bool{"user-a": true, "user-b": true}, "user-a"))
}

func TestIsHostPresent(t *testing.T) {
	assert.True(t, IsHostPresent(map[string]bool{"user-h": true}, "user-h"))
	assert.False(t, IsHostPresent(map[string]bool{"user-h": false}, "user-h"))
	assert.False(t, IsHostPresent(map[string]bool{}, "user-h"))
}
