package session

import "github.com/fadechat/fadechat/internal/domain"

// CanAdmit reports whether one more participant fits under the room's
// member cap. present holds the presence map at join time; only entries
// currently marked present count against the cap.
func CanAdmit(present map[string]bool, settings domain.RoomSettings) bool {
	count := 0
	for _, p := range present {
		if p {
			count++
		}
	}
	return count < settings.MaxMembers
}

// IsCounterpartPresent reports whether anyone other than self is present.
// This is the host's expiration condition: the room lives while at least
// one guest is around.
func IsCounterpartPresent(present map[string]bool, self string) bool {
	for id, p := range present {
		if p && id != self {
			return true
		}
	}
	return false
}

// IsHostPresent is the guest's expiration condition: the room lives while
// the host is around.
func IsHostPresent(present map[string]bool, hostID string) bool {
	return present[hostID]
}
