package domain

import "time"

// RoomSettings is the host-controlled room configuration. It is persisted
// remotely under the room record so late joiners pick it up.
type RoomSettings struct {
	MaxMembers         int  `json:"maxMembers"`
	ExpireGraceSeconds int  `json:"expireGraceSeconds"`
	WaitForRejoin      bool `json:"waitForRejoin"`
}

func DefaultSettings() RoomSettings {
	return RoomSettings{
		MaxMembers:         2,
		ExpireGraceSeconds: 5,
		WaitForRejoin:      true,
	}
}

func (s RoomSettings) Validate() error {
	if s.MaxMembers < 2 {
		return ErrInvalidInput
	}
	if s.ExpireGraceSeconds < 0 {
		return ErrInvalidInput
	}
	return nil
}

func (s RoomSettings) Grace() time.Duration {
	return time.Duration(s.ExpireGraceSeconds) * time.Second
}

// Room is the local view of a session aggregate. Membership and messages
// live in the shared backend; only the identity and settings are cached here.
type Room struct {
	Code     string       `json:"code"`
	HostID   string       `json:"hostId"`
	Settings RoomSettings `json:"settings"`
}
