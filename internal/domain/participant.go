package domain

import "time"

// Participant is the membership record kept per participant under a room.
// The ID is the record key, not part of the stored value.
type Participant struct {
	ID       string    `json:"-"`
	JoinedAt time.Time `json:"joinedAt"`
	IsHost   bool      `json:"isHost"`
}

func NewParticipant(id string, isHost bool) *Participant {
	return &Participant{
		ID:       id,
		JoinedAt: time.Now().UTC(),
		IsHost:   isHost,
	}
}
