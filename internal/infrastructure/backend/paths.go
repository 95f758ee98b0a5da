package backend

// Room addressing. One subtree per room:
//
//	rooms/{code}/settings           RoomSettings blob
//	rooms/{code}/presence/{pid}     bool, the live "connected now" flag
//	rooms/{code}/members/{pid}      Participant record (joinedAt, isHost)
//	rooms/{code}/messages/{key}     append log of Message values

func RoomPath(code string) string {
	return "rooms/" + code
}

func SettingsPath(code string) string {
	return RoomPath(code) + "/settings"
}

func PresencePath(code string) string {
	return RoomPath(code) + "/presence"
}

func PresenceEntryPath(code, participantID string) string {
	return PresencePath(code) + "/" + participantID
}

func MembersPath(code string) string {
	return RoomPath(code) + "/members"
}

func MemberEntryPath(code, participantID string) string {
	return MembersPath(code) + "/" + participantID
}

func MessagesPath(code string) string {
	return RoomPath(code) + "/messages"
}
