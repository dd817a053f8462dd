package domain

// RosterEntry identifies one room member in room-users and user-joined
// payloads.
type RosterEntry struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}
