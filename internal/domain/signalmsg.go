package domain

import "encoding/json"

// Signaling event types carried over the room websocket.
const (
	EventJoin       = "join"       // client -> server, register into a room
	EventRoomUsers  = "room-users" // server -> client, roster for the new member
	EventUserJoined = "user-joined"
	EventSignal     = "signal" // offer/answer/ICE relay, payload opaque
	EventMessage    = "message"
	EventUserLeft   = "user-left"
)

// SignalMessage is the wire format for every event on the signaling channel.
// Only the fields relevant to a given Type are populated. Signal carries
// WebRTC SDP/ICE data which the server forwards verbatim and never inspects.
type SignalMessage struct {
	Type     string          `json:"type"`
	Room     string          `json:"room,omitempty"`
	Username string          `json:"username,omitempty"`
	ID       string          `json:"id,omitempty"`
	From     string          `json:"from,omitempty"`
	To       string          `json:"to,omitempty"`
	Signal   json.RawMessage `json:"signal,omitempty"`
	Content  string          `json:"content,omitempty"`
	Time     string          `json:"time,omitempty"`
	Users    []RosterEntry   `json:"users,omitempty"`
}
