package peer

import (
	"encoding/json"

	"github.com/virtualclinic/roomcast/internal/domain"
)

// PeerConnection is one media connection toward a remote room member.
// Replacing the outgoing video track is part of the contract, not something
// callers dig out of transport internals.
type PeerConnection interface {
	// AddStream attaches the local tracks. An initiator connection starts
	// negotiating once its tracks are attached.
	AddStream(stream MediaStream) error

	// ReplaceVideoTrack swaps the outgoing video track in place, without
	// renegotiation. Used for screen share enable/disable.
	ReplaceVideoTrack(t Track) error

	// Signal feeds a remote signaling payload (SDP or ICE) into the
	// connection.
	Signal(payload json.RawMessage) error

	// OnSignal registers the sink for locally produced signaling payloads.
	OnSignal(fn func(payload json.RawMessage))

	// OnRemoteStream registers the sink for the remote media stream.
	OnRemoteStream(fn func(stream MediaStream))

	Close() error
}

// PeerFactory builds peer connections. The initiator side creates the offer;
// the answerer waits for the remote payload.
type PeerFactory interface {
	NewPeerConnection(initiator bool) (PeerConnection, error)
}

// Signaler is the session's outbound half of the signaling channel.
type Signaler interface {
	Send(msg domain.SignalMessage) error
	Close() error
}
