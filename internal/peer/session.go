// Package peer runs on the client and turns roster/presence events from the
// signaling server into concrete peer-to-peer media connections. All state
// lives in one Session value mutated by explicit handler methods; nothing is
// captured in event-callback closures.
package peer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/virtualclinic/roomcast/internal/domain"
	"github.com/virtualclinic/roomcast/lib/logger/sl"
)

// Local media acquisition is the one blocking client-side operation; it gets
// a short fixed timeout and its failure is terminal, not retried.
const mediaAcquireTimeout = 10 * time.Second

// RemotePeer is the client-local view of one remote room member.
type RemotePeer struct {
	ID       string
	Username string
	Conn     PeerConnection
	Stream   MediaStream
}

// Session owns the local media devices and every peer connection for one
// call. It is the single read model the UI subscribes to.
type Session struct {
	mu sync.Mutex

	devices  MediaDevices
	factory  PeerFactory
	signaler Signaler
	log      *slog.Logger

	username string
	room     string
	selfID   string

	localStream  MediaStream
	cameraTrack  Track
	screenStream MediaStream
	screenTrack  Track

	audioEnabled bool
	videoEnabled bool

	peers    map[string]*RemotePeer
	messages []domain.ChatMessage

	closed bool
}

func NewSession(devices MediaDevices, factory PeerFactory, signaler Signaler, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		devices:  devices,
		factory:  factory,
		signaler: signaler,
		log:      log,
		peers:    make(map[string]*RemotePeer),
	}
}

// Start acquires camera/microphone and announces the session to the room.
// A media failure is returned as-is (*MediaAccessError) and the join is not
// sent; the call cannot proceed without local media.
func (s *Session) Start(ctx context.Context, username, room string) error {
	acquireCtx, cancel := context.WithTimeout(ctx, mediaAcquireTimeout)
	defer cancel()

	stream, err := s.devices.GetUserMedia(acquireCtx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		stream.Stop()
		return ErrSessionClosed
	}
	s.username = username
	s.room = room
	s.localStream = stream
	if video := stream.VideoTracks(); len(video) > 0 {
		s.cameraTrack = video[0]
	}
	s.audioEnabled = true
	s.videoEnabled = true
	s.mu.Unlock()

	return s.signaler.Send(domain.SignalMessage{
		Type:     domain.EventJoin,
		Username: username,
		Room:     room,
	})
}

// HandleEvent dispatches one inbound signaling event. The signaling client
// calls it from its read loop, so events arrive in server order.
func (s *Session) HandleEvent(msg domain.SignalMessage) {
	switch msg.Type {
	case domain.EventRoomUsers:
		s.handleRoster(msg)
	case domain.EventUserJoined:
		s.provisionPeer(msg.ID, msg.Username, false)
	case domain.EventSignal:
		s.handleSignal(msg)
	case domain.EventMessage:
		s.handleChat(msg)
	case domain.EventUserLeft:
		s.removePeer(msg.ID)
	default:
		s.log.Debug("unknown signaling event", slog.String("type", msg.Type))
	}
}

// Run pumps events from the signaling client into the session and tears the
// session down when the channel drops, whatever the reason.
func (s *Session) Run(sc *SignalingClient) error {
	err := sc.Listen(s.HandleEvent)
	s.Close()
	return err
}

func (s *Session) handleRoster(msg domain.SignalMessage) {
	s.mu.Lock()
	s.selfID = msg.ID
	s.mu.Unlock()

	// Everyone already in the room gets an initiator connection from us;
	// they answer.
	for _, member := range msg.Users {
		s.provisionPeer(member.ID, member.Username, true)
	}
}

func (s *Session) handleSignal(msg domain.SignalMessage) {
	if msg.From == "" {
		return
	}

	// create-if-absent: a relayed payload can outrun the user-joined
	// broadcast, so an unknown sender gets an answerer connection first.
	remote := s.provisionPeer(msg.From, "", false)
	if remote == nil {
		return
	}
	if err := remote.Conn.Signal(msg.Signal); err != nil {
		s.log.Error("failed to apply signal",
			slog.String("peer_id", msg.From), sl.Err(err))
	}
}

// provisionPeer returns the connection for id, creating it in the given role
// if none exists yet. Safe against duplicate discovery of the same member.
func (s *Session) provisionPeer(id, username string, initiator bool) *RemotePeer {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	if existing, ok := s.peers[id]; ok {
		if existing.Username == "" && username != "" {
			existing.Username = username
		}
		s.mu.Unlock()
		return existing
	}

	conn, err := s.factory.NewPeerConnection(initiator)
	if err != nil {
		s.mu.Unlock()
		s.log.Error("failed to create peer connection",
			slog.String("peer_id", id), sl.Err(err))
		return nil
	}

	remote := &RemotePeer{ID: id, Username: username, Conn: conn}
	s.peers[id] = remote

	localStream := s.localStream
	screenTrack := s.screenTrack
	s.mu.Unlock()

	conn.OnSignal(func(payload json.RawMessage) {
		if err := s.signaler.Send(domain.SignalMessage{
			Type:   domain.EventSignal,
			To:     id,
			Signal: payload,
		}); err != nil && !errors.Is(err, ErrSignalingClosed) {
			s.log.Error("failed to send signal",
				slog.String("peer_id", id), sl.Err(err))
		}
	})
	conn.OnRemoteStream(func(stream MediaStream) {
		s.mu.Lock()
		remote.Stream = stream
		s.mu.Unlock()
	})

	if localStream != nil {
		if err := conn.AddStream(localStream); err != nil {
			s.log.Error("failed to attach local stream",
				slog.String("peer_id", id), sl.Err(err))
		}
	}
	if screenTrack != nil {
		// Members joining mid-share see the screen, not the camera.
		if err := conn.ReplaceVideoTrack(screenTrack); err != nil {
			s.log.Error("failed to attach screen track",
				slog.String("peer_id", id), sl.Err(err))
		}
	}

	return remote
}

func (s *Session) removePeer(id string) {
	s.mu.Lock()
	remote, ok := s.peers[id]
	if ok {
		delete(s.peers, id)
		// Under the lock: the connection's OnRemoteStream callback
		// writes this field from pion's goroutine.
		remote.Stream = nil
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	if err := remote.Conn.Close(); err != nil {
		s.log.Debug("peer close", slog.String("peer_id", id), sl.Err(err))
	}
}

func (s *Session) handleChat(msg domain.SignalMessage) {
	chat := domain.ChatMessage{
		Room:     msg.Room,
		From:     msg.From,
		Username: msg.Username,
		Content:  msg.Content,
	}
	if id, err := uuid.Parse(msg.ID); err == nil {
		chat.ID = id
	}
	if ts, err := time.Parse(time.RFC3339Nano, msg.Time); err == nil {
		chat.CreatedAt = ts
	}

	s.mu.Lock()
	s.messages = append(s.messages, chat)
	s.mu.Unlock()
}

// SendChat relays content to the room and echoes it into the local history.
// The server broadcasts to everyone else only, so there is exactly one copy
// per message on every client.
func (s *Session) SendChat(content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	room := s.room
	echo := domain.ChatMessage{
		ID:        uuid.New(),
		Room:      room,
		From:      s.selfID,
		Username:  s.username,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	s.mu.Unlock()

	if err := s.signaler.Send(domain.SignalMessage{
		Type:    domain.EventMessage,
		Room:    room,
		Content: content,
	}); err != nil {
		return err
	}

	// Echo only once the relay has the message; a failed send must not
	// leave history no peer ever received.
	s.mu.Lock()
	s.messages = append(s.messages, echo)
	s.mu.Unlock()
	return nil
}

// ToggleAudio flips every local audio track and reports the new state.
// Purely local: peers observe the stream going silent, no message is sent.
func (s *Session) ToggleAudio() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audioEnabled = !s.audioEnabled
	if s.localStream != nil {
		for _, t := range s.localStream.AudioTracks() {
			t.SetEnabled(s.audioEnabled)
		}
	}
	return s.audioEnabled
}

// ToggleVideo flips every local video track and reports the new state.
func (s *Session) ToggleVideo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.videoEnabled = !s.videoEnabled
	if s.localStream != nil {
		for _, t := range s.localStream.VideoTracks() {
			t.SetEnabled(s.videoEnabled)
		}
	}
	return s.videoEnabled
}

// StartScreenShare acquires a display capture and swaps it in as the
// outgoing video track on every peer connection. Failure leaves the call on
// camera video; the session continues.
func (s *Session) StartScreenShare(ctx context.Context) error {
	acquireCtx, cancel := context.WithTimeout(ctx, mediaAcquireTimeout)
	defer cancel()

	display, err := s.devices.GetDisplayMedia(acquireCtx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		display.Stop()
		return ErrSessionClosed
	}
	if s.screenStream != nil {
		s.mu.Unlock()
		display.Stop()
		return nil
	}

	video := display.VideoTracks()
	if len(video) == 0 {
		s.mu.Unlock()
		display.Stop()
		return &MediaAccessError{Device: "display", Err: errors.New("capture produced no video track")}
	}

	s.screenStream = display
	s.screenTrack = video[0]
	peers := s.snapshotPeersLocked()
	track := s.screenTrack
	s.mu.Unlock()

	// The user can also end the share from the browser/OS chrome; the
	// ended hook routes that path through the same revert.
	track.OnEnded(func() {
		s.StopScreenShare()
	})

	for _, remote := range peers {
		if err := remote.Conn.ReplaceVideoTrack(track); err != nil {
			s.log.Error("failed to replace video track",
				slog.String("peer_id", remote.ID), sl.Err(err))
		}
	}
	return nil
}

// StopScreenShare stops the capture and restores the camera track on every
// peer connection. Idempotent; also reached via the track's ended hook.
func (s *Session) StopScreenShare() {
	s.mu.Lock()
	stream := s.screenStream
	if stream == nil {
		s.mu.Unlock()
		return
	}
	s.screenStream = nil
	s.screenTrack = nil
	camera := s.cameraTrack
	peers := s.snapshotPeersLocked()
	s.mu.Unlock()

	stream.Stop()

	if camera == nil {
		return
	}
	for _, remote := range peers {
		if err := remote.Conn.ReplaceVideoTrack(camera); err != nil {
			s.log.Error("failed to restore camera track",
				slog.String("peer_id", remote.ID), sl.Err(err))
		}
	}
}

// ToggleScreenShare enables sharing when off and disables it when on.
func (s *Session) ToggleScreenShare(ctx context.Context) error {
	s.mu.Lock()
	sharing := s.screenStream != nil
	s.mu.Unlock()

	if sharing {
		s.StopScreenShare()
		return nil
	}
	return s.StartScreenShare(ctx)
}

// Close releases every local device, destroys every peer connection and
// shuts the signaling channel. It runs on every exit path and calling it
// again is a no-op: camera and microphone must never stay locked behind a
// dead session.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	local := s.localStream
	screen := s.screenStream
	s.localStream = nil
	s.screenStream = nil
	s.screenTrack = nil
	s.cameraTrack = nil
	peers := s.snapshotPeersLocked()
	s.peers = make(map[string]*RemotePeer)
	s.mu.Unlock()

	if screen != nil {
		screen.Stop()
	}
	if local != nil {
		local.Stop()
	}
	for _, remote := range peers {
		remote.Conn.Close()
	}
	s.signaler.Close()
}

// Peers returns the current remote members, for the UI grid.
func (s *Session) Peers() []*RemotePeer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotPeersLocked()
}

// Messages returns the accumulated chat history for this session.
func (s *Session) Messages() []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Session) AudioEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioEnabled
}

func (s *Session) VideoEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videoEnabled
}

func (s *Session) ScreenSharing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screenStream != nil
}

func (s *Session) snapshotPeersLocked() []*RemotePeer {
	out := make([]*RemotePeer, 0, len(s.peers))
	for _, remote := range s.peers {
		out = append(out, remote)
	}
	return out
}
