package peer

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
)

// signalPayload is the opaque-to-the-server content of a signal event:
// either a session description or a trickled ICE candidate.
type signalPayload struct {
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// Factory builds pion-backed peer connections sharing one ICE configuration.
type Factory struct {
	config webrtc.Configuration
}

func NewFactory(stunServers []string) *Factory {
	var config webrtc.Configuration
	if len(stunServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: stunServers}}
	}
	return &Factory{config: config}
}

func (f *Factory) NewPeerConnection(initiator bool) (PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(f.config)
	if err != nil {
		return nil, err
	}

	conn := &Conn{pc: pc, initiator: initiator}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		init := candidate.ToJSON()
		conn.emit(signalPayload{Candidate: &init})
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		conn.mu.Lock()
		if conn.remote == nil {
			conn.remote = &Stream{}
		}
		track := &remoteTrack{track: remote}
		switch remote.Kind() {
		case webrtc.RTPCodecTypeAudio:
			conn.remote.audio = append(conn.remote.audio, track)
		default:
			conn.remote.video = append(conn.remote.video, track)
		}
		stream := conn.remote
		fn := conn.onRemoteStream
		conn.mu.Unlock()

		if fn != nil {
			fn(stream)
		}
	})

	return conn, nil
}

// Conn implements PeerConnection on a pion RTCPeerConnection.
type Conn struct {
	mu sync.Mutex

	pc        *webrtc.PeerConnection
	initiator bool

	onSignal       func(json.RawMessage)
	onRemoteStream func(MediaStream)

	videoSender *webrtc.RTPSender
	remote      *Stream

	// Candidates received before the remote description is applied.
	pendingCandidates []webrtc.ICECandidateInit
	remoteApplied     bool
}

func (c *Conn) OnSignal(fn func(payload json.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSignal = fn
}

func (c *Conn) OnRemoteStream(fn func(stream MediaStream)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRemoteStream = fn
}

func (c *Conn) AddStream(stream MediaStream) error {
	tracks := make([]Track, 0, 2)
	tracks = append(tracks, stream.AudioTracks()...)
	tracks = append(tracks, stream.VideoTracks()...)
	for _, t := range tracks {
		provider, ok := t.(LocalTrackProvider)
		if !ok {
			return errors.New("track does not provide a webrtc local track")
		}
		sender, err := c.pc.AddTrack(provider.WebRTCTrack())
		if err != nil {
			return err
		}
		if t.Kind() == TrackKindVideo {
			c.mu.Lock()
			c.videoSender = sender
			c.mu.Unlock()
		}
	}

	if c.initiator {
		return c.negotiate()
	}
	return nil
}

func (c *Conn) ReplaceVideoTrack(t Track) error {
	provider, ok := t.(LocalTrackProvider)
	if !ok {
		return errors.New("track does not provide a webrtc local track")
	}

	c.mu.Lock()
	sender := c.videoSender
	c.mu.Unlock()

	if sender == nil {
		return errors.New("no outgoing video track to replace")
	}
	return sender.ReplaceTrack(provider.WebRTCTrack())
}

func (c *Conn) Signal(payload json.RawMessage) error {
	var p signalPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}

	switch {
	case p.SDP != nil:
		return c.applyDescription(*p.SDP)
	case p.Candidate != nil:
		return c.addCandidate(*p.Candidate)
	}
	return nil
}

func (c *Conn) Close() error {
	return c.pc.Close()
}

func (c *Conn) negotiate() error {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return err
	}
	c.emit(signalPayload{SDP: &offer})
	return nil
}

func (c *Conn) applyDescription(desc webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return err
	}
	if err := c.flushCandidates(); err != nil {
		return err
	}

	if desc.Type != webrtc.SDPTypeOffer {
		return nil
	}

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return err
	}
	c.emit(signalPayload{SDP: &answer})
	return nil
}

func (c *Conn) addCandidate(candidate webrtc.ICECandidateInit) error {
	c.mu.Lock()
	if !c.remoteApplied {
		c.pendingCandidates = append(c.pendingCandidates, candidate)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	return c.pc.AddICECandidate(candidate)
}

func (c *Conn) flushCandidates() error {
	c.mu.Lock()
	c.remoteApplied = true
	pending := c.pendingCandidates
	c.pendingCandidates = nil
	c.mu.Unlock()

	for _, candidate := range pending {
		if err := c.pc.AddICECandidate(candidate); err != nil {
			return err
		}
	}
	return nil
}

func (c *Conn) emit(p signalPayload) {
	c.mu.Lock()
	fn := c.onSignal
	c.mu.Unlock()

	if fn == nil {
		return
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return
	}
	fn(payload)
}

// LocalTrackProvider is implemented by tracks that can feed a pion peer
// connection.
type LocalTrackProvider interface {
	WebRTCTrack() webrtc.TrackLocal
}

// SampleTrack adapts a local capture source to both the session's enabled
// switch and pion's sample sink. A disabled track drops samples instead of
// renegotiating, so remote peers just see silence/black.
type SampleTrack struct {
	mu      sync.Mutex
	local   *webrtc.TrackLocalStaticSample
	kind    string
	enabled bool
	stopped bool
	onEnded func()
}

func NewSampleTrack(kind, id, streamID string, capability webrtc.RTPCodecCapability) (*SampleTrack, error) {
	local, err := webrtc.NewTrackLocalStaticSample(capability, id, streamID)
	if err != nil {
		return nil, err
	}
	return &SampleTrack{
		local:   local,
		kind:    kind,
		enabled: true,
	}, nil
}

// WriteSample forwards one captured sample. Muted or stopped tracks swallow
// it.
func (t *SampleTrack) WriteSample(sample media.Sample) error {
	t.mu.Lock()
	ok := t.enabled && !t.stopped
	t.mu.Unlock()

	if !ok {
		return nil
	}
	return t.local.WriteSample(sample)
}

func (t *SampleTrack) WebRTCTrack() webrtc.TrackLocal {
	return t.local
}

func (t *SampleTrack) Kind() string {
	return t.kind
}

func (t *SampleTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *SampleTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *SampleTrack) OnEnded(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEnded = fn
}

func (t *SampleTrack) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	fn := t.onEnded
	t.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// remoteTrack wraps an inbound pion track. Enable/disable is a sender-side
// concept, so it is inert here.
type remoteTrack struct {
	track *webrtc.TrackRemote
}

func (t *remoteTrack) Kind() string {
	if t.track.Kind() == webrtc.RTPCodecTypeAudio {
		return TrackKindAudio
	}
	return TrackKindVideo
}

func (t *remoteTrack) Enabled() bool {
	return true
}

func (t *remoteTrack) SetEnabled(bool) {}

func (t *remoteTrack) OnEnded(func()) {}

func (t *remoteTrack) Stop() {}
