package peer

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOpusTrack(t *testing.T, id, streamID string) *SampleTrack {
	t.Helper()
	track, err := NewSampleTrack(TrackKindAudio, id, streamID,
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2})
	require.NoError(t, err)
	return track
}

func newVP8Track(t *testing.T, id, streamID string) *SampleTrack {
	t.Helper()
	track, err := NewSampleTrack(TrackKindVideo, id, streamID,
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000})
	require.NoError(t, err)
	return track
}

// Two connections wired back to back: each one's outbound payloads feed the
// other's Signal, the way the relay would carry them between clients.
func TestConnLoopbackEstablishesICE(t *testing.T) {
	factory := NewFactory(nil)

	initiator, err := factory.NewPeerConnection(true)
	require.NoError(t, err)
	answerer, err := factory.NewPeerConnection(false)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = initiator.Close()
		_ = answerer.Close()
	})

	initiator.OnSignal(func(payload json.RawMessage) {
		_ = answerer.Signal(payload)
	})
	answerer.OnSignal(func(payload json.RawMessage) {
		_ = initiator.Signal(payload)
	})

	connected := make(chan struct{})
	var once sync.Once
	answerer.(*Conn).pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		if state == webrtc.ICEConnectionStateConnected {
			once.Do(func() { close(connected) })
		}
	})

	camera := newVP8Track(t, "video0", "camera")
	require.NoError(t, answerer.AddStream(NewStream(newOpusTrack(t, "audio1", "camera"), newVP8Track(t, "video1", "camera"))))
	require.NoError(t, initiator.AddStream(NewStream(newOpusTrack(t, "audio0", "camera"), camera)))

	select {
	case <-connected:
	case <-time.After(10 * time.Second):
		t.Fatal("ICE never reached connected")
	}

	// Mid-call video swap goes through the live sender without renegotiating.
	require.NoError(t, initiator.ReplaceVideoTrack(newVP8Track(t, "screen0", "screen")))
}

func TestConnBuffersCandidatesBeforeRemoteDescription(t *testing.T) {
	factory := NewFactory(nil)

	initiator, err := factory.NewPeerConnection(true)
	require.NoError(t, err)
	answerer, err := factory.NewPeerConnection(false)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = initiator.Close()
		_ = answerer.Close()
	})

	var mu sync.Mutex
	var offer json.RawMessage
	var candidates []json.RawMessage
	initiator.OnSignal(func(payload json.RawMessage) {
		var p signalPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if p.SDP != nil {
			offer = payload
			return
		}
		candidates = append(candidates, payload)
	})

	answers := make(chan json.RawMessage, 16)
	answerer.OnSignal(func(payload json.RawMessage) {
		answers <- payload
	})

	require.NoError(t, initiator.AddStream(NewStream(newOpusTrack(t, "audio0", "camera"), newVP8Track(t, "video0", "camera"))))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return offer != nil && len(candidates) > 0
	}, 5*time.Second, 10*time.Millisecond, "initiator produced no offer or candidates")

	mu.Lock()
	offerPayload := offer
	queued := make([]json.RawMessage, len(candidates))
	copy(queued, candidates)
	mu.Unlock()

	// Trickled candidates outrunning the offer must queue, not fail.
	ac := answerer.(*Conn)
	for _, candidate := range queued {
		require.NoError(t, answerer.Signal(candidate))
	}
	ac.mu.Lock()
	pending := len(ac.pendingCandidates)
	ac.mu.Unlock()
	assert.Equal(t, len(queued), pending)

	require.NoError(t, answerer.Signal(offerPayload))

	ac.mu.Lock()
	pending = len(ac.pendingCandidates)
	ac.mu.Unlock()
	assert.Zero(t, pending, "applying the offer should flush queued candidates")

	deadline := time.After(5 * time.Second)
	for {
		select {
		case payload := <-answers:
			var p signalPayload
			require.NoError(t, json.Unmarshal(payload, &p))
			if p.SDP != nil {
				assert.Equal(t, webrtc.SDPTypeAnswer, p.SDP.Type)
				return
			}
		case <-deadline:
			t.Fatal("answerer never produced an answer")
		}
	}
}
