package peer

import "context"

const (
	TrackKindAudio = "audio"
	TrackKindVideo = "video"
)

// Track is a single audio or video track. SetEnabled implements mute
// semantics: a disabled track keeps its transport alive but produces
// silence/black, so no renegotiation happens when it flips.
type Track interface {
	Kind() string
	Enabled() bool
	SetEnabled(enabled bool)
	// OnEnded registers a hook fired once when the track stops producing,
	// whether through Stop or because the capture source went away (the
	// user ending a screen share from the browser chrome, for example).
	OnEnded(fn func())
	Stop()
}

// MediaStream groups the tracks of one capture source.
type MediaStream interface {
	AudioTracks() []Track
	VideoTracks() []Track
	Stop()
}

// MediaDevices acquires local capture streams. Implementations report
// denial or missing hardware as *MediaAccessError.
type MediaDevices interface {
	GetUserMedia(ctx context.Context) (MediaStream, error)
	GetDisplayMedia(ctx context.Context) (MediaStream, error)
}

// Stream is a plain MediaStream over a fixed set of tracks.
type Stream struct {
	audio []Track
	video []Track
}

func NewStream(tracks ...Track) *Stream {
	s := &Stream{}
	for _, t := range tracks {
		switch t.Kind() {
		case TrackKindAudio:
			s.audio = append(s.audio, t)
		case TrackKindVideo:
			s.video = append(s.video, t)
		}
	}
	return s
}

func (s *Stream) AudioTracks() []Track {
	return s.audio
}

func (s *Stream) VideoTracks() []Track {
	return s.video
}

func (s *Stream) Stop() {
	for _, t := range s.audio {
		t.Stop()
	}
	for _, t := range s.video {
		t.Stop()
	}
}
