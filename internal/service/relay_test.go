package service

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtualclinic/roomcast/internal/domain"
	"github.com/virtualclinic/roomcast/internal/registry"
)

func newTestRelay() *Relay {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRelay(registry.New(), log)
}

func join(relay *Relay, username, room string) *domain.Client {
	c := relay.HandleConnect(nil)
	relay.Dispatch(c, domain.SignalMessage{Type: domain.EventJoin, Username: username, Room: room})
	return c
}

// nextEvent pops one queued event; enqueueing is synchronous so the channel
// already holds everything the handler produced.
func nextEvent(t *testing.T, c *domain.Client) domain.SignalMessage {
	t.Helper()
	select {
	case msg := <-c.Events:
		return msg
	default:
		t.Fatal("expected a queued event")
		return domain.SignalMessage{}
	}
}

func assertNoEvent(t *testing.T, c *domain.Client) {
	t.Helper()
	select {
	case msg := <-c.Events:
		t.Fatalf("unexpected event %q", msg.Type)
	default:
	}
}

func TestJoinRosterAndPresence(t *testing.T) {
	relay := newTestRelay()

	alice := join(relay, "Alice", "alpha")
	roster := nextEvent(t, alice)
	require.Equal(t, domain.EventRoomUsers, roster.Type)
	assert.Equal(t, alice.ID, roster.ID)
	assert.Empty(t, roster.Users)

	bob := join(relay, "Bob", "alpha")

	bobRoster := nextEvent(t, bob)
	require.Equal(t, domain.EventRoomUsers, bobRoster.Type)
	require.Len(t, bobRoster.Users, 1)
	assert.Equal(t, domain.RosterEntry{ID: alice.ID, Username: "Alice"}, bobRoster.Users[0])

	joined := nextEvent(t, alice)
	require.Equal(t, domain.EventUserJoined, joined.Type)
	assert.Equal(t, bob.ID, joined.ID)
	assert.Equal(t, "Bob", joined.Username)

	// Exactly once on both sides.
	assertNoEvent(t, alice)
	assertNoEvent(t, bob)
}

func TestDuplicateJoinIgnored(t *testing.T) {
	relay := newTestRelay()

	alice := join(relay, "Alice", "alpha")
	nextEvent(t, alice)

	relay.Dispatch(alice, domain.SignalMessage{Type: domain.EventJoin, Username: "Alice", Room: "beta"})

	assert.Equal(t, "alpha", alice.Room)
	assertNoEvent(t, alice)
}

func TestSignalRelayedVerbatimAndInOrder(t *testing.T) {
	relay := newTestRelay()

	alice := join(relay, "Alice", "alpha")
	bob := join(relay, "Bob", "alpha")
	nextEvent(t, alice) // room-users
	nextEvent(t, alice) // user-joined for bob
	nextEvent(t, bob)   // room-users

	p1 := json.RawMessage(`{"type":"offer","sdp":"v=0 first"}`)
	p2 := json.RawMessage(`{"candidate":{"candidate":"second"}}`)
	relay.Dispatch(alice, domain.SignalMessage{Type: domain.EventSignal, To: bob.ID, Signal: p1})
	relay.Dispatch(alice, domain.SignalMessage{Type: domain.EventSignal, To: bob.ID, Signal: p2})

	first := nextEvent(t, bob)
	require.Equal(t, domain.EventSignal, first.Type)
	assert.Equal(t, alice.ID, first.From)
	assert.Equal(t, string(p1), string(first.Signal))

	second := nextEvent(t, bob)
	assert.Equal(t, string(p2), string(second.Signal))

	assertNoEvent(t, alice)
}

func TestSignalBeforeJoinDropped(t *testing.T) {
	relay := newTestRelay()

	alice := join(relay, "Alice", "alpha")
	nextEvent(t, alice)

	stray := relay.HandleConnect(nil)
	relay.Dispatch(stray, domain.SignalMessage{Type: domain.EventSignal, To: alice.ID, Signal: json.RawMessage(`{}`)})
	relay.Dispatch(stray, domain.SignalMessage{Type: domain.EventMessage, Content: "hello"})

	assertNoEvent(t, alice)
}

func TestCrossRoomSignalDropped(t *testing.T) {
	relay := newTestRelay()

	alice := join(relay, "Alice", "alpha")
	carol := join(relay, "Carol", "beta")
	nextEvent(t, alice)
	nextEvent(t, carol)

	relay.Dispatch(alice, domain.SignalMessage{Type: domain.EventSignal, To: carol.ID, Signal: json.RawMessage(`{}`)})
	relay.Dispatch(alice, domain.SignalMessage{Type: domain.EventSignal, To: "no-such-id", Signal: json.RawMessage(`{}`)})

	assertNoEvent(t, carol)
}

func TestChatBroadcastExcludesSenderAndOtherRooms(t *testing.T) {
	relay := newTestRelay()

	alice := join(relay, "Alice", "alpha")
	bob := join(relay, "Bob", "alpha")
	carol := join(relay, "Carol", "beta")
	nextEvent(t, alice)
	nextEvent(t, alice)
	nextEvent(t, bob)
	nextEvent(t, carol)

	relay.Dispatch(alice, domain.SignalMessage{Type: domain.EventMessage, Content: "hello"})

	msg := nextEvent(t, bob)
	require.Equal(t, domain.EventMessage, msg.Type)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, alice.ID, msg.From)
	assert.Equal(t, "Alice", msg.Username)

	ts, err := time.Parse(time.RFC3339Nano, msg.Time)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), ts, time.Minute)

	assertNoEvent(t, alice)
	assertNoEvent(t, carol)
}

func TestEmptyChatDropped(t *testing.T) {
	relay := newTestRelay()

	alice := join(relay, "Alice", "alpha")
	bob := join(relay, "Bob", "alpha")
	nextEvent(t, alice)
	nextEvent(t, alice)
	nextEvent(t, bob)

	relay.Dispatch(alice, domain.SignalMessage{Type: domain.EventMessage, Content: "   "})

	assertNoEvent(t, bob)
}

func TestDisconnectBroadcastsUserLeft(t *testing.T) {
	relay := newTestRelay()

	alice := join(relay, "Alice", "alpha")
	bob := join(relay, "Bob", "alpha")
	nextEvent(t, alice)
	nextEvent(t, alice)
	nextEvent(t, bob)

	relay.HandleDisconnect(bob)

	left := nextEvent(t, alice)
	require.Equal(t, domain.EventUserLeft, left.Type)
	assert.Equal(t, bob.ID, left.ID)
	assertNoEvent(t, alice)

	// The departed connection is no longer routable.
	relay.Dispatch(alice, domain.SignalMessage{Type: domain.EventSignal, To: bob.ID, Signal: json.RawMessage(`{}`)})
	assertNoEvent(t, alice)
}

func TestDisconnectBeforeJoinIsQuiet(t *testing.T) {
	relay := newTestRelay()

	alice := join(relay, "Alice", "alpha")
	nextEvent(t, alice)

	stray := relay.HandleConnect(nil)
	relay.HandleDisconnect(stray)
	relay.HandleDisconnect(stray) // second call must also be safe

	assertNoEvent(t, alice)
}

func TestEnqueueAfterDisconnectDoesNotPanic(t *testing.T) {
	relay := newTestRelay()

	alice := join(relay, "Alice", "alpha")
	bob := join(relay, "Bob", "alpha")
	nextEvent(t, alice)
	nextEvent(t, alice)
	nextEvent(t, bob)

	relay.HandleDisconnect(bob)

	assert.NotPanics(t, func() {
		bob.EnqueueEvent(domain.SignalMessage{Type: domain.EventMessage})
	})
}
