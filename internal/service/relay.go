package service

import (
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"github.com/virtualclinic/roomcast/internal/domain"
	"github.com/virtualclinic/roomcast/internal/registry"
)

const maxChatMessageLength = 4000
const maxUsernameLength = 255

// Relay routes join, signal and chat messages between connections and
// broadcasts presence changes. It owns all mutations of the injected
// registry; nothing else writes to it.
type Relay struct {
	registry *registry.Registry
	log      *slog.Logger
}

func NewRelay(reg *registry.Registry, log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{
		registry: reg,
		log:      log,
	}
}

// HandleConnect allocates an identity for a freshly upgraded socket. The
// client stays unjoined and unroutable until it sends a join message.
func (s *Relay) HandleConnect(socket *websocket.Conn) *domain.Client {
	c := domain.NewClient(socket)
	s.log.Info("client connected", slog.String("client_id", c.ID))
	return c
}

// Dispatch handles a single inbound message to completion. The transport
// calls it from the connection's read goroutine, so messages from one
// connection are never reordered.
func (s *Relay) Dispatch(c *domain.Client, msg domain.SignalMessage) {
	switch msg.Type {
	case domain.EventJoin:
		s.handleJoin(c, msg.Username, msg.Room)
	case domain.EventSignal:
		s.handleSignal(c, msg)
	case domain.EventMessage:
		s.handleChat(c, msg.Content)
	default:
		s.log.Debug("unknown message type",
			slog.String("client_id", c.ID),
			slog.String("type", msg.Type),
		)
	}
}

func (s *Relay) handleJoin(c *domain.Client, username, room string) {
	const op = "relay.join"
	log := s.log.With(slog.String("op", op), slog.String("client_id", c.ID))

	username = strings.TrimSpace(username)
	room = strings.TrimSpace(room)
	if username == "" || room == "" {
		log.Debug("join rejected: empty username or room")
		return
	}
	if utf8.RuneCountInString(username) > maxUsernameLength {
		log.Debug("join rejected: username too long")
		return
	}

	// The room binding is immutable for a connection's lifetime. A second
	// join, same room or not, is ignored; rejoining means reconnecting.
	if c.Joined {
		log.Debug("duplicate join ignored", slog.String("room", c.Room))
		return
	}

	c.Username = username
	c.Room = room
	c.Joined = true
	s.registry.Register(c)

	// ID carries the connection's own server-assigned identifier so the
	// client learns who it is.
	c.EnqueueEvent(domain.SignalMessage{
		Type:  domain.EventRoomUsers,
		Room:  room,
		ID:    c.ID,
		Users: s.registry.Roster(room, c.ID),
	})

	s.broadcast(room, c.ID, domain.SignalMessage{
		Type:     domain.EventUserJoined,
		Room:     room,
		ID:       c.ID,
		Username: c.Username,
	})

	log.Info("client joined",
		slog.String("room", room),
		slog.String("username", username),
	)
}

func (s *Relay) handleSignal(c *domain.Client, msg domain.SignalMessage) {
	const op = "relay.signal"
	log := s.log.With(slog.String("op", op), slog.String("client_id", c.ID))

	if !c.Joined {
		log.Debug("signal before join dropped")
		return
	}
	if msg.To == "" {
		log.Debug("signal without target dropped")
		return
	}

	target := s.registry.Get(msg.To)
	if target == nil || target.Room != c.Room {
		// Covers both unknown ids and cross-room targets; rooms are the
		// only routing scope the relay recognizes.
		log.Debug("unroutable signal dropped", slog.String("to", msg.To))
		return
	}

	target.EnqueueEvent(domain.SignalMessage{
		Type:   domain.EventSignal,
		From:   c.ID,
		To:     target.ID,
		Signal: msg.Signal,
	})
}

func (s *Relay) handleChat(c *domain.Client, content string) {
	const op = "relay.chat"
	log := s.log.With(slog.String("op", op), slog.String("client_id", c.ID))

	if !c.Joined {
		log.Debug("chat before join dropped")
		return
	}

	content = strings.TrimSpace(content)
	if content == "" {
		log.Debug("empty chat message dropped")
		return
	}
	if utf8.RuneCountInString(content) > maxChatMessageLength {
		log.Debug("oversized chat message dropped")
		return
	}

	chatMsg := domain.NewChatMessage(c, content)

	// The sender is excluded: clients echo their own messages locally at
	// send time, so the server forwarding one back would duplicate it.
	s.broadcast(c.Room, c.ID, domain.SignalMessage{
		Type:     domain.EventMessage,
		Room:     chatMsg.Room,
		ID:       chatMsg.ID.String(),
		From:     chatMsg.From,
		Username: chatMsg.Username,
		Content:  chatMsg.Content,
		Time:     chatMsg.CreatedAt.Format(time.RFC3339Nano),
	})
}

// HandleDisconnect tears the connection down. Safe for clients that never
// joined and safe to call more than once.
func (s *Relay) HandleDisconnect(c *domain.Client) {
	const op = "relay.disconnect"
	if c == nil {
		return
	}
	log := s.log.With(slog.String("op", op), slog.String("client_id", c.ID))

	removed := s.registry.Unregister(c.ID)
	c.CloseEvents()

	if removed == nil {
		log.Info("client disconnected before joining")
		return
	}

	s.broadcast(removed.Room, removed.ID, domain.SignalMessage{
		Type: domain.EventUserLeft,
		Room: removed.Room,
		ID:   removed.ID,
	})

	log.Info("client disconnected", slog.String("room", removed.Room))
}

func (s *Relay) broadcast(room, exclude string, msg domain.SignalMessage) {
	for _, member := range s.registry.MembersOf(room, exclude) {
		if !member.EnqueueEvent(msg) {
			s.log.Debug("dropping broadcast event",
				slog.String("client_id", member.ID),
				slog.String("type", msg.Type),
			)
		}
	}
}
