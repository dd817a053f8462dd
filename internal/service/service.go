package service

import (
	"github.com/gorilla/websocket"

	"github.com/virtualclinic/roomcast/internal/domain"
)

// RoomRelay is the surface the transport layer drives. One HandleConnect per
// upgraded socket, Dispatch per inbound message, HandleDisconnect when the
// socket read loop exits for any reason.
type RoomRelay interface {
	HandleConnect(socket *websocket.Conn) *domain.Client
	Dispatch(c *domain.Client, msg domain.SignalMessage)
	HandleDisconnect(c *domain.Client)
}
