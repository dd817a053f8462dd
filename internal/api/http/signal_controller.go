package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/virtualclinic/roomcast/internal/domain"
	"github.com/virtualclinic/roomcast/internal/service"
	"github.com/virtualclinic/roomcast/lib/logger/sl"
)

const (
	// Time allowed to write a message to the client.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the client.
	pongWait = 60 * time.Second

	// Ping period, must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// 64 KB is comfortably above the largest SDP payloads.
	maxMessageSize = 64 * 1024
)

// SignalController upgrades /ws requests and drives the relay with the
// connection's inbound messages.
type SignalController struct {
	relay    service.RoomRelay
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewSignalController(relay service.RoomRelay, log *slog.Logger) *SignalController {
	if log == nil {
		log = slog.Default()
	}
	return &SignalController{
		relay: relay,
		log:   log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (c *SignalController) Serve(ctx *gin.Context) {
	conn, err := c.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		c.log.Error("failed to upgrade connection", sl.Err(err))
		return
	}

	client := c.relay.HandleConnect(conn)

	go c.forwardClientEvents(client)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg domain.SignalMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Debug("read error", slog.String("client_id", client.ID), sl.Err(err))
			}
			c.relay.HandleDisconnect(client)
			conn.Close()
			return
		}

		c.relay.Dispatch(client, msg)
	}
}

// forwardClientEvents is the connection's only writer. It drains the
// client's event channel in order and keeps the socket alive with pings.
func (c *SignalController) forwardClientEvents(client *domain.Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Socket.Close()
	}()

	for {
		select {
		case event, ok := <-client.Events:
			client.Socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Socket.WriteJSON(event); err != nil {
				c.log.Debug("write error", slog.String("client_id", client.ID), sl.Err(err))
				return
			}
		case <-ticker.C:
			client.Socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
