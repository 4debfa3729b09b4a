package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-messenger/internal/chat"
	"github.com/npezzotti/go-messenger/internal/connections"
	"github.com/npezzotti/go-messenger/internal/protocol"
	"github.com/npezzotti/go-messenger/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

// Client is one websocket connection. It implements connections.Transport.
type Client struct {
	ctx        context.Context
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	user       types.AuthUser
	ip         string
	connection *connections.Connection
	send       chan []byte
	stop       chan struct{}
	closeOnce  sync.Once
	closeMsg   []byte
}

func NewClient(ctx context.Context, user types.AuthUser, ip string, conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	return &Client{
		ctx:        ctx,
		conn:       conn,
		chatServer: cs,
		log:        l,
		user:       user,
		ip:         ip,
		send:       make(chan []byte, sendBufferSize),
		stop:       make(chan struct{}),
	}
}

func (c *Client) caller() chat.Caller {
	return chat.Caller{UserId: c.user.Id, Role: c.user.Role, ConnectionId: c.connection.Id}
}

// Send encodes msg and queues it without blocking. It reports false when
// the client is closed or too slow to keep up.
func (c *Client) Send(msg protocol.Message) bool {
	frame, err := protocol.Encode(msg)
	if err != nil {
		c.log.Printf("encode %T: %v", msg, err)
		return false
	}
	return c.queueMessage(frame)
}

// Close sends a close frame with code and stops the pumps. Only the first
// call has any effect.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeMsg = websocket.FormatCloseMessage(code, reason)
		close(c.stop)
	})
}

func (c *Client) queueMessage(frame []byte) bool {
	select {
	case <-c.stop:
		return false
	default:
	}

	select {
	case c.send <- frame:
	default:
		c.log.Printf("send buffer full for user %d", c.user.Id)
		return false
	}

	return true
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			if !c.sendMessage(websocket.BinaryMessage, frame) {
				return
			}
		case <-c.stop:
			c.conn.WriteControl(websocket.CloseMessage, c.closeMsg, time.Now().Add(writeWait))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) Read() {
	defer c.cleanup()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.chatServer.touch(c)
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("connection %s: read: %v", c.connection.Id, err)
			}
			return
		}

		if msgType != websocket.BinaryMessage {
			c.Close(connections.CloseProtocolError, "binary frames expected")
			return
		}

		msg, err := protocol.Decode(raw)
		if err != nil {
			c.log.Printf("connection %s: %v", c.connection.Id, err)
			c.Close(connections.CloseProtocolError, "malformed frame")
			return
		}

		if !protocol.IsCommand(msg.Type()) || !c.chatServer.dispatch(c, msg) {
			c.Close(connections.CloseProtocolError, "unsupported command")
			return
		}
	}
}

func (c *Client) cleanup() {
	c.Close(websocket.CloseNormalClosure, "")
	c.chatServer.deregister(c)
	c.log.Printf("connection %s closed for user %d", c.connection.Id, c.user.Id)
}
