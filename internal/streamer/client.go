package streamer

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-messenger/internal/connections"
	"github.com/npezzotti/go-messenger/internal/protocol"
	"github.com/npezzotti/go-messenger/internal/stats"
	"github.com/npezzotti/go-messenger/internal/unread"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
	commandTimeout = 5 * time.Second
)

type Client struct {
	ctx       context.Context
	conn      *websocket.Conn
	server    *Server
	log       *log.Logger
	send      chan []byte
	stop      chan struct{}
	closeOnce sync.Once
	closeMsg  []byte

	// owned by the Read goroutine
	pubsub     *redis.PubSub
	subscribed map[int64]struct{}
}

func newClient(ctx context.Context, conn *websocket.Conn, s *Server, l *log.Logger) *Client {
	return &Client{
		ctx:        ctx,
		conn:       conn,
		server:     s,
		log:        l,
		send:       make(chan []byte, 256),
		stop:       make(chan struct{}),
		subscribed: make(map[int64]struct{}),
	}
}

func (c *Client) Send(msg protocol.Message) bool {
	frame, err := protocol.Encode(msg)
	if err != nil {
		c.log.Printf("streamer: encode %T: %v", msg, err)
		return false
	}

	select {
	case <-c.stop:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		c.log.Println("streamer: send buffer full")
		return false
	}
}

func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeMsg = websocket.FormatCloseMessage(code, reason)
		close(c.stop)
	})
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
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		case <-c.stop:
			c.conn.WriteControl(websocket.CloseMessage, c.closeMsg, time.Now().Add(writeWait))
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer c.cleanup()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })

	for {
		msgType, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("streamer: read: %v", err)
			}
			return
		}

		if msgType != websocket.BinaryMessage {
			c.Close(connections.CloseProtocolError, "binary frames expected")
			return
		}

		msg, err := protocol.Decode(raw)
		if err != nil {
			c.Close(connections.CloseProtocolError, "malformed frame")
			return
		}

		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), commandTimeout)
		switch cmd := msg.(type) {
		case *protocol.Subscribe:
			c.subscribe(ctx, cmd.UserIds)
		case *protocol.Unsubscribe:
			c.unsubscribe(ctx, cmd.UserIds)
		default:
			cancel()
			c.Close(connections.CloseProtocolError, "unsupported command")
			return
		}
		cancel()
	}
}

// subscribe sends the current total of each new user, then starts
// forwarding their changes.
func (c *Client) subscribe(ctx context.Context, userIds []int64) {
	var added []int64
	for _, userId := range userIds {
		if _, ok := c.subscribed[userId]; ok {
			continue
		}

		total, err := c.server.counters.GetTotal(ctx, userId)
		if err != nil {
			c.log.Printf("streamer: unread total of user %d: %v", userId, err)
			c.Send(&protocol.ErrorOccurred{Reason: protocol.ReasonServer, Description: "internal server error"})
			continue
		}
		c.Send(&protocol.UnreadCountersUpdate{UserId: userId, UnreadCount: total})
		added = append(added, userId)
	}
	if len(added) == 0 {
		return
	}

	if c.pubsub == nil {
		c.pubsub = c.server.counters.Subscribe(ctx, added...)
		go c.forward(c.pubsub.Channel())
	} else if err := c.pubsub.Subscribe(ctx, unread.Channels(added)...); err != nil {
		c.log.Printf("streamer: subscribe: %v", err)
		return
	}

	for _, userId := range added {
		c.subscribed[userId] = struct{}{}
		c.server.stats.Incr(stats.StreamerSubscriptions)
	}
}

func (c *Client) unsubscribe(ctx context.Context, userIds []int64) {
	var removed []int64
	for _, userId := range userIds {
		if _, ok := c.subscribed[userId]; ok {
			removed = append(removed, userId)
		}
	}
	if len(removed) == 0 {
		return
	}

	if err := c.pubsub.Unsubscribe(ctx, unread.Channels(removed)...); err != nil {
		c.log.Printf("streamer: unsubscribe: %v", err)
		return
	}
	for _, userId := range removed {
		delete(c.subscribed, userId)
		c.server.stats.Decr(stats.StreamerSubscriptions)
	}
}

func (c *Client) forward(ch <-chan *redis.Message) {
	for msg := range ch {
		update, err := unread.DecodeUpdate(msg)
		if err != nil {
			c.log.Printf("streamer: %v", err)
			continue
		}
		c.Send(&update)
	}
}

func (c *Client) cleanup() {
	c.Close(websocket.CloseNormalClosure, "")
	if c.pubsub != nil {
		c.pubsub.Close()
	}
	for range c.subscribed {
		c.server.stats.Decr(stats.StreamerSubscriptions)
	}
	c.server.remove(c)
}
