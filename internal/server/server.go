package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-messenger/internal/chat"
	"github.com/npezzotti/go-messenger/internal/connections"
	"github.com/npezzotti/go-messenger/internal/errs"
	"github.com/npezzotti/go-messenger/internal/presence"
	"github.com/npezzotti/go-messenger/internal/protocol"
	"github.com/npezzotti/go-messenger/internal/types"
)

const defaultCommandTimeout = 10 * time.Second

// ChatService handles the commands clients send over the socket.
type ChatService interface {
	SendMessage(ctx context.Context, caller chat.Caller, cmd *protocol.SendMessage) (*protocol.MessageSent, error)
	SendActivity(ctx context.Context, caller chat.Caller, cmd *protocol.SendActivity) error
	SendReaction(ctx context.Context, caller chat.Caller, cmd *protocol.SendReaction) error
	MarkRead(ctx context.Context, caller chat.Caller, cmd *protocol.MarkRead) error
	MarkReceived(ctx context.Context, caller chat.Caller, cmd *protocol.MarkReceived) error
	EditMessage(ctx context.Context, caller chat.Caller, cmd *protocol.EditMessage) (types.Message, error)
	DeleteMessage(ctx context.Context, caller chat.Caller, cmd *protocol.DeleteMessage) error
}

type ActivityRecorder interface {
	UserActive(ctx context.Context, u presence.UserRef)
}

type handlerFunc func(ctx context.Context, c *Client, msg protocol.Message) (protocol.Message, error)

type stopReq struct {
	ctx  context.Context
	done chan struct{}
}

// ChatServer tracks the sockets of this process and runs their commands.
// Updates reach clients through the connections registry.
type ChatServer struct {
	log            *log.Logger
	registry       *connections.Registry
	chat           ChatService
	presence       ActivityRecorder
	handlers       map[protocol.MessageType]handlerFunc
	commandTimeout time.Duration
	clients        map[*Client]struct{}
	registerChan   chan *Client
	deRegisterChan chan *Client
	stop           chan stopReq
	done           chan struct{}
}

func NewChatServer(logger *log.Logger, registry *connections.Registry, cs ChatService, activity ActivityRecorder) *ChatServer {
	s := &ChatServer{
		log:            logger,
		registry:       registry,
		chat:           cs,
		presence:       activity,
		commandTimeout: defaultCommandTimeout,
		clients:        make(map[*Client]struct{}),
		registerChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		stop:           make(chan stopReq),
		done:           make(chan struct{}),
	}

	s.handlers = map[protocol.MessageType]handlerFunc{
		protocol.TypeSendMessage: func(ctx context.Context, c *Client, msg protocol.Message) (protocol.Message, error) {
			sent, err := s.chat.SendMessage(ctx, c.caller(), msg.(*protocol.SendMessage))
			if err != nil {
				return nil, err
			}
			return sent, nil
		},
		protocol.TypeSendActivity: func(ctx context.Context, c *Client, msg protocol.Message) (protocol.Message, error) {
			return nil, s.chat.SendActivity(ctx, c.caller(), msg.(*protocol.SendActivity))
		},
		protocol.TypeSendReaction: func(ctx context.Context, c *Client, msg protocol.Message) (protocol.Message, error) {
			return nil, s.chat.SendReaction(ctx, c.caller(), msg.(*protocol.SendReaction))
		},
		protocol.TypeMarkRead: func(ctx context.Context, c *Client, msg protocol.Message) (protocol.Message, error) {
			return nil, s.chat.MarkRead(ctx, c.caller(), msg.(*protocol.MarkRead))
		},
		protocol.TypeMarkReceived: func(ctx context.Context, c *Client, msg protocol.Message) (protocol.Message, error) {
			return nil, s.chat.MarkReceived(ctx, c.caller(), msg.(*protocol.MarkReceived))
		},
		protocol.TypeEditMessage: func(ctx context.Context, c *Client, msg protocol.Message) (protocol.Message, error) {
			// the edit reaches this connection as a MessageEdited update
			_, err := s.chat.EditMessage(ctx, c.caller(), msg.(*protocol.EditMessage))
			return nil, err
		},
		protocol.TypeDeleteMessage: func(ctx context.Context, c *Client, msg protocol.Message) (protocol.Message, error) {
			return nil, s.chat.DeleteMessage(ctx, c.caller(), msg.(*protocol.DeleteMessage))
		},
	}

	return s
}

func (cs *ChatServer) Run() {
	for {
		select {
		case c := <-cs.registerChan:
			cs.clients[c] = struct{}{}
		case c := <-cs.deRegisterChan:
			cs.removeClient(c)
		case req := <-cs.stop:
			cs.log.Printf("closing %d connections", len(cs.clients))
			cs.registry.CloseAll(connections.CloseGoingAway, "server shutdown")
			cs.drain(req.ctx)
			close(req.done)
			close(cs.done)
			return
		}
	}
}

// drain waits for closed clients to deregister so their registry entries
// are released before the process exits.
func (cs *ChatServer) drain(ctx context.Context) {
	for len(cs.clients) > 0 {
		select {
		case c := <-cs.deRegisterChan:
			cs.removeClient(c)
		case <-ctx.Done():
			cs.log.Printf("%d connections did not close in time", len(cs.clients))
			return
		}
	}
}

func (cs *ChatServer) removeClient(c *Client) {
	if _, ok := cs.clients[c]; !ok {
		return
	}
	delete(cs.clients, c)
	cs.registry.ConnectionClosed(context.Background(), c.connection)
}

// Serve registers the client and starts its pumps. A rejected client is
// closed with a matching code and the error is returned.
func (cs *ChatServer) Serve(ctx context.Context, c *Client) error {
	conn, err := cs.registry.OnUserConnected(ctx, c.user, c, c.ip)
	if err != nil {
		code, reason := websocket.CloseInternalServerErr, "internal server error"
		if errors.Is(err, errs.ErrTooManyConnections) {
			code, reason = connections.ClosePolicyViolation, errs.ErrTooManyConnections.Error()
		}
		c.Close(code, reason)
		go c.Write()
		return fmt.Errorf("register connection: %w", err)
	}
	c.connection = conn

	select {
	case cs.registerChan <- c:
	case <-cs.done:
		cs.registry.ConnectionClosed(ctx, conn)
		c.Close(connections.CloseGoingAway, "server shutdown")
		go c.Write()
		return errs.ErrConnectionClosed
	}

	cs.log.Printf("connection %s opened by user %d from %s", conn.Id, c.user.Id, c.ip)
	cs.touch(c)
	go c.Write()
	go c.Read()
	return nil
}

func (cs *ChatServer) deregister(c *Client) {
	select {
	case cs.deRegisterChan <- c:
	case <-cs.done:
		cs.registry.ConnectionClosed(context.Background(), c.connection)
	}
}

// Shutdown closes every connection with 1001 and waits for them to
// deregister or for ctx to expire.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("shutting down chat server")
	req := stopReq{ctx: ctx, done: make(chan struct{})}

	select {
	case cs.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (cs *ChatServer) touch(c *Client) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), time.Second)
	defer cancel()
	cs.presence.UserActive(ctx, presence.UserRef{UserId: c.user.Id, Role: c.user.Role})
}

// dispatch runs one command and queues its reply. It reports false for
// frames that are not commands this server handles.
func (cs *ChatServer) dispatch(c *Client, msg protocol.Message) bool {
	handle, ok := cs.handlers[msg.Type()]
	if !ok {
		return false
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), cs.commandTimeout)
	defer cancel()

	cs.touch(c)
	reply, err := handle(ctx, c, msg)
	if err != nil {
		reply = cs.errorReply(c, msg, err)
	}
	if reply != nil {
		c.Send(reply)
	}
	return true
}

func (cs *ChatServer) errorReply(c *Client, msg protocol.Message, err error) protocol.Message {
	isClient := errs.IsClientError(err)
	if !isClient {
		cs.log.Printf("connection %s user %d: command %d: %v", c.connection.Id, c.user.Id, msg.Type(), err)
	}

	if send, ok := msg.(*protocol.SendMessage); ok {
		return &protocol.MessageSendFailed{
			TemporaryId: send.TemporaryId,
			Code:        errs.CodeOf(err),
			Message:     errs.Description(err),
		}
	}

	if !isClient {
		return &protocol.ErrorOccurred{Reason: protocol.ReasonServer, Description: errs.Description(err)}
	}
	return &protocol.ErrorOccurred{
		Reason:      protocol.ReasonClient,
		Code:        errs.CodeOf(err),
		Description: errs.Description(err),
	}
}
