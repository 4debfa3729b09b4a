package updates

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/npezzotti/go-messenger/internal/connections"
	"github.com/npezzotti/go-messenger/internal/stats"
)

const deliverTimeout = 5 * time.Second

type recipientsFunc func(ctx context.Context, env *Envelope, u Update) ([]int64, error)

// Listener receives updates published by any process and delivers them to
// the matching connections of this process.
type Listener struct {
	log        *log.Logger
	bus        Bus
	prefix     string
	registry   *connections.Registry
	members    MemberSource
	dispatcher *Dispatcher
	stats      stats.StatsProvider
	handlers   map[UpdateType]recipientsFunc
	sub        Subscription
}

func NewListener(logger *log.Logger, bus Bus, prefix string, registry *connections.Registry,
	members MemberSource, dispatcher *Dispatcher, sp stats.StatsProvider) *Listener {
	l := &Listener{
		log:        logger,
		bus:        bus,
		prefix:     prefix,
		registry:   registry,
		members:    members,
		dispatcher: dispatcher,
		stats:      sp,
	}

	l.handlers = map[UpdateType]recipientsFunc{
		TypeMessageSent:           l.chatMembers,
		TypeMessageEdited:         l.chatMembers,
		TypeMessageDeleted:        l.chatMembers,
		TypeReactionUpdated:       l.chatMembers,
		TypeDeliveryStatusChanged: l.chatMembers,
		TypeUserIsTyping:          l.chatMembers,
		TypeChatClosed:            l.chatMembers,
		TypeChatOpened:            l.chatMembers,
		TypeTicketStatusChanged:   l.chatMembers,
		TypePresenceStatusChanged: l.relatedUsers,
	}

	return l
}

func (l *Listener) Start(ctx context.Context) error {
	l.dispatcher.Start()

	sub, err := l.bus.Subscribe(l.prefix+".>", l.receive)
	if err != nil {
		l.dispatcher.Stop()
		return fmt.Errorf("subscribe to %s: %w", l.prefix, err)
	}
	l.sub = sub
	l.log.Printf("listening for updates on %s.>", l.prefix)
	return nil
}

func (l *Listener) Stop() {
	if l.sub != nil {
		if err := l.sub.Unsubscribe(); err != nil {
			l.log.Printf("updates: unsubscribe: %v", err)
		}
	}
	l.dispatcher.Stop()
}

func (l *Listener) receive(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		l.log.Printf("updates: malformed envelope: %v", err)
		return
	}

	key := env.ChatId
	if key == 0 {
		key = env.UserId
	}
	l.dispatcher.Dispatch(key, func() {
		l.deliver(&env)
	})
}

func (l *Listener) deliver(env *Envelope) {
	resolve, ok := l.handlers[env.Type]
	if !ok {
		l.log.Printf("updates: no handler for %q", env.Type)
		return
	}

	u, err := env.Decode()
	if err != nil {
		l.log.Printf("updates: %s: %v", env.Id, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()

	recipients, err := resolve(ctx, env, u)
	if err != nil {
		l.log.Printf("updates: resolve recipients of %s %s: %v", env.Type, env.Id, err)
		return
	}

	var excluded []string
	if env.ExcludeConnectionId != "" {
		excluded = append(excluded, env.ExcludeConnectionId)
	}

	msg := u.Client()
	for _, conn := range l.registry.GetAllConnections(recipients, excluded...) {
		if conn.Send(msg) {
			l.stats.Incr(stats.UpdatesDelivered)
		} else {
			l.log.Printf("updates: connection %s not accepting %s", conn.Id, env.Type)
		}
	}
}

func (l *Listener) chatMembers(ctx context.Context, env *Envelope, u Update) ([]int64, error) {
	return l.members.GetChatMemberIds(ctx, u.ChatId())
}

func (l *Listener) relatedUsers(ctx context.Context, env *Envelope, u Update) ([]int64, error) {
	return l.members.GetRelatedUserIds(ctx, env.UserId)
}
