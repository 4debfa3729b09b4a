package updates

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/npezzotti/go-messenger/internal/stats"
)

// Publisher announces updates to every process through the bus.
type Publisher struct {
	log    *log.Logger
	bus    Bus
	prefix string
	stats  stats.StatsProvider
	now    func() time.Time
}

func NewPublisher(logger *log.Logger, bus Bus, prefix string, sp stats.StatsProvider) *Publisher {
	return &Publisher{
		log:    logger,
		bus:    bus,
		prefix: prefix,
		stats:  sp,
		now:    time.Now,
	}
}

// Subject returns the subject an update is published on. All updates of a
// chat share one subject, which keeps them in publish order.
func Subject(prefix string, u Update) string {
	if chatId := u.ChatId(); chatId != 0 {
		return prefix + ".chat." + strconv.FormatInt(chatId, 10)
	}
	if p, ok := u.(*PresenceStatusChanged); ok {
		return prefix + ".user." + strconv.FormatInt(p.UserId, 10)
	}
	return prefix + ".global"
}

// PublishUpdate sends u to all processes. Connections whose id is in
// exclude do not receive it.
func (p *Publisher) PublishUpdate(ctx context.Context, u Update, excludeConnectionId string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	env, err := newEnvelope(u, excludeConnectionId, p.now())
	if err != nil {
		return err
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	if err := p.bus.Publish(Subject(p.prefix, u), data); err != nil {
		return fmt.Errorf("publish %s: %w", env.Type, err)
	}

	p.stats.Incr(stats.UpdatesPublished)
	return nil
}
