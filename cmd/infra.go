package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/npezzotti/go-messenger/internal/cache"
	"github.com/npezzotti/go-messenger/internal/chat"
	"github.com/npezzotti/go-messenger/internal/config"
	"github.com/npezzotti/go-messenger/internal/connections"
	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/presence"
	"github.com/npezzotti/go-messenger/internal/push"
	"github.com/npezzotti/go-messenger/internal/stats"
	"github.com/npezzotti/go-messenger/internal/throttle"
	"github.com/npezzotti/go-messenger/internal/unread"
	"github.com/npezzotti/go-messenger/internal/updates"
)

const connectTimeout = 10 * time.Second

// infra holds the shared clients every command builds its services from.
type infra struct {
	log   *log.Logger
	cfg   *config.Config
	repo  *database.PgMessengerRepository
	rdb   *redis.Client
	bus   *updates.NatsBus
	stats stats.StatsProvider
}

func connectRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// openInfra connects to postgres and redis, and to nats when withBus is set.
func openInfra(logger *log.Logger, cfg *config.Config, sp stats.StatsProvider, withBus bool, name string) (*infra, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	in := &infra{log: logger, cfg: cfg, stats: sp}

	repo, err := database.NewPgMessengerRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	in.repo = repo

	rdb, err := connectRedis(ctx, cfg)
	if err != nil {
		in.Close()
		return nil, err
	}
	in.rdb = rdb

	if withBus {
		bus, err := updates.ConnectNats(logger, cfg.NatsURL, name)
		if err != nil {
			in.Close()
			return nil, err
		}
		in.bus = bus
	}

	return in, nil
}

func (in *infra) Close() {
	if in.bus != nil {
		if err := in.bus.Close(); err != nil {
			in.log.Println("nats close:", err)
		}
	}
	if in.rdb != nil {
		if err := in.rdb.Close(); err != nil {
			in.log.Println("redis close:", err)
		}
	}
	if in.repo != nil {
		if err := in.repo.Close(); err != nil {
			in.log.Println("db close:", err)
		}
	}
}

func (in *infra) registry() *connections.Registry {
	return connections.NewRegistry(in.log, in.rdb, in.stats, in.cfg.MaxConnectionsPerIP)
}

func (in *infra) presence() *presence.Service {
	return presence.NewService(in.log, presence.NewStorage(in.rdb))
}

func (in *infra) members() *updates.CachedMembers {
	return updates.NewCachedMembers(in.repo, cache.NewLayered[[]int64](in.log, in.rdb, cache.Options{
		Prefix:   "members",
		LocalTTL: in.cfg.MembershipCacheTTL,
	}))
}

func (in *infra) publisher() *updates.Publisher {
	return updates.NewPublisher(in.log, in.bus, in.cfg.UpdatesSubject, in.stats)
}

func (in *infra) unread() *unread.Counters {
	return unread.NewCounters(in.log, in.rdb, in.repo)
}

// chatService assembles the chat command handlers. The returned producer
// must be closed by the caller.
func (in *infra) chatService(registry *connections.Registry, presenceSvc *presence.Service, members *updates.CachedMembers) (*chat.Service, *push.Producer) {
	producer := push.NewProducer(in.log, in.cfg.KafkaBrokers, in.cfg.PushTopic)
	svc := chat.NewService(in.log, in.repo, chat.Deps{
		Publisher: in.publisher(),
		Presence:  presenceSvc,
		Typing:    throttle.New(in.log, in.rdb, "typing", in.cfg.TypingThrottle),
		Unread:    in.unread(),
		Push:      producer,
		Online:    registry,
		Members:   members,
		Permissions: cache.NewLayered[database.ChatPermissions](in.log, in.rdb, cache.Options{
			Prefix:   "permissions",
			LocalTTL: in.cfg.MembershipCacheTTL,
		}),
		Stats: in.stats,
	})
	return svc, producer
}
