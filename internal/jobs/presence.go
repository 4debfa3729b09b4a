package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/npezzotti/go-messenger/internal/presence"
	"github.com/npezzotti/go-messenger/internal/protocol"
	"github.com/npezzotti/go-messenger/internal/types"
	"github.com/npezzotti/go-messenger/internal/updates"
)

type UpdatePublisher interface {
	PublishUpdate(ctx context.Context, u updates.Update, excludeConnectionId string) error
}

type OnlineUsers interface {
	GetOnlineUsers(ctx context.Context, window time.Duration, role *types.Role) ([]presence.UserRef, error)
	Cleanup(ctx context.Context, maxAge time.Duration) error
}

// PresenceTracker announces users going online and offline. It keeps the
// last announced set in memory, so only one tracker may run per deployment.
type PresenceTracker struct {
	log       *log.Logger
	presence  OnlineUsers
	publisher UpdatePublisher
	threshold time.Duration
	online    map[int64]bool
}

func NewPresenceTracker(logger *log.Logger, p OnlineUsers, publisher UpdatePublisher, threshold time.Duration) *PresenceTracker {
	return &PresenceTracker{
		log:       logger,
		presence:  p,
		publisher: publisher,
		threshold: threshold,
		online:    make(map[int64]bool),
	}
}

// Track publishes the difference between the last announced set and the
// users seen within the threshold. A user whose update fails is retried
// on the next run.
func (t *PresenceTracker) Track(ctx context.Context) error {
	users, err := t.presence.GetOnlineUsers(ctx, t.threshold, nil)
	if err != nil {
		return fmt.Errorf("get online users: %w", err)
	}

	current := make(map[int64]bool, len(users))
	for _, u := range users {
		current[u.UserId] = true
	}

	for userId := range current {
		if !t.online[userId] && t.announce(ctx, userId, true) {
			t.online[userId] = true
		}
	}
	for userId := range t.online {
		if !current[userId] && t.announce(ctx, userId, false) {
			delete(t.online, userId)
		}
	}
	return nil
}

func (t *PresenceTracker) announce(ctx context.Context, userId int64, online bool) bool {
	u := &updates.PresenceStatusChanged{PresenceStatusChanged: protocol.PresenceStatusChanged{
		UserId:   userId,
		IsOnline: online,
	}}
	if err := t.publisher.PublishUpdate(ctx, u, ""); err != nil {
		t.log.Printf("jobs: publish presence of user %d: %v", userId, err)
		return false
	}
	return true
}

func (t *PresenceTracker) Job(interval time.Duration) Job {
	return Job{Name: "presence-track", Interval: interval, Run: t.Track}
}

// PresenceCleanup drops presence entries older than maxAge.
func PresenceCleanup(p OnlineUsers, interval, maxAge time.Duration) Job {
	return Job{
		Name:     "presence-cleanup",
		Interval: interval,
		Run: func(ctx context.Context) error {
			return p.Cleanup(ctx, maxAge)
		},
	}
}
