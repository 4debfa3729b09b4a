package chat

import (
	"context"
	"fmt"
	"log"

	"github.com/npezzotti/go-messenger/internal/cache"
	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/errs"
	"github.com/npezzotti/go-messenger/internal/presence"
	"github.com/npezzotti/go-messenger/internal/push"
	"github.com/npezzotti/go-messenger/internal/stats"
	"github.com/npezzotti/go-messenger/internal/throttle"
	"github.com/npezzotti/go-messenger/internal/types"
	"github.com/npezzotti/go-messenger/internal/unread"
	"github.com/npezzotti/go-messenger/internal/updates"
)

// Caller identifies who issued a command and from which connection.
// ConnectionId is empty for HTTP requests.
type Caller struct {
	UserId       int64
	Role         types.Role
	ConnectionId string
}

func (c Caller) ref() presence.UserRef {
	return presence.UserRef{UserId: c.UserId, Role: c.Role}
}

type UpdatePublisher interface {
	PublishUpdate(ctx context.Context, u updates.Update, excludeConnectionId string) error
}

type OnlineChecker interface {
	GetOnlineUserIds(ctx context.Context, userIds []int64) ([]int64, error)
}

type Deps struct {
	Publisher   UpdatePublisher
	Presence    *presence.Service
	Typing      *throttle.Throttler
	Unread      *unread.Counters
	Push        push.Queue
	Online      OnlineChecker
	Members     updates.MemberSource
	Permissions *cache.Layered[database.ChatPermissions]
	Stats       stats.StatsProvider
}

// Service implements the chat commands shared by the websocket and HTTP
// surfaces.
type Service struct {
	log  *log.Logger
	repo database.MessengerRepository
	Deps
}

func NewService(logger *log.Logger, repo database.MessengerRepository, deps Deps) *Service {
	return &Service{
		log:  logger,
		repo: repo,
		Deps: deps,
	}
}

func permissionsKey(chatId, userId int64) string {
	return fmt.Sprintf("%d:%d", chatId, userId)
}

func (s *Service) permissions(ctx context.Context, chatId, userId int64) (database.ChatPermissions, error) {
	p, err := s.Permissions.GetOrLoad(ctx, permissionsKey(chatId, userId), func(ctx context.Context) (database.ChatPermissions, error) {
		return s.repo.GetChatPermissions(ctx, chatId, userId)
	})
	if err != nil {
		return p, errs.FromStorage(fmt.Sprintf("chat %d", chatId), err)
	}
	return p, nil
}

func (s *Service) requireRead(ctx context.Context, chatId int64, caller Caller) (database.ChatPermissions, error) {
	p, err := s.permissions(ctx, chatId, caller.UserId)
	if err != nil {
		return p, err
	}
	if !p.IsMember || !p.CanRead {
		return p, errs.NotPermitted("user %d cannot read chat %d", caller.UserId, chatId)
	}
	return p, nil
}

// requireWrite always reads the database. Another process may have
// closed the chat or revoked access since the cached entry was loaded.
func (s *Service) requireWrite(ctx context.Context, chatId int64, caller Caller) (database.ChatPermissions, error) {
	p, err := s.repo.GetChatPermissions(ctx, chatId, caller.UserId)
	if err != nil {
		return p, errs.FromStorage(fmt.Sprintf("chat %d", chatId), err)
	}
	s.Permissions.Set(ctx, permissionsKey(chatId, caller.UserId), p)
	if !p.IsMember || !p.CanWrite {
		return p, errs.NotPermitted("user %d cannot write to chat %d", caller.UserId, chatId)
	}
	if p.IsClosed {
		return p, errs.NotPermitted("chat %d is closed", chatId)
	}
	return p, nil
}

// invalidatePermissions drops cached permissions of every member of the
// chat in this process and in redis.
func (s *Service) invalidatePermissions(ctx context.Context, chatId int64) {
	members, err := s.repo.GetChatMemberIds(ctx, chatId)
	if err != nil {
		s.log.Printf("chat: list members of %d: %v", chatId, err)
		return
	}
	for _, userId := range members {
		s.Permissions.Delete(ctx, permissionsKey(chatId, userId))
	}
}

func (s *Service) publish(ctx context.Context, u updates.Update, excludeConnectionId string) {
	if err := s.Publisher.PublishUpdate(ctx, u, excludeConnectionId); err != nil {
		s.log.Printf("chat: publish %s for chat %d: %v", u.UpdateType(), u.ChatId(), err)
	}
}

// otherMembers returns the chat members except userId.
func (s *Service) otherMembers(ctx context.Context, chatId, userId int64) ([]int64, error) {
	members, err := s.Members.GetChatMemberIds(ctx, chatId)
	if err != nil {
		return nil, err
	}

	others := make([]int64, 0, len(members))
	for _, id := range members {
		if id != userId {
			others = append(others, id)
		}
	}
	return others, nil
}
