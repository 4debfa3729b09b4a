package presence

import (
	"context"
	"log"
	"time"

	"github.com/npezzotti/go-messenger/internal/types"
)

// Service is the only writer of activity. Writes are advisory: they never
// fail the caller and errors are only logged.
type Service struct {
	log     *log.Logger
	storage *Storage
	now     func() time.Time
}

func NewService(logger *log.Logger, storage *Storage) *Service {
	return &Service{
		log:     logger,
		storage: storage,
		now:     time.Now,
	}
}

func (s *Service) UserActive(ctx context.Context, u UserRef) {
	if err := s.storage.SetLastUserActivity(ctx, u, s.now()); err != nil {
		s.log.Printf("presence: set user %d activity: %v", u.UserId, err)
	}
}

// UserActiveInChat marks the user active both globally and in the chat.
func (s *Service) UserActiveInChat(ctx context.Context, u UserRef, chatId int64) {
	now := s.now()
	if err := s.storage.SetLastUserActivity(ctx, u, now); err != nil {
		s.log.Printf("presence: set user %d activity: %v", u.UserId, err)
	}
	if err := s.storage.SetLastChatActivity(ctx, u, chatId, now); err != nil {
		s.log.Printf("presence: set user %d activity in chat %d: %v", u.UserId, chatId, err)
	}
}

// GetOnlineUsers returns users seen within the last window.
func (s *Service) GetOnlineUsers(ctx context.Context, window time.Duration, role *types.Role) ([]UserRef, error) {
	return s.storage.GetActiveUsers(ctx, s.now().Add(-window), role)
}

func (s *Service) GetActiveUsersInChats(ctx context.Context, chatIds []int64, window time.Duration) (map[int64][]UserRef, error) {
	return s.storage.GetActiveUsersInChats(ctx, chatIds, s.now().Add(-window))
}

// Cleanup drops entries older than maxAge from all indexes.
func (s *Service) Cleanup(ctx context.Context, maxAge time.Duration) error {
	threshold := s.now().Add(-maxAge)

	users, err := s.storage.CleanupUsers(ctx, threshold)
	if err != nil {
		return err
	}
	chats, err := s.storage.CleanupChats(ctx, threshold)
	if err != nil {
		return err
	}

	if users > 0 || chats > 0 {
		s.log.Printf("presence: cleaned up %d user and %d chat entries", users, chats)
	}
	return nil
}
