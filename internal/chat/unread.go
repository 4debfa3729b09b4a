package chat

import (
	"context"

	"github.com/npezzotti/go-messenger/internal/errs"
	"github.com/npezzotti/go-messenger/internal/types"
)

// UnreadCounters returns the caller's cached unread total and the count per
// chat type. Every chat type is present, zero when nothing is unread.
func (s *Service) UnreadCounters(ctx context.Context, caller Caller) (types.UnreadCounters, error) {
	total, err := s.Unread.GetTotal(ctx, caller.UserId)
	if err != nil {
		return types.UnreadCounters{}, errs.Server("unread total", err)
	}

	byType, err := s.repo.CountUnreadByChatType(ctx, caller.UserId)
	if err != nil {
		return types.UnreadCounters{}, errs.Server("unread by chat type", err)
	}

	counters := types.UnreadCounters{
		Total:      total,
		ByChatType: make(map[string]int64, 3),
	}
	for _, t := range []types.ChatType{types.ChatTypePersonal, types.ChatTypeMatch, types.ChatTypeTicket} {
		counters.ByChatType[t.String()] = byType[t]
	}
	return counters, nil
}
