package updates

import (
	"context"
	"strconv"

	"github.com/npezzotti/go-messenger/internal/cache"
)

// MemberSource resolves who should receive an update.
type MemberSource interface {
	GetChatMemberIds(ctx context.Context, chatId int64) ([]int64, error)
	GetRelatedUserIds(ctx context.Context, userId int64) ([]int64, error)
}

// CachedMembers serves member lists from a layered cache. Lists may be
// stale for up to the cache TTL.
type CachedMembers struct {
	source MemberSource
	cache  *cache.Layered[[]int64]
}

func NewCachedMembers(source MemberSource, c *cache.Layered[[]int64]) *CachedMembers {
	return &CachedMembers{source: source, cache: c}
}

func (m *CachedMembers) GetChatMemberIds(ctx context.Context, chatId int64) ([]int64, error) {
	return m.cache.GetOrLoad(ctx, "chat:"+strconv.FormatInt(chatId, 10), func(ctx context.Context) ([]int64, error) {
		return m.source.GetChatMemberIds(ctx, chatId)
	})
}

func (m *CachedMembers) GetRelatedUserIds(ctx context.Context, userId int64) ([]int64, error) {
	return m.cache.GetOrLoad(ctx, "related:"+strconv.FormatInt(userId, 10), func(ctx context.Context) ([]int64, error) {
		return m.source.GetRelatedUserIds(ctx, userId)
	})
}

// Invalidate drops the cached member list of a chat after membership changes.
func (m *CachedMembers) Invalidate(ctx context.Context, chatId int64) {
	m.cache.Delete(ctx, "chat:"+strconv.FormatInt(chatId, 10))
}
