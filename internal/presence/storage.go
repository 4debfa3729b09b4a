package presence

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/npezzotti/go-messenger/internal/types"
)

const (
	usersKey      = "presence:users"
	chatKeyPrefix = "presence:chat:"
)

type UserRef struct {
	UserId int64      `json:"user_id"`
	Role   types.Role `json:"role"`
}

func packMember(u UserRef) string {
	return fmt.Sprintf("%d:%d", u.UserId, u.Role)
}

func unpackMember(member string) (UserRef, error) {
	userPart, rolePart, ok := strings.Cut(member, ":")
	if !ok {
		return UserRef{}, fmt.Errorf("malformed presence member %q", member)
	}
	userId, err := strconv.ParseInt(userPart, 10, 64)
	if err != nil {
		return UserRef{}, fmt.Errorf("malformed presence user %q: %w", member, err)
	}
	role, err := strconv.Atoi(rolePart)
	if err != nil {
		return UserRef{}, fmt.Errorf("malformed presence role %q: %w", member, err)
	}
	return UserRef{UserId: userId, Role: types.Role(role)}, nil
}

func chatKey(chatId int64) string {
	return chatKeyPrefix + strconv.FormatInt(chatId, 10)
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1000
}

func scoreArg(t time.Time) string {
	return strconv.FormatFloat(score(t), 'f', 3, 64)
}

// Storage keeps activity timestamps in redis sorted sets scored by time,
// one global index and one index per chat.
type Storage struct {
	rdb *redis.Client
}

func NewStorage(rdb *redis.Client) *Storage {
	return &Storage{rdb: rdb}
}

func (s *Storage) SetLastUserActivity(ctx context.Context, u UserRef, at time.Time) error {
	return s.rdb.ZAdd(ctx, usersKey, &redis.Z{Score: score(at), Member: packMember(u)}).Err()
}

func (s *Storage) SetLastChatActivity(ctx context.Context, u UserRef, chatId int64, at time.Time) error {
	return s.rdb.ZAdd(ctx, chatKey(chatId), &redis.Z{Score: score(at), Member: packMember(u)}).Err()
}

// GetActiveUsers returns users active at or after threshold. The index is
// not keyed by role, so the role filter is applied after the range scan.
func (s *Storage) GetActiveUsers(ctx context.Context, threshold time.Time, role *types.Role) ([]UserRef, error) {
	members, err := s.rdb.ZRangeByScore(ctx, usersKey, &redis.ZRangeBy{
		Min: scoreArg(threshold),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore: %w", err)
	}

	return unpackMembers(members, role)
}

// GetActiveUsersInChats resolves every chat in a single pipelined round trip.
func (s *Storage) GetActiveUsersInChats(ctx context.Context, chatIds []int64, threshold time.Time) (map[int64][]UserRef, error) {
	result := make(map[int64][]UserRef, len(chatIds))
	if len(chatIds) == 0 {
		return result, nil
	}

	cmds := make([]*redis.StringSliceCmd, len(chatIds))
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, chatId := range chatIds {
			cmds[i] = pipe.ZRangeByScore(ctx, chatKey(chatId), &redis.ZRangeBy{
				Min: scoreArg(threshold),
				Max: "+inf",
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	for i, chatId := range chatIds {
		users, err := unpackMembers(cmds[i].Val(), nil)
		if err != nil {
			return nil, err
		}
		result[chatId] = users
	}

	return result, nil
}

func (s *Storage) CleanupUsers(ctx context.Context, threshold time.Time) (int64, error) {
	return s.rdb.ZRemRangeByScore(ctx, usersKey, "-inf", "("+scoreArg(threshold)).Result()
}

// CleanupChats range-deletes stale entries from every per-chat index.
// Redis drops a sorted set once its last member is removed.
func (s *Storage) CleanupChats(ctx context.Context, threshold time.Time) (int64, error) {
	var removed int64
	iter := s.rdb.Scan(ctx, 0, chatKeyPrefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		n, err := s.rdb.ZRemRangeByScore(ctx, iter.Val(), "-inf", "("+scoreArg(threshold)).Result()
		if err != nil {
			return removed, fmt.Errorf("cleanup %s: %w", iter.Val(), err)
		}
		removed += n
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("scan: %w", err)
	}
	return removed, nil
}

func unpackMembers(members []string, role *types.Role) ([]UserRef, error) {
	users := make([]UserRef, 0, len(members))
	for _, m := range members {
		u, err := unpackMember(m)
		if err != nil {
			return nil, err
		}
		if role != nil && u.Role != *role {
			continue
		}
		users = append(users, u)
	}
	return users, nil
}
