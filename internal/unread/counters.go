package unread

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/npezzotti/go-messenger/internal/protocol"
)

const (
	totalKeyPrefix = "unread:total:"
	chatsKeyPrefix = "unread:chats:"

	ChannelPrefix = "unread_counters_updates:"

	counterTTL = 24 * time.Hour
)

// incrementScript bumps the counters of every loaded user by one.
// KEYS come in (total, chats) pairs, ARGV[1] is the chat id. Users whose
// counters are not cached get -1. The chats hash expires with the total.
var incrementScript = redis.NewScript(`
local result = {}
for i = 1, #KEYS, 2 do
	if redis.call("EXISTS", KEYS[i]) == 1 then
		redis.call("HINCRBY", KEYS[i + 1], ARGV[1], 1)
		local ttl = redis.call("PTTL", KEYS[i])
		if ttl > 0 then
			redis.call("PEXPIRE", KEYS[i + 1], ttl)
		end
		result[#result + 1] = redis.call("INCR", KEYS[i])
	else
		result[#result + 1] = -1
	end
end
return result
`)

// setChatScript replaces one chat's count and moves the total by the
// difference. Returns -1 when the user's counters are not cached.
var setChatScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
local old = tonumber(redis.call("HGET", KEYS[2], ARGV[1]) or "0")
local new = tonumber(ARGV[2])
if new == 0 then
	redis.call("HDEL", KEYS[2], ARGV[1])
else
	redis.call("HSET", KEYS[2], ARGV[1], new)
	local ttl = redis.call("PTTL", KEYS[1])
	if ttl > 0 then
		redis.call("PEXPIRE", KEYS[2], ttl)
	end
end
local total = redis.call("INCRBY", KEYS[1], new - old)
if total < 0 then
	total = redis.call("INCRBY", KEYS[1], -total)
end
return total
`)

// UnreadSource computes unread counts from the message store.
type UnreadSource interface {
	CountUnreadByChat(ctx context.Context, userId int64, chatIds ...int64) (map[int64]int64, error)
}

// Counters caches per-user unread counts in redis and announces changes
// on a per-user pub/sub channel.
type Counters struct {
	log    *log.Logger
	rdb    *redis.Client
	source UnreadSource
}

func NewCounters(logger *log.Logger, rdb *redis.Client, source UnreadSource) *Counters {
	return &Counters{
		log:    logger,
		rdb:    rdb,
		source: source,
	}
}

func totalKey(userId int64) string {
	return totalKeyPrefix + strconv.FormatInt(userId, 10)
}

func chatsKey(userId int64) string {
	return chatsKeyPrefix + strconv.FormatInt(userId, 10)
}

func Channel(userId int64) string {
	return ChannelPrefix + strconv.FormatInt(userId, 10)
}

// GetTotal returns the number of unread messages across all chats of the
// user, loading the counters from the store on a cache miss.
func (c *Counters) GetTotal(ctx context.Context, userId int64) (int64, error) {
	total, err := c.rdb.Get(ctx, totalKey(userId)).Int64()
	if err == nil {
		return total, nil
	}
	if err != redis.Nil {
		return 0, fmt.Errorf("get unread total: %w", err)
	}
	return c.load(ctx, userId)
}

func (c *Counters) load(ctx context.Context, userId int64) (int64, error) {
	counts, err := c.source.CountUnreadByChat(ctx, userId)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}

	var total int64
	fields := make(map[string]any, len(counts))
	for chatId, n := range counts {
		total += n
		fields[strconv.FormatInt(chatId, 10)] = n
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, chatsKey(userId))
		if len(fields) > 0 {
			pipe.HSet(ctx, chatsKey(userId), fields)
			pipe.Expire(ctx, chatsKey(userId), counterTTL)
		}
		pipe.Set(ctx, totalKey(userId), total, counterTTL)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("store unread counters: %w", err)
	}
	return total, nil
}

// IncrementForUsers counts one new message in chatId for every user and
// publishes their new totals. Failures are logged per user.
func (c *Counters) IncrementForUsers(ctx context.Context, chatId int64, userIds []int64) {
	if len(userIds) == 0 {
		return
	}

	keys := make([]string, 0, 2*len(userIds))
	for _, userId := range userIds {
		keys = append(keys, totalKey(userId), chatsKey(userId))
	}

	totals, err := incrementScript.Run(ctx, c.rdb, keys, chatId).Int64Slice()
	if err != nil {
		c.log.Printf("unread: increment chat %d: %v", chatId, err)
		return
	}

	for i, userId := range userIds {
		total := totals[i]
		if total < 0 {
			if total, err = c.load(ctx, userId); err != nil {
				c.log.Printf("unread: load user %d: %v", userId, err)
				continue
			}
		}
		c.publish(ctx, userId, total)
	}
}

// ResetChat recomputes the user's count for chatId after a read and
// publishes the new total.
func (c *Counters) ResetChat(ctx context.Context, userId, chatId int64) {
	counts, err := c.source.CountUnreadByChat(ctx, userId, chatId)
	if err != nil {
		c.log.Printf("unread: count user %d chat %d: %v", userId, chatId, err)
		return
	}

	total, err := setChatScript.Run(ctx, c.rdb, []string{totalKey(userId), chatsKey(userId)}, chatId, counts[chatId]).Int64()
	if err != nil {
		c.log.Printf("unread: reset user %d chat %d: %v", userId, chatId, err)
		return
	}
	if total < 0 {
		if total, err = c.load(ctx, userId); err != nil {
			c.log.Printf("unread: load user %d: %v", userId, err)
			return
		}
	}
	c.publish(ctx, userId, total)
}

func (c *Counters) publish(ctx context.Context, userId, total int64) {
	payload, err := json.Marshal(protocol.UnreadCountersUpdate{UserId: userId, UnreadCount: total})
	if err != nil {
		c.log.Printf("unread: encode update: %v", err)
		return
	}
	if err := c.rdb.Publish(ctx, Channel(userId), payload).Err(); err != nil {
		c.log.Printf("unread: publish user %d: %v", userId, err)
	}
}

// Subscribe opens a pub/sub subscription to the users' counter channels.
// The caller owns the returned subscription.
func (c *Counters) Subscribe(ctx context.Context, userIds ...int64) *redis.PubSub {
	return c.rdb.Subscribe(ctx, Channels(userIds)...)
}

// Channels maps user ids to their counter channels.
func Channels(userIds []int64) []string {
	chans := make([]string, len(userIds))
	for i, userId := range userIds {
		chans[i] = Channel(userId)
	}
	return chans
}

// DecodeUpdate parses a message received on a counter channel.
func DecodeUpdate(msg *redis.Message) (protocol.UnreadCountersUpdate, error) {
	var u protocol.UnreadCountersUpdate
	if !strings.HasPrefix(msg.Channel, ChannelPrefix) {
		return u, fmt.Errorf("unexpected channel %q", msg.Channel)
	}
	if err := json.Unmarshal([]byte(msg.Payload), &u); err != nil {
		return u, fmt.Errorf("decode unread update: %w", err)
	}
	return u, nil
}
