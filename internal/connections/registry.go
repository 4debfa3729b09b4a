package connections

import (
	"context"
	"fmt"
	"log"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-messenger/internal/errs"
	"github.com/npezzotti/go-messenger/internal/protocol"
	"github.com/npezzotti/go-messenger/internal/stats"
	"github.com/npezzotti/go-messenger/internal/types"
	"github.com/teris-io/shortid"
)

const (
	userKeyPrefix = "connections:"
	ipKeyPrefix   = "connections:ip:"

	// ipCounterTTL bounds how long a counter leaked by a crashed
	// process can keep an address blocked.
	ipCounterTTL = time.Hour

	rejectWriteWait = 5 * time.Second
)

// Websocket close codes.
const (
	CloseGoingAway       = 1001
	CloseProtocolError   = 1002
	ClosePolicyViolation = 1008
)

// Transport delivers frames to a single client.
type Transport interface {
	// Send queues msg without blocking and reports whether it was accepted.
	Send(msg protocol.Message) bool
	Close(code int, reason string)
}

type Connection struct {
	Id          string
	UserId      int64
	Role        types.Role
	IP          string
	Transport   Transport
	ConnectedAt time.Time
}

func (c *Connection) Send(msg protocol.Message) bool {
	return c.Transport.Send(msg)
}

// Registry tracks the connections of this process and mirrors them to redis
// so other processes can tell whether a user is online anywhere.
type Registry struct {
	log      *log.Logger
	rdb      *redis.Client
	stats    stats.StatsProvider
	maxPerIP int
	now      func() time.Time

	mu     sync.RWMutex
	byId   map[string]*Connection
	byUser map[int64]map[string]*Connection
}

func NewRegistry(logger *log.Logger, rdb *redis.Client, sp stats.StatsProvider, maxPerIP int) *Registry {
	return &Registry{
		log:      logger,
		rdb:      rdb,
		stats:    sp,
		maxPerIP: maxPerIP,
		now:      time.Now,
		byId:     make(map[string]*Connection),
		byUser:   make(map[int64]map[string]*Connection),
	}
}

func userKey(userId int64) string {
	return userKeyPrefix + strconv.FormatInt(userId, 10)
}

func ipKey(ip string) string {
	return ipKeyPrefix + ip
}

func connMember(userId int64, connId string) string {
	return fmt.Sprintf("%d:%s", userId, connId)
}

// OnUserConnected admits a new connection. The per-address counter is
// incremented before the check so that concurrent connects cannot both
// slip under the limit.
func (r *Registry) OnUserConnected(ctx context.Context, user types.AuthUser, transport Transport, ip string) (*Connection, error) {
	if ip != "" && r.maxPerIP > 0 {
		n, err := r.rdb.Incr(ctx, ipKey(ip)).Result()
		if err != nil {
			return nil, fmt.Errorf("count connections for %s: %w", ip, err)
		}
		r.rdb.Expire(ctx, ipKey(ip), ipCounterTTL)

		if n > int64(r.maxPerIP) {
			r.rdb.Decr(ctx, ipKey(ip))
			r.stats.Incr(stats.RejectedConnections)
			return nil, fmt.Errorf("%s has %d connections: %w", ip, n-1, errs.ErrTooManyConnections)
		}
	}

	id, err := shortid.Generate()
	if err != nil {
		r.releaseIP(ctx, ip)
		return nil, fmt.Errorf("generate connection id: %w", err)
	}

	conn := &Connection{
		Id:          id,
		UserId:      user.Id,
		Role:        user.Role,
		IP:          ip,
		Transport:   transport,
		ConnectedAt: r.now(),
	}

	if err := r.rdb.SAdd(ctx, userKey(user.Id), connMember(user.Id, id)).Err(); err != nil {
		r.releaseIP(ctx, ip)
		return nil, fmt.Errorf("register connection: %w", err)
	}

	r.mu.Lock()
	r.byId[id] = conn
	if r.byUser[user.Id] == nil {
		r.byUser[user.Id] = make(map[string]*Connection)
	}
	r.byUser[user.Id][id] = conn
	r.mu.Unlock()

	r.stats.Incr(stats.ActiveConnections)
	return conn, nil
}

// ConnectionClosed forgets the connection. Only the first call for a
// connection has any effect.
func (r *Registry) ConnectionClosed(ctx context.Context, conn *Connection) {
	r.mu.Lock()
	if _, ok := r.byId[conn.Id]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.byId, conn.Id)
	if conns := r.byUser[conn.UserId]; conns != nil {
		delete(conns, conn.Id)
		if len(conns) == 0 {
			delete(r.byUser, conn.UserId)
		}
	}
	r.mu.Unlock()

	r.stats.Decr(stats.ActiveConnections)

	if err := r.rdb.SRem(ctx, userKey(conn.UserId), connMember(conn.UserId, conn.Id)).Err(); err != nil {
		r.log.Printf("connections: unregister %s: %v", conn.Id, err)
	}
	r.releaseIP(ctx, conn.IP)
}

func (r *Registry) releaseIP(ctx context.Context, ip string) {
	if ip == "" || r.maxPerIP <= 0 {
		return
	}
	if err := r.rdb.Decr(ctx, ipKey(ip)).Err(); err != nil {
		r.log.Printf("connections: release %s: %v", ip, err)
	}
}

// GetAllConnections returns the local connections of the given users,
// skipping the connection ids in exclude.
func (r *Registry) GetAllConnections(userIds []int64, exclude ...string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*Connection
	for _, userId := range userIds {
		for id, conn := range r.byUser[userId] {
			if slices.Contains(exclude, id) {
				continue
			}
			result = append(result, conn)
		}
	}
	return result
}

func (r *Registry) GetConnection(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byId[id]
	return conn, ok
}

func (r *Registry) GetConnectionsCountByIP(ctx context.Context, ip string) (int64, error) {
	n, err := r.rdb.Get(ctx, ipKey(ip)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

// OverLimit reports whether ip already holds the maximum number of
// connections.
func (r *Registry) OverLimit(ctx context.Context, ip string) bool {
	if r.maxPerIP <= 0 || ip == "" {
		return false
	}
	n, err := r.GetConnectionsCountByIP(ctx, ip)
	if err != nil {
		r.log.Printf("connections: count %s: %v", ip, err)
		return false
	}
	return n >= int64(r.maxPerIP)
}

// GetOnlineUserIds returns the users among userIds with at least one open
// connection on any process.
func (r *Registry) GetOnlineUserIds(ctx context.Context, userIds []int64) ([]int64, error) {
	if len(userIds) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.IntCmd, len(userIds))
	_, err := r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, userId := range userIds {
			cmds[i] = pipe.SCard(ctx, userKey(userId))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	var online []int64
	for i, userId := range userIds {
		if cmds[i].Val() > 0 {
			online = append(online, userId)
		}
	}
	return online, nil
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byId)
}

// CloseAll closes every local connection. Transports report back through
// ConnectionClosed.
func (r *Registry) CloseAll(code int, reason string) {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.byId))
	for _, conn := range r.byId {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		conn.Transport.Close(code, reason)
	}
}

// Reject closes a socket that was upgraded only to report why it cannot
// be served.
func Reject(conn *websocket.Conn, code int, reason string) {
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(rejectWriteWait))
	conn.Close()
}
