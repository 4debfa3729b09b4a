package jobs

import (
	"bytes"
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/npezzotti/go-messenger/internal/presence"
	"github.com/npezzotti/go-messenger/internal/testutil"
	"github.com/npezzotti/go-messenger/internal/types"
	"github.com/npezzotti/go-messenger/internal/updates"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner(t *testing.T) {
	var ticks, panics atomic.Int32
	runner := NewRunner(testutil.TestLogger(t),
		Job{Name: "count", Interval: 5 * time.Millisecond, Run: func(ctx context.Context) error {
			ticks.Add(1)
			return errors.New("ignored")
		}},
		Job{Name: "panic", Interval: 5 * time.Millisecond, Run: func(ctx context.Context) error {
			panics.Add(1)
			panic("boom")
		}},
	)
	runner.Start(context.Background())

	assert.Eventually(t, func() bool {
		return ticks.Load() >= 3 && panics.Load() >= 3
	}, time.Second, 5*time.Millisecond, "expected both jobs to keep running despite failures")

	runner.Stop()
	stopped := ticks.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, ticks.Load(), "expected no runs after Stop")
	assert.NotPanics(t, runner.Stop, "expected Stop to be idempotent")
}

type fakeOnlineUsers struct {
	users   []presence.UserRef
	err     error
	cleaned []time.Duration
}

func (f *fakeOnlineUsers) GetOnlineUsers(ctx context.Context, window time.Duration, role *types.Role) ([]presence.UserRef, error) {
	return f.users, f.err
}

func (f *fakeOnlineUsers) Cleanup(ctx context.Context, maxAge time.Duration) error {
	f.cleaned = append(f.cleaned, maxAge)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	failOn map[int64]bool
	sent   map[int64][]bool
}

func (p *recordingPublisher) PublishUpdate(ctx context.Context, u updates.Update, excludeConnectionId string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ps := u.(*updates.PresenceStatusChanged)
	if p.failOn[ps.UserId] {
		return errors.New("bus unavailable")
	}
	if p.sent == nil {
		p.sent = make(map[int64][]bool)
	}
	p.sent[ps.UserId] = append(p.sent[ps.UserId], ps.IsOnline)
	return nil
}

func TestPresenceTracker_Track(t *testing.T) {
	online := &fakeOnlineUsers{users: []presence.UserRef{
		{UserId: 1, Role: types.RoleScout},
		{UserId: 2, Role: types.RoleSupervisor},
	}}
	pub := &recordingPublisher{failOn: map[int64]bool{2: true}}
	tracker := NewPresenceTracker(testutil.TestLogger(t), online, pub, time.Minute)
	ctx := context.Background()

	require.NoError(t, tracker.Track(ctx))
	assert.Equal(t, []bool{true}, pub.sent[1], "expected user 1 to go online")
	assert.Empty(t, pub.sent[2], "expected the failed user to be skipped")

	pub.failOn = nil
	require.NoError(t, tracker.Track(ctx))
	assert.Equal(t, []bool{true}, pub.sent[1], "expected no repeat announcement for a known user")
	assert.Equal(t, []bool{true}, pub.sent[2], "expected the failed user to be retried")

	online.users = []presence.UserRef{{UserId: 2, Role: types.RoleSupervisor}}
	require.NoError(t, tracker.Track(ctx))
	assert.Equal(t, []bool{true, false}, pub.sent[1], "expected user 1 to go offline")
	assert.Equal(t, []bool{true}, pub.sent[2])

	online.err = errors.New("redis down")
	assert.Error(t, tracker.Track(ctx))
}

func TestPresenceCleanup(t *testing.T) {
	online := &fakeOnlineUsers{}
	job := PresenceCleanup(online, time.Minute, time.Hour)

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, "presence-cleanup", job.Name)
	assert.Equal(t, []time.Duration{time.Hour}, online.cleaned)
}

type fakeInactiveChats struct {
	before time.Time
	limit  int
	ids    []int64
	err    error
}

func (f *fakeInactiveChats) CloseInactivePersonalChats(ctx context.Context, before time.Time, limit int) ([]int64, error) {
	f.before, f.limit = before, limit
	return f.ids, f.err
}

type fakeAnnouncer struct {
	announced map[int64]types.ChatCloseReason
	panicOn   int64
	failOn    int64
}

func (f *fakeAnnouncer) AnnounceChatClosed(ctx context.Context, chatId int64, reason types.ChatCloseReason) error {
	if chatId == f.panicOn {
		panic("publish failed")
	}
	if chatId == f.failOn {
		return errors.New("insert notification: connection reset")
	}
	f.announced[chatId] = reason
	return nil
}

func TestAutoclose_Run(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	chats := &fakeInactiveChats{ids: []int64{10, 11, 12}}
	announcer := &fakeAnnouncer{announced: make(map[int64]types.ChatCloseReason), panicOn: 11}
	ac := NewAutoclose(testutil.TestLogger(t), chats, announcer, 72*time.Hour, 50)
	ac.now = func() time.Time { return now }

	require.NoError(t, ac.Run(context.Background()))
	assert.Equal(t, now.Add(-72*time.Hour), chats.before)
	assert.Equal(t, 50, chats.limit)
	assert.Equal(t, map[int64]types.ChatCloseReason{
		10: types.CloseReasonMembersInactivity,
		12: types.CloseReasonMembersInactivity,
	}, announcer.announced, "expected a failing chat not to stop the batch")

	chats.err = errors.New("deadlock detected")
	assert.Error(t, ac.Run(context.Background()))
}

func TestAutoclose_LogsUnannouncedChat(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)
	chats := &fakeInactiveChats{ids: []int64{20, 21}}
	announcer := &fakeAnnouncer{announced: make(map[int64]types.ChatCloseReason), failOn: 21}
	ac := NewAutoclose(logger, chats, announcer, time.Hour, 10)

	require.NoError(t, ac.Run(context.Background()), "expected a lost notification not to fail the batch")
	assert.Contains(t, announcer.announced, int64(20))
	assert.Contains(t, buf.String(), "ERROR jobs: chat 21 was closed without its notification",
		"expected the chat id to be logged for manual repair")
	assert.NotContains(t, buf.String(), "chat 20 was closed without", "expected announced chats not to be flagged")
}
