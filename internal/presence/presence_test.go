package presence

import (
	"context"
	"testing"
	"time"

	"github.com/npezzotti/go-messenger/internal/testutil"
	"github.com/npezzotti/go-messenger/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *time.Time) {
	_, rdb := testutil.TestRedis(t)
	svc := NewService(testutil.TestLogger(t), NewStorage(rdb))
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	return svc, &now
}

func Test_packMember(t *testing.T) {
	u := UserRef{UserId: 42, Role: types.RoleSupervisor}
	packed := packMember(u)
	assert.Equal(t, "42:3", packed)

	unpacked, err := unpackMember(packed)
	require.NoError(t, err)
	assert.Equal(t, u, unpacked)

	for _, bad := range []string{"", "42", "x:1", "1:y"} {
		_, err := unpackMember(bad)
		assert.Error(t, err, "expected error unpacking %q", bad)
	}
}

func TestService_ActiveUsers(t *testing.T) {
	svc, now := newTestService(t)
	ctx := context.Background()

	scout := UserRef{UserId: 1, Role: types.RoleScout}
	supervisor := UserRef{UserId: 2, Role: types.RoleSupervisor}

	svc.UserActive(ctx, scout)
	svc.UserActive(ctx, supervisor)

	users, err := svc.GetOnlineUsers(ctx, time.Second, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []UserRef{scout, supervisor}, users, "expected both users to be active")

	role := types.RoleSupervisor
	users, err = svc.GetOnlineUsers(ctx, time.Second, &role)
	require.NoError(t, err)
	assert.Equal(t, []UserRef{supervisor}, users, "expected role filter to keep only supervisors")

	// the user stays active until the offline threshold has passed
	*now = now.Add(59 * time.Second)
	users, err = svc.GetOnlineUsers(ctx, time.Minute, nil)
	require.NoError(t, err)
	assert.Len(t, users, 2, "expected users to be active within the threshold")

	*now = now.Add(2 * time.Second)
	users, err = svc.GetOnlineUsers(ctx, time.Minute, nil)
	require.NoError(t, err)
	assert.Empty(t, users, "expected users to age out after the threshold")
}

func TestService_ActivityRefresh(t *testing.T) {
	svc, now := newTestService(t)
	ctx := context.Background()
	u := UserRef{UserId: 7, Role: types.RoleBookmaker}

	svc.UserActive(ctx, u)
	*now = now.Add(50 * time.Second)
	svc.UserActive(ctx, u)
	*now = now.Add(50 * time.Second)

	users, err := svc.GetOnlineUsers(ctx, time.Minute, nil)
	require.NoError(t, err)
	assert.Equal(t, []UserRef{u}, users, "expected a later activity to replace the earlier score")
}

func TestService_ActiveUsersInChats(t *testing.T) {
	svc, now := newTestService(t)
	ctx := context.Background()

	a := UserRef{UserId: 1, Role: types.RoleScout}
	b := UserRef{UserId: 2, Role: types.RoleBookmaker}

	svc.UserActiveInChat(ctx, a, 10)
	*now = now.Add(30 * time.Second)
	svc.UserActiveInChat(ctx, b, 10)
	svc.UserActiveInChat(ctx, b, 11)

	active, err := svc.GetActiveUsersInChats(ctx, []int64{10, 11, 12}, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, []UserRef{b}, active[10], "expected only recent activity in chat 10")
	assert.Equal(t, []UserRef{b}, active[11])
	assert.Empty(t, active[12], "expected no activity in chat 12")

	global, err := svc.GetOnlineUsers(ctx, time.Minute, nil)
	require.NoError(t, err)
	assert.Len(t, global, 2, "expected chat activity to also update global activity")
}

func TestService_Cleanup(t *testing.T) {
	svc, now := newTestService(t)
	ctx := context.Background()

	old := UserRef{UserId: 1, Role: types.RoleScout}
	fresh := UserRef{UserId: 2, Role: types.RoleScout}

	svc.UserActiveInChat(ctx, old, 5)
	*now = now.Add(time.Hour)
	svc.UserActiveInChat(ctx, fresh, 5)

	require.NoError(t, svc.Cleanup(ctx, 10*time.Minute))

	users, err := svc.storage.GetActiveUsers(ctx, time.Time{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []UserRef{fresh}, users, "expected stale global entries to be removed")

	inChats, err := svc.storage.GetActiveUsersInChats(ctx, []int64{5}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []UserRef{fresh}, inChats[5], "expected stale chat entries to be removed")
}

func TestService_WriteFailureIsLogged(t *testing.T) {
	mr, rdb := testutil.TestRedis(t)
	svc := NewService(testutil.TestLogger(t), NewStorage(rdb))
	mr.Close()

	assert.NotPanics(t, func() {
		svc.UserActiveInChat(context.Background(), UserRef{UserId: 1, Role: types.RoleScout}, 1)
	}, "expected presence writes to swallow storage errors")
}
