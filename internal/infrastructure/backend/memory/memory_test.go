package memory

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fadechat/fadechat/internal/domain"
	"github.com/fadechat/fadechat/internal/infrastructure/backend"
)

func TestWriteReadRemove(t *testing.T) {
	st := NewStore(100, zap.NewNop().Sugar())
	sess := st.Session()
	ctx := context.Background()

	require.NoError(t, sess.Write(ctx, "rooms/ABC234/settings", map[string]int{"maxMembers": 2}))

	raw, err := sess.Read(ctx, "rooms/ABC234/settings")
	require.NoError(t, err)
	assert.JSONEq(t, `{"maxMembers":2}`, string(raw))

	_, err = sess.Read(ctx, "rooms/ABC234/missing")
	assert.ErrorIs(t, err, domain.ErrPathNotFound)

	require.NoError(t, sess.Remove(ctx, "rooms/ABC234"))
	_, err = sess.Read(ctx, "rooms/ABC234/settings")
	assert.ErrorIs(t, err, domain.ErrPathNotFound)
}

func TestRemoveIsRecursiveAndIdempotent(t *testing.T) {
	st := NewStore(100, zap.NewNop().Sugar())
	sess := st.Session()
	ctx := context.Background()

	require.NoError(t, sess.Write(ctx, "rooms/ABC234/presence/user-1", true))
	require.NoError(t, sess.Write(ctx, "rooms/ABC234/members/user-1", "host"))

	require.NoError(t, sess.Remove(ctx, "rooms/ABC234"))
	rooms, entries := st.Stats()
	assert.Zero(t, rooms)
	assert.Zero(t, entries)

	// Removing an absent path is not an error.
	require.NoError(t, sess.Remove(ctx, "rooms/ABC234"))
}

func TestReadBranchMaterializesChildren(t *testing.T) {
	st := NewStore(100, zap.NewNop().Sugar())
	sess := st.Session()
	ctx := context.Background()

	require.NoError(t, sess.Write(ctx, "rooms/ABC234/presence/user-1", true))
	require.NoError(t, sess.Write(ctx, "rooms/ABC234/presence/user-2", false))

	raw, err := sess.Read(ctx, "rooms/ABC234/presence")
	require.NoError(t, err)

	var children map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &children))
	assert.Len(t, children, 2)
	assert.JSONEq(t, "true", string(children["user-1"]))
	assert.JSONEq(t, "false", string(children["user-2"]))
}

func TestPushKeysPreserveOrder(t *testing.T) {
	st := NewStore(100, zap.NewNop().Sugar())
	sess := st.Session()
	ctx := context.Background()

	var keys []string
	for i := 0; i < 10; i++ {
		key, err := sess.Push(ctx, "rooms/ABC234/messages", i)
		require.NoError(t, err)
		keys = append(keys, key)
	}

	for i := 1; i < len(keys); i++ {
		assert.Less(t, keys[i-1], keys[i], "push keys must sort by insertion order")
	}
}

func TestPushEvictsOldestPastCapacity(t *testing.T) {
	st := NewStore(3, zap.NewNop().Sugar())
	sess := st.Session()
	ctx := context.Background()

	var keys []string
	for i := 0; i < 5; i++ {
		key, err := sess.Push(ctx, "rooms/ABC234/messages", i)
		require.NoError(t, err)
		keys = append(keys, key)
	}

	_, err := sess.Read(ctx, "rooms/ABC234/messages/"+keys[0])
	assert.ErrorIs(t, err, domain.ErrPathNotFound)
	_, err = sess.Read(ctx, "rooms/ABC234/messages/"+keys[4])
	assert.NoError(t, err)
}

func TestSubscribeDeliversInitialAndUpdates(t *testing.T) {
	st := NewStore(100, zap.NewNop().Sugar())
	sess := st.Session()
	ctx := context.Background()

	require.NoError(t, sess.Write(ctx, "rooms/ABC234/presence/user-1", true))

	var mu sync.Mutex
	var snaps []backend.Snapshot
	cancel, err := sess.Subscribe("rooms/ABC234/presence", func(snap backend.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		snaps = append(snaps, snap)
	})
	require.NoError(t, err)
	defer cancel()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(snaps) >= 1
	}, time.Second, 5*time.Millisecond, "initial snapshot must arrive")

	require.NoError(t, sess.Write(ctx, "rooms/ABC234/presence/user-2", true))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		last := snaps[len(snaps)-1]
		return len(last.Children) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	for i := 1; i < len(snaps); i++ {
		assert.Greater(t, snaps[i].Seq, snaps[i-1].Seq, "snapshot sequence must increase")
	}
	mu.Unlock()
}

func TestSubscribeAppendReplaysThenFollows(t *testing.T) {
	st := NewStore(100, zap.NewNop().Sugar())
	sess := st.Session()
	ctx := context.Background()

	k1, err := sess.Push(ctx, "rooms/ABC234/messages", "one")
	require.NoError(t, err)
	k2, err := sess.Push(ctx, "rooms/ABC234/messages", "two")
	require.NoError(t, err)

	var mu sync.Mutex
	var got []string
	cancel, err := sess.SubscribeAppend("rooms/ABC234/messages", func(key string, _ json.RawMessage) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, key)
	})
	require.NoError(t, err)
	defer cancel()

	k3, err := sess.Push(ctx, "rooms/ABC234/messages", "three")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{k1, k2, k3}, got)
	mu.Unlock()
}

func TestCloseFiresWills(t *testing.T) {
	st := NewStore(100, zap.NewNop().Sugar())
	owner := st.Session()
	ctx := context.Background()

	require.NoError(t, owner.Write(ctx, "rooms/ABC234/presence/user-1", true))
	require.NoError(t, owner.Write(ctx, "rooms/ABC234/members/user-1", "m"))
	require.NoError(t, owner.OnDisconnectWrite("rooms/ABC234/presence/user-1", false))
	require.NoError(t, owner.OnDisconnectRemove("rooms/ABC234/members/user-1"))
	assert.Equal(t, 2, owner.PendingWills())

	require.NoError(t, owner.Close())

	other := st.Session()
	raw, err := other.Read(ctx, "rooms/ABC234/presence/user-1")
	require.NoError(t, err)
	assert.JSONEq(t, "false", string(raw))

	_, err = other.Read(ctx, "rooms/ABC234/members/user-1")
	assert.ErrorIs(t, err, domain.ErrPathNotFound)
}

func TestCancelledWillDoesNotFire(t *testing.T) {
	st := NewStore(100, zap.NewNop().Sugar())
	sess := st.Session()
	ctx := context.Background()

	require.NoError(t, sess.Write(ctx, "rooms/ABC234/presence/user-1", true))
	require.NoError(t, sess.OnDisconnectWrite("rooms/ABC234/presence/user-1", false))
	require.NoError(t, sess.CancelOnDisconnect("rooms/ABC234/presence/user-1"))

	require.NoError(t, sess.Close())

	raw, err := st.Session().Read(ctx, "rooms/ABC234/presence/user-1")
	require.NoError(t, err)
	assert.JSONEq(t, "true", string(raw))
}

func TestClosedSessionRefusesOperations(t *testing.T) {
	st := NewStore(100, zap.NewNop().Sugar())
	sess := st.Session()
	require.NoError(t, sess.Close())

	assert.False(t, sess.Connected())
	assert.ErrorIs(t, sess.Write(context.Background(), "p", 1), domain.ErrBackendUnavailable)
	_, err := sess.Push(context.Background(), "p", 1)
	assert.ErrorIs(t, err, domain.ErrBackendUnavailable)

	// Close is idempotent.
	require.NoError(t, sess.Close())
}

func TestCloseNotifiesConnectivity(t *testing.T) {
	st := NewStore(100, zap.NewNop().Sugar())
	sess := st.Session()

	var mu sync.Mutex
	var transitions []bool
	sess.SubscribeConnectivity(func(connected bool) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, connected)
	})

	require.NoError(t, sess.Close())

	mu.Lock()
	assert.Equal(t, []bool{false}, transitions)
	mu.Unlock()
}
