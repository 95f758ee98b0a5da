package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fadechat/fadechat/internal/domain"
	"github.com/fadechat/fadechat/internal/expiry"
	"github.com/fadechat/fadechat/internal/infrastructure/backend"
	"github.com/fadechat/fadechat/internal/infrastructure/backend/memory"
)

func testSettings() domain.RoomSettings {
	return domain.RoomSettings{MaxMembers: 2, ExpireGraceSeconds: 5, WaitForRejoin: true}
}

func waitEvent(t *testing.T, s *Session, typ string) Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-s.Events():
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", typ)
		}
	}
}

func TestCreatePersistsSettingsAndPresence(t *testing.T) {
	st := memory.NewStore(100, zap.NewNop().Sugar())
	host := New(st.Session(), zap.NewNop().Sugar(), Config{Settings: testSettings()})

	room, err := host.Create(context.Background())
	require.NoError(t, err)
	assert.True(t, domain.ValidRoomCode(room.Code))
	assert.Equal(t, host.ParticipantID(), room.HostID)

	probe := st.Session()
	_, err = probe.Read(context.Background(), backend.SettingsPath(room.Code))
	assert.NoError(t, err)
	raw, err := probe.Read(context.Background(), backend.PresenceEntryPath(room.Code, host.ParticipantID()))
	require.NoError(t, err)
	assert.JSONEq(t, "true", string(raw))
}

func TestJoinIsCaseInsensitive(t *testing.T) {
	st := memory.NewStore(100, zap.NewNop().Sugar())
	host := New(st.Session(), zap.NewNop().Sugar(), Config{Settings: testSettings()})
	room, err := host.Create(context.Background())
	require.NoError(t, err)

	guest := New(st.Session(), zap.NewNop().Sugar(), Config{})
	joined, err := guest.Join(context.Background(), strings.ToLower(room.Code))
	require.NoError(t, err)
	assert.Equal(t, room.Code, joined.Code)
	assert.Equal(t, host.ParticipantID(), joined.HostID)
	assert.Equal(t, testSettings(), joined.Settings)
}

func TestJoinRejectsBadCodes(t *testing.T) {
	st := memory.NewStore(100, zap.NewNop().Sugar())
	guest := New(st.Session(), zap.NewNop().Sugar(), Config{})

	_, err := guest.Join(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrInvalidCodeFormat)

	_, err = guest.Join(context.Background(), "ABC234")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestJoinRefusesFullRoom(t *testing.T) {
	st := memory.NewStore(100, zap.NewNop().Sugar())
	logger := zap.NewNop().Sugar()

	host := New(st.Session(), logger, Config{Settings: testSettings()})
	room, err := host.Create(context.Background())
	require.NoError(t, err)

	guest := New(st.Session(), logger, Config{})
	_, err = guest.Join(context.Background(), room.Code)
	require.NoError(t, err)

	third := New(st.Session(), logger, Config{})
	_, err = third.Join(context.Background(), room.Code)
	assert.ErrorIs(t, err, domain.ErrRoomFull)
}

func TestGuestCannotUpdateSettings(t *testing.T) {
	st := memory.NewStore(100, zap.NewNop().Sugar())
	logger := zap.NewNop().Sugar()

	host := New(st.Session(), logger, Config{Settings: testSettings()})
	room, err := host.Create(context.Background())
	require.NoError(t, err)

	guest := New(st.Session(), logger, Config{})
	_, err = guest.Join(context.Background(), room.Code)
	require.NoError(t, err)

	settings := testSettings()
	settings.ExpireGraceSeconds = 30
	err = guest.UpdateSettings(context.Background(), settings)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	require.NoError(t, host.UpdateSettings(context.Background(), settings))
	assert.Equal(t, 30, host.Room().Settings.ExpireGraceSeconds)
}

func TestMessageRoundTrip(t *testing.T) {
	st := memory.NewStore(100, zap.NewNop().Sugar())
	logger := zap.NewNop().Sugar()

	host := New(st.Session(), logger, Config{Settings: testSettings()})
	room, err := host.Create(context.Background())
	require.NoError(t, err)

	guest := New(st.Session(), logger, Config{})
	_, err = guest.Join(context.Background(), room.Code)
	require.NoError(t, err)

	waitEvent(t, host, MemberJoinedEvent)

	require.NoError(t, guest.Send(context.Background(), "  hi  "))

	ev := waitEvent(t, host, MessageReceivedEvent)
	assert.Equal(t, "hi", ev.Message.Text)
	assert.Equal(t, guest.ParticipantID(), ev.Message.SenderID)

	// The sender sees their own message come back through the log.
	ev = waitEvent(t, guest, MessageReceivedEvent)
	assert.Equal(t, "hi", ev.Message.Text)
}

func TestEmptyMessagesAreDropped(t *testing.T) {
	st := memory.NewStore(100, zap.NewNop().Sugar())
	host := New(st.Session(), zap.NewNop().Sugar(), Config{Settings: testSettings()})
	room, err := host.Create(context.Background())
	require.NoError(t, err)

	require.NoError(t, host.Send(context.Background(), "   "))

	probe := st.Session()
	_, err = probe.Read(context.Background(), backend.MessagesPath(room.Code))
	assert.ErrorIs(t, err, domain.ErrPathNotFound)
}

func TestSendRateLimitEmitsAdvisory(t *testing.T) {
	st := memory.NewStore(100, zap.NewNop().Sugar())
	host := New(st.Session(), zap.NewNop().Sugar(), Config{
		Settings:        testSettings(),
		SendMinInterval: time.Minute,
	})
	_, err := host.Create(context.Background())
	require.NoError(t, err)

	require.NoError(t, host.Send(context.Background(), "first"))
	require.NoError(t, host.Send(context.Background(), "second"))

	waitEvent(t, host, RateLimitedEvent)
}

func TestLeaveIsIdempotentAndHostRemovesRoom(t *testing.T) {
	st := memory.NewStore(100, zap.NewNop().Sugar())
	host := New(st.Session(), zap.NewNop().Sugar(), Config{Settings: testSettings()})
	room, err := host.Create(context.Background())
	require.NoError(t, err)

	require.NoError(t, host.Leave(context.Background()))
	require.NoError(t, host.Leave(context.Background()))

	probe := st.Session()
	_, err = probe.Read(context.Background(), backend.SettingsPath(room.Code))
	assert.ErrorIs(t, err, domain.ErrPathNotFound)
}

func TestAbruptGuestDisconnectExpiresRoom(t *testing.T) {
	st := memory.NewStore(100, zap.NewNop().Sugar())
	logger := zap.NewNop().Sugar()
	clk := expiry.NewMock()

	host := New(st.Session(), logger, Config{Settings: testSettings(), Clock: clk})
	room, err := host.Create(context.Background())
	require.NoError(t, err)

	guestStore := st.Session()
	guest := New(guestStore, logger, Config{})
	_, err = guest.Join(context.Background(), room.Code)
	require.NoError(t, err)

	waitEvent(t, host, MemberJoinedEvent)

	// The guest's process dies: the socket drops without a Leave, and the
	// armed last-wills clear its presence.
	require.NoError(t, guestStore.Close())

	waitEvent(t, host, MemberLeftEvent)

	expired := false
	deadline := time.Now().Add(5 * time.Second)
	for !expired && time.Now().Before(deadline) {
		clk.Advance(time.Second)
		select {
		case ev := <-host.Events():
			switch ev.Type {
			case RoomExpiredEvent:
				expired = true
			case RoomExpiringEvent:
				assert.Positive(t, ev.SecondsLeft)
			}
		case <-time.After(10 * time.Millisecond):
		}
	}
	require.True(t, expired, "host session must expire after grace and countdown")

	probe := st.Session()
	_, err = probe.Read(context.Background(), backend.SettingsPath(room.Code))
	assert.ErrorIs(t, err, domain.ErrPathNotFound, "expired room record must be gone")
}

func TestHostDisconnectAfterExpiryLeavesNoResidue(t *testing.T) {
	st := memory.NewStore(100, zap.NewNop().Sugar())
	logger := zap.NewNop().Sugar()
	clk := expiry.NewMock()

	hostStore := st.Session()
	host := New(hostStore, logger, Config{Settings: testSettings(), Clock: clk})
	room, err := host.Create(context.Background())
	require.NoError(t, err)

	guestStore := st.Session()
	guest := New(guestStore, logger, Config{})
	_, err = guest.Join(context.Background(), room.Code)
	require.NoError(t, err)

	waitEvent(t, host, MemberJoinedEvent)

	require.NoError(t, guestStore.Close())
	waitEvent(t, host, MemberLeftEvent)

	expired := false
	deadline := time.Now().Add(5 * time.Second)
	for !expired && time.Now().Before(deadline) {
		clk.Advance(time.Second)
		select {
		case ev := <-host.Events():
			if ev.Type == RoomExpiredEvent {
				expired = true
			}
		case <-time.After(10 * time.Millisecond):
		}
	}
	require.True(t, expired)

	// The host's socket drops after the room is already gone. Its wills
	// were disarmed on expiry, so nothing may be written back under the
	// deleted room.
	require.NoError(t, hostStore.Close())

	probe := st.Session()
	_, err = probe.Read(context.Background(), backend.PresenceEntryPath(room.Code, host.ParticipantID()))
	assert.ErrorIs(t, err, domain.ErrPathNotFound, "no presence record may survive the room")
	_, err = probe.Read(context.Background(), backend.SettingsPath(room.Code))
	assert.ErrorIs(t, err, domain.ErrPathNotFound)

	rooms, entries := st.Stats()
	assert.Zero(t, rooms)
	assert.Zero(t, entries)
}

func TestHostAloneDoesNotExpire(t *testing.T) {
	st := memory.NewStore(100, zap.NewNop().Sugar())
	clk := expiry.NewMock()

	host := New(st.Session(), zap.NewNop().Sugar(), Config{Settings: testSettings(), Clock: clk})
	_, err := host.Create(context.Background())
	require.NoError(t, err)

	// Nobody ever joined; time passing must not tear the room down.
	time.Sleep(50 * time.Millisecond)
	clk.Advance(time.Hour)

	select {
	case ev := <-host.Events():
		assert.NotEqual(t, RoomExpiredEvent, ev.Type)
		assert.NotEqual(t, RoomExpiringEvent, ev.Type)
	default:
	}
}

func TestCannotJoinTwice(t *testing.T) {
	st := memory.NewStore(100, zap.NewNop().Sugar())
	host := New(st.Session(), zap.NewNop().Sugar(), Config{Settings: testSettings()})
	_, err := host.Create(context.Background())
	require.NoError(t, err)

	_, err = host.Create(context.Background())
	assert.ErrorIs(t, err, domain.ErrAlreadyInRoom)

	// The failed second Create must not leave a half-created room behind.
	rooms, _ := st.Stats()
	assert.Equal(t, 1, rooms)
}

func TestCloseNowExpiresImmediately(t *testing.T) {
	st := memory.NewStore(100, zap.NewNop().Sugar())
	host := New(st.Session(), zap.NewNop().Sugar(), Config{Settings: testSettings()})
	room, err := host.Create(context.Background())
	require.NoError(t, err)

	host.CloseNow()
	waitEvent(t, host, RoomExpiredEvent)

	probe := st.Session()
	_, err = probe.Read(context.Background(), backend.SettingsPath(room.Code))
	assert.ErrorIs(t, err, domain.ErrPathNotFound)
}

func TestShareLink(t *testing.T) {
	st := memory.NewStore(100, zap.NewNop().Sugar())
	host := New(st.Session(), zap.NewNop().Sugar(), Config{Settings: testSettings()})
	room, err := host.Create(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "https://fadechat.app/#"+room.Code, host.ShareLink("https://fadechat.app/"))
	assert.Empty(t, New(st.Session(), zap.NewNop().Sugar(), Config{}).ShareLink("https://fadechat.app"))
}
