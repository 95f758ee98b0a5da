// Package session implements the ephemeral chat session: room creation and
// joining, message flow, and the presence-driven expiration lifecycle. One
// Session owns one participant's view of one room.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fadechat/fadechat/internal/domain"
	"github.com/fadechat/fadechat/internal/expiry"
	"github.com/fadechat/fadechat/internal/infrastructure/backend"
	"github.com/fadechat/fadechat/internal/infrastructure/ratelimiter"
	"github.com/fadechat/fadechat/internal/presence"
)

const eventBuffer = 128

// Config carries the tunables a Session needs. Zero values fall back to
// sane defaults in New.
type Config struct {
	Settings        domain.RoomSettings
	Countdown       time.Duration
	SendMinInterval time.Duration
	Clock           expiry.Clock
}

type Session struct {
	store  backend.Store
	logger *zap.SugaredLogger
	cfg    Config

	self    string
	limiter ratelimiter.Limiter

	events  chan Event
	dropped atomic.Uint64

	mu       sync.Mutex
	room     *domain.Room
	isHost   bool
	hadPeer  bool
	left     bool
	expired  bool
	ch       *presence.Channel
	ctrl     *expiry.Controller
	lastSeen map[string]bool
	cancels  []backend.CancelFunc
}

func New(store backend.Store, logger *zap.SugaredLogger, cfg Config) *Session {
	if cfg.Settings.MaxMembers == 0 {
		cfg.Settings = domain.DefaultSettings()
	}
	if cfg.Countdown <= 0 {
		cfg.Countdown = 10 * time.Second
	}
	if cfg.SendMinInterval <= 0 {
		cfg.SendMinInterval = time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = expiry.SystemClock()
	}

	return &Session{
		store:   store,
		logger:  logger,
		cfg:     cfg,
		self:    domain.NewParticipantID(),
		limiter: ratelimiter.NewFixedWindowRateLimiter(1, cfg.SendMinInterval),
		events:  make(chan Event, eventBuffer),
	}
}

// Events is the consumer-facing stream. Slow consumers lose events rather
// than stalling the session; losses are counted and logged.
func (s *Session) Events() <-chan Event { return s.events }

func (s *Session) ParticipantID() string { return s.self }

func (s *Session) Room() *domain.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == nil {
		return nil
	}
	r := *s.room
	return &r
}

// ShareLink renders the join URL for this room against a frontend origin.
func (s *Session) ShareLink(origin string) string {
	r := s.Room()
	if r == nil {
		return ""
	}
	return strings.TrimRight(origin, "/") + "/#" + r.Code
}

// Create provisions a fresh room with this participant as host: generates
// a code, persists the settings, registers presence, and starts watching
// for members and messages.
func (s *Session) Create(ctx context.Context) (*domain.Room, error) {
	if err := s.cfg.Settings.Validate(); err != nil {
		return nil, err
	}

	code := domain.NewRoomCode()
	room := &domain.Room{Code: code, HostID: s.self, Settings: s.cfg.Settings}

	if err := s.store.Write(ctx, backend.SettingsPath(code), room.Settings); err != nil {
		return nil, err
	}

	if err := s.attach(ctx, room, true); err != nil {
		// Nobody owns the freshly written settings record if attach failed.
		if rerr := s.store.Remove(ctx, backend.RoomPath(code)); rerr != nil {
			s.logger.Warnw("orphan room cleanup", "code", code, "error", rerr)
		}
		return nil, err
	}

	s.logger.Infow("room created", "code", code, "participant", s.self)
	return room, nil
}

// Join enters an existing room as a guest. The code is case-insensitive.
func (s *Session) Join(ctx context.Context, code string) (*domain.Room, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !domain.ValidRoomCode(code) {
		return nil, domain.ErrInvalidCodeFormat
	}

	raw, err := s.store.Read(ctx, backend.SettingsPath(code))
	if err != nil {
		if errors.Is(err, domain.ErrPathNotFound) {
			return nil, domain.ErrRoomNotFound
		}
		return nil, err
	}

	var settings domain.RoomSettings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return nil, domain.ErrRoomNotFound
	}

	present, err := s.readPresence(ctx, code)
	if err != nil {
		return nil, err
	}
	if !CanAdmit(present, settings) {
		return nil, domain.ErrRoomFull
	}

	hostID, err := s.findHost(ctx, code)
	if err != nil {
		return nil, err
	}

	room := &domain.Room{Code: code, HostID: hostID, Settings: settings}
	if err := s.attach(ctx, room, false); err != nil {
		return nil, err
	}

	s.logger.Infow("room joined", "code", code, "participant", s.self, "host", hostID)
	return room, nil
}

// attach wires the live machinery once the room record exists: presence
// registration with last-wills, the expiration controller, and the member,
// message, and connectivity subscriptions.
func (s *Session) attach(ctx context.Context, room *domain.Room, isHost bool) error {
	s.mu.Lock()
	if s.room != nil {
		s.mu.Unlock()
		return domain.ErrAlreadyInRoom
	}
	s.room = room
	s.isHost = isHost
	s.ch = presence.NewChannel(s.store, room.Code, s.self, isHost)
	s.ctrl = expiry.NewController(expiry.Config{
		Grace:         room.Settings.Grace(),
		Countdown:     s.cfg.Countdown,
		WaitForRejoin: room.Settings.WaitForRejoin,
	}, s.cfg.Clock, s.onExpiryChange, s.onExpired)
	s.mu.Unlock()

	if err := s.ch.Join(ctx); err != nil {
		s.detachOnError()
		return err
	}

	if err := s.ch.Subscribe(s.onPresence); err != nil {
		s.detachOnError()
		return err
	}

	msgCancel, err := s.store.SubscribeAppend(backend.MessagesPath(room.Code), s.onMessage)
	if err != nil {
		s.detachOnError()
		return err
	}

	connCancel := s.store.SubscribeConnectivity(s.onConnectivity)

	s.mu.Lock()
	s.cancels = append(s.cancels, msgCancel, connCancel)
	s.mu.Unlock()
	return nil
}

func (s *Session) detachOnError() {
	s.mu.Lock()
	ch, ctrl := s.ch, s.ctrl
	s.room, s.ch, s.ctrl = nil, nil, nil
	s.mu.Unlock()

	if ctrl != nil {
		ctrl.Stop()
	}
	if ch != nil {
		ch.Unsubscribe()
		if err := ch.Leave(context.Background()); err != nil {
			s.logger.Warnw("cleanup after failed attach", "error", err)
		}
	}
}

// Send publishes a chat message. Empty or whitespace-only text is dropped
// silently. Sends faster than the configured interval are refused with an
// advisory event instead of an error so the UI can surface it softly.
func (s *Session) Send(ctx context.Context, text string) error {
	msg, err := domain.NewMessage(s.self, text)
	if err != nil {
		return nil
	}

	s.mu.Lock()
	room := s.room
	s.mu.Unlock()
	if room == nil {
		return domain.ErrRoomNotFound
	}

	if !s.store.Connected() {
		s.emit(Event{Type: MessageFailedEvent, Message: msg, At: time.Now()})
		return domain.ErrBackendUnavailable
	}

	if ok, retry := s.limiter.Allow(s.self); !ok {
		s.emit(Event{
			Type: RateLimitedEvent,
			Text: "sending too fast, wait " + retry.Round(time.Millisecond).String(),
			At:   time.Now(),
		})
		return nil
	}

	if _, err := s.store.Push(ctx, backend.MessagesPath(room.Code), msg); err != nil {
		s.emit(Event{Type: MessageFailedEvent, Message: msg, At: time.Now()})
		return err
	}
	return nil
}

// UpdateSettings persists new room settings. Host only.
func (s *Session) UpdateSettings(ctx context.Context, settings domain.RoomSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	room, isHost := s.room, s.isHost
	s.mu.Unlock()

	if room == nil {
		return domain.ErrRoomNotFound
	}
	if !isHost {
		return domain.ErrNotAuthorized
	}

	if err := s.store.Write(ctx, backend.SettingsPath(room.Code), settings); err != nil {
		return err
	}

	s.mu.Lock()
	s.room.Settings = settings
	s.mu.Unlock()
	return nil
}

// Leave is the cooperative exit: subscriptions detach, the presence record
// and wills are cleared, and no expiration fires locally. A leaving host
// takes the room record with them. Idempotent.
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	if s.left || s.room == nil {
		s.mu.Unlock()
		return nil
	}
	s.left = true
	room, isHost := s.room, s.isHost
	ch, ctrl := s.ch, s.ctrl
	cancels := s.cancels
	s.cancels = nil
	s.mu.Unlock()

	ctrl.Stop()
	ch.Unsubscribe()
	for _, cancel := range cancels {
		cancel()
	}

	var firstErr error
	if err := ch.Leave(ctx); err != nil {
		firstErr = err
	}

	if isHost {
		if err := s.store.Remove(ctx, backend.RoomPath(room.Code)); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	s.limiter.Close()
	s.logger.Infow("room left", "code", room.Code, "participant", s.self)
	return firstErr
}

// CloseNow expires the session immediately, skipping grace and countdown.
func (s *Session) CloseNow() {
	s.mu.Lock()
	ctrl := s.ctrl
	s.mu.Unlock()
	if ctrl != nil {
		ctrl.CloseNow()
	}
}

// onPresence handles each membership snapshot: join/leave notices and the
// expiration verdict for the controller.
func (s *Session) onPresence(members map[string]bool) {
	s.mu.Lock()
	if s.room == nil || s.left || s.expired {
		s.mu.Unlock()
		return
	}
	room, isHost := s.room, s.isHost
	prev := s.lastSeen
	s.lastSeen = members
	ctrl := s.ctrl

	var counterpart bool
	if isHost {
		counterpart = IsCounterpartPresent(members, s.self)
		if counterpart {
			s.hadPeer = true
		}
	} else {
		counterpart = IsHostPresent(members, room.HostID)
	}
	// A host alone in a brand-new room is not an expiring room. The
	// countdown only arms once a peer has been seen at least once.
	observe := !isHost || counterpart || s.hadPeer
	s.mu.Unlock()

	s.announceDiff(prev, members, room.HostID)

	if observe {
		ctrl.Observe(counterpart)
	}
}

func (s *Session) announceDiff(prev, now map[string]bool, hostID string) {
	at := time.Now()
	for id, p := range now {
		if p && id != s.self && !prev[id] {
			s.emit(Event{Type: MemberJoinedEvent, ParticipantID: id, At: at})
			s.emit(Event{Type: SystemEvent, Text: "Someone joined the chat!", At: at})
		}
	}
	for id, p := range prev {
		if p && id != s.self && !now[id] {
			s.emit(Event{Type: MemberLeftEvent, ParticipantID: id, At: at})
			if id == hostID {
				s.emit(Event{Type: SystemEvent, Text: "The host left the chat.", At: at})
			} else {
				s.emit(Event{Type: SystemEvent, Text: "The other participant left.", At: at})
			}
		}
	}
}

func (s *Session) onMessage(key string, raw json.RawMessage) {
	var msg domain.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.logger.Warnw("malformed message dropped", "key", key, "error", err)
		return
	}
	msg.ID = key
	s.emit(Event{Type: MessageReceivedEvent, Message: &msg, At: time.Now()})
}

func (s *Session) onConnectivity(connected bool) {
	s.emit(Event{Type: ConnectivityEvent, Connected: connected, At: time.Now()})
}

func (s *Session) onExpiryChange(state expiry.State, secondsLeft int) {
	if state == expiry.CountingDown {
		s.emit(Event{Type: RoomExpiringEvent, SecondsLeft: secondsLeft, At: time.Now()})
	}
}

// onExpired tears the session down after the state machine fired: the host
// deletes the shared room record, everyone clears their own presence.
func (s *Session) onExpired() {
	s.mu.Lock()
	if s.expired || s.room == nil {
		s.mu.Unlock()
		return
	}
	s.expired = true
	s.left = true
	room, isHost := s.room, s.isHost
	ch := s.ch
	cancels := s.cancels
	s.cancels = nil
	s.mu.Unlock()

	ch.Unsubscribe()
	for _, cancel := range cancels {
		cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Leave first so the armed wills are disarmed: a will replayed after the
	// host's socket later drops would write the presence entry back into a
	// room that no longer exists.
	if err := ch.Leave(ctx); err != nil {
		s.logger.Warnw("presence cleanup on expiry", "code", room.Code, "error", err)
	}
	if isHost {
		if err := s.store.Remove(ctx, backend.RoomPath(room.Code)); err != nil {
			s.logger.Warnw("room record removal", "code", room.Code, "error", err)
		}
	}

	s.limiter.Close()
	s.emit(Event{Type: RoomExpiredEvent, At: time.Now()})
	s.logger.Infow("room expired", "code", room.Code, "participant", s.self)
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		n := s.dropped.Add(1)
		s.logger.Warnw("event dropped, consumer too slow", "type", ev.Type, "dropped", n)
	}
}

func (s *Session) readPresence(ctx context.Context, code string) (map[string]bool, error) {
	present := make(map[string]bool)
	raw, err := s.store.Read(ctx, backend.PresencePath(code))
	if err != nil {
		if errors.Is(err, domain.ErrPathNotFound) {
			return present, nil
		}
		return nil, err
	}

	var children map[string]json.RawMessage
	if err := json.Unmarshal(raw, &children); err != nil {
		return nil, err
	}
	for id, v := range children {
		var p bool
		if err := json.Unmarshal(v, &p); err == nil && p {
			present[id] = true
		}
	}
	return present, nil
}

func (s *Session) findHost(ctx context.Context, code string) (string, error) {
	raw, err := s.store.Read(ctx, backend.MembersPath(code))
	if err != nil {
		if errors.Is(err, domain.ErrPathNotFound) {
			return "", nil
		}
		return "", err
	}

	var children map[string]json.RawMessage
	if err := json.Unmarshal(raw, &children); err != nil {
		return "", err
	}
	for id, v := range children {
		var m domain.Participant
		if err := json.Unmarshal(v, &m); err == nil && m.IsHost {
			return id, nil
		}
	}
	return "", nil
}
