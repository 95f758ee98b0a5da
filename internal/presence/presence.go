// Package presence tracks "who is connected to this room right now" on top
// of the backend contract. Joining arms last-wills so that a client which
// vanishes without leaving is still cleared from the room.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/fadechat/fadechat/internal/domain"
	"github.com/fadechat/fadechat/internal/infrastructure/backend"
)

// Channel is the presence view of one participant in one room.
type Channel struct {
	store  backend.Store
	code   string
	self   string
	isHost bool

	mu      sync.Mutex
	joined  bool
	cancel  backend.CancelFunc
	lastSeq uint64
}

func NewChannel(store backend.Store, code, self string, isHost bool) *Channel {
	return &Channel{
		store:  store,
		code:   code,
		self:   self,
		isHost: isHost,
	}
}

// Join registers the participant as present and arms the disconnect hooks:
// presence flips to false and the member record is removed if the client
// drops without calling Leave. Registration order matters — the records are
// written first so a crash in between still leaves consistent wills.
func (c *Channel) Join(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	presencePath := backend.PresenceEntryPath(c.code, c.self)
	memberPath := backend.MemberEntryPath(c.code, c.self)

	if err := c.store.Write(ctx, presencePath, true); err != nil {
		return fmt.Errorf("register presence: %w", err)
	}
	if err := c.store.Write(ctx, memberPath, domain.NewParticipant(c.self, c.isHost)); err != nil {
		return fmt.Errorf("register member: %w", err)
	}

	if err := c.store.OnDisconnectWrite(presencePath, false); err != nil {
		return fmt.Errorf("arm presence will: %w", err)
	}
	if err := c.store.OnDisconnectRemove(memberPath); err != nil {
		return fmt.Errorf("arm member will: %w", err)
	}

	c.joined = true
	return nil
}

// Leave is the cooperative exit. Idempotent: leaving when not joined is a
// no-op. The wills are cancelled so a graceful exit is not followed by a
// second, redundant removal when the socket closes.
func (c *Channel) Leave(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.joined {
		return nil
	}
	c.joined = false

	presencePath := backend.PresenceEntryPath(c.code, c.self)
	memberPath := backend.MemberEntryPath(c.code, c.self)

	var firstErr error
	for _, step := range []func() error{
		func() error { return c.store.CancelOnDisconnect(presencePath) },
		func() error { return c.store.CancelOnDisconnect(memberPath) },
		func() error { return c.store.Remove(ctx, presencePath) },
		func() error { return c.store.Remove(ctx, memberPath) },
	} {
		if err := step(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Subscribe delivers the set of currently present participants (their
// "connected" flag true) on every membership change, including the
// subscriber's own join and leave. Stale snapshots racing behind newer ones
// are discarded by sequence number.
func (c *Channel) Subscribe(fn func(members map[string]bool)) error {
	cancel, err := c.store.Subscribe(backend.PresencePath(c.code), func(snap backend.Snapshot) {
		c.mu.Lock()
		if snap.Seq <= c.lastSeq {
			c.mu.Unlock()
			return
		}
		c.lastSeq = snap.Seq
		c.mu.Unlock()

		members := make(map[string]bool, len(snap.Children))
		for id, raw := range snap.Children {
			var present bool
			if err := json.Unmarshal(raw, &present); err != nil || !present {
				continue
			}
			members[id] = true
		}
		fn(members)
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	return nil
}

// Unsubscribe detaches the membership listener. Must be called on room exit
// so no stale closure fires after the session is gone.
func (c *Channel) Unsubscribe() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (c *Channel) Connected() bool {
	return c.store.Connected()
}
