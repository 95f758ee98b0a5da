// Package remote implements the backend contract against a fadechatd sync
// server over a single websocket. Requests are matched to acks by ID; the
// server fires any still-armed last-wills when the socket drops.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fadechat/fadechat/internal/domain"
	"github.com/fadechat/fadechat/internal/infrastructure/backend"
	"github.com/fadechat/fadechat/internal/infrastructure/backend/wire"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	callWait   = 10 * time.Second
)

type Client struct {
	conn   *websocket.Conn
	logger *zap.SugaredLogger

	writeMu sync.Mutex // serializes websocket writes

	mu         sync.Mutex
	closed     bool
	pending    map[uint64]chan wire.Frame
	valueSubs  map[string]map[uint64]func(backend.Snapshot)
	appendSubs map[string]map[uint64]func(string, json.RawMessage)
	connSubs   map[uint64]func(bool)
	nextSubID  uint64

	nextID    atomic.Uint64
	connected atomic.Bool

	done chan struct{}
}

var _ backend.Store = (*Client)(nil)

// Dial connects to the sync endpoint, e.g. ws://localhost:8080/api/sync.
func Dial(ctx context.Context, url string, logger *zap.SugaredLogger) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", domain.ErrBackendUnavailable, url, err)
	}

	c := &Client{
		conn:       conn,
		logger:     logger,
		pending:    make(map[uint64]chan wire.Frame),
		valueSubs:  make(map[string]map[uint64]func(backend.Snapshot)),
		appendSubs: make(map[string]map[uint64]func(string, json.RawMessage)),
		connSubs:   make(map[uint64]func(bool)),
		done:       make(chan struct{}),
	}
	c.connected.Store(true)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

func (c *Client) writeFrame(f wire.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	return nil
}

// call sends a request frame and waits for the matching ack.
func (c *Client) call(ctx context.Context, f wire.Frame) (wire.Frame, error) {
	if !c.connected.Load() {
		return wire.Frame{}, domain.ErrBackendUnavailable
	}

	f.ID = c.nextID.Add(1)
	ch := make(chan wire.Frame, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return wire.Frame{}, domain.ErrBackendUnavailable
	}
	c.pending[f.ID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, f.ID)
		c.mu.Unlock()
	}()

	if err := c.writeFrame(f); err != nil {
		return wire.Frame{}, err
	}

	timer := time.NewTimer(callWait)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp.Op == wire.OpError {
			return wire.Frame{}, decodeError(resp)
		}
		return resp, nil
	case <-ctx.Done():
		return wire.Frame{}, ctx.Err()
	case <-c.done:
		return wire.Frame{}, domain.ErrBackendUnavailable
	case <-timer.C:
		return wire.Frame{}, domain.ErrBackendUnavailable
	}
}

func decodeError(f wire.Frame) error {
	switch f.Code {
	case wire.CodePathNotFound:
		return domain.ErrPathNotFound
	default:
		return fmt.Errorf("sync server: %s", f.Error)
	}
}

func (c *Client) readLoop() {
	defer c.markDisconnected()

	for {
		var f wire.Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warnw("sync connection lost", "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch f.Op {
		case wire.OpAck, wire.OpError:
			c.mu.Lock()
			ch, ok := c.pending[f.ID]
			c.mu.Unlock()
			if ok {
				ch <- f
			}
		case wire.OpSnapshot:
			snap := backend.Snapshot{Path: f.Path, Seq: f.Seq, Children: f.Children}
			c.mu.Lock()
			fns := make([]func(backend.Snapshot), 0, len(c.valueSubs[f.Path]))
			for _, fn := range c.valueSubs[f.Path] {
				fns = append(fns, fn)
			}
			c.mu.Unlock()
			for _, fn := range fns {
				fn(snap)
			}
		case wire.OpAppend:
			c.mu.Lock()
			fns := make([]func(string, json.RawMessage), 0, len(c.appendSubs[f.Path]))
			for _, fn := range c.appendSubs[f.Path] {
				fns = append(fns, fn)
			}
			c.mu.Unlock()
			for _, fn := range fns {
				fn(f.Key, f.Value)
			}
		default:
			c.logger.Warnw("unknown sync frame", "op", f.Op)
		}
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) markDisconnected() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	subs := make([]func(bool), 0, len(c.connSubs))
	for _, fn := range c.connSubs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	c.connected.Store(false)
	c.conn.Close()
	for _, fn := range subs {
		fn(false)
	}
}

func (c *Client) Write(ctx context.Context, path string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}
	_, err = c.call(ctx, wire.Frame{Op: wire.OpWrite, Path: path, Value: raw})
	return err
}

func (c *Client) Remove(ctx context.Context, path string) error {
	_, err := c.call(ctx, wire.Frame{Op: wire.OpRemove, Path: path})
	return err
}

func (c *Client) Read(ctx context.Context, path string) (json.RawMessage, error) {
	resp, err := c.call(ctx, wire.Frame{Op: wire.OpRead, Path: path})
	if err != nil {
		return nil, err
	}
	return resp.Value, nil
}

func (c *Client) Push(ctx context.Context, path string, value any) (string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("marshal value: %w", err)
	}
	resp, err := c.call(ctx, wire.Frame{Op: wire.OpPush, Path: path, Value: raw})
	if err != nil {
		return "", err
	}
	return resp.Key, nil
}

func (c *Client) Subscribe(path string, fn func(backend.Snapshot)) (backend.CancelFunc, error) {
	c.mu.Lock()
	first := len(c.valueSubs[path]) == 0
	c.nextSubID++
	id := c.nextSubID
	if c.valueSubs[path] == nil {
		c.valueSubs[path] = make(map[uint64]func(backend.Snapshot))
	}
	c.valueSubs[path][id] = fn
	c.mu.Unlock()

	if first {
		if _, err := c.call(context.Background(), wire.Frame{Op: wire.OpSubscribe, Path: path}); err != nil {
			c.mu.Lock()
			delete(c.valueSubs[path], id)
			c.mu.Unlock()
			return nil, err
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { c.unsubscribeValue(path, id) })
	}, nil
}

func (c *Client) unsubscribeValue(path string, id uint64) {
	c.mu.Lock()
	delete(c.valueSubs[path], id)
	last := len(c.valueSubs[path]) == 0 && len(c.appendSubs[path]) == 0
	c.mu.Unlock()

	if last && c.connected.Load() {
		_, _ = c.call(context.Background(), wire.Frame{Op: wire.OpUnsubscribe, Path: path})
	}
}

func (c *Client) SubscribeAppend(path string, fn func(string, json.RawMessage)) (backend.CancelFunc, error) {
	c.mu.Lock()
	first := len(c.appendSubs[path]) == 0
	c.nextSubID++
	id := c.nextSubID
	if c.appendSubs[path] == nil {
		c.appendSubs[path] = make(map[uint64]func(string, json.RawMessage))
	}
	c.appendSubs[path][id] = fn
	c.mu.Unlock()

	if first {
		if _, err := c.call(context.Background(), wire.Frame{Op: wire.OpSubscribeAppend, Path: path}); err != nil {
			c.mu.Lock()
			delete(c.appendSubs[path], id)
			c.mu.Unlock()
			return nil, err
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { c.unsubscribeAppend(path, id) })
	}, nil
}

func (c *Client) unsubscribeAppend(path string, id uint64) {
	c.mu.Lock()
	delete(c.appendSubs[path], id)
	last := len(c.valueSubs[path]) == 0 && len(c.appendSubs[path]) == 0
	c.mu.Unlock()

	if last && c.connected.Load() {
		_, _ = c.call(context.Background(), wire.Frame{Op: wire.OpUnsubscribe, Path: path})
	}
}

func (c *Client) OnDisconnectWrite(path string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}
	_, err = c.call(context.Background(), wire.Frame{Op: wire.OpWillWrite, Path: path, Value: raw})
	return err
}

func (c *Client) OnDisconnectRemove(path string) error {
	_, err := c.call(context.Background(), wire.Frame{Op: wire.OpWillRemove, Path: path})
	return err
}

func (c *Client) CancelOnDisconnect(path string) error {
	_, err := c.call(context.Background(), wire.Frame{Op: wire.OpWillCancel, Path: path})
	return err
}

func (c *Client) Connected() bool {
	return c.connected.Load()
}

func (c *Client) SubscribeConnectivity(fn func(bool)) backend.CancelFunc {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextSubID++
	id := c.nextSubID
	c.connSubs[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.connSubs, id)
	}
}

// Close drops the connection. Any last-will still armed on the server fires
// there, which is exactly the abrupt-disconnect semantics; cooperative
// leaves cancel their wills before calling Close.
func (c *Client) Close() error {
	c.writeMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()

	c.markDisconnected()
	return nil
}
