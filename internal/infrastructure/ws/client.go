// Package ws holds the server side of the sync websocket: one Client per
// connection, servicing the wire protocol against an in-memory store
// session. When the connection drops, the session's last-wills fire.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fadechat/fadechat/internal/domain"
	"github.com/fadechat/fadechat/internal/infrastructure/backend"
	"github.com/fadechat/fadechat/internal/infrastructure/backend/memory"
	"github.com/fadechat/fadechat/internal/infrastructure/backend/wire"
	"github.com/fadechat/fadechat/internal/infrastructure/metrics"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	maxFrameSize = 64 << 10
)

type Client struct {
	wrapper *connWrapper
	sess    *memory.Session
	metrics *metrics.Manager
	logger  *zap.SugaredLogger

	mu   sync.Mutex
	subs map[string][]backend.CancelFunc
}

func NewClient(conn *websocket.Conn, sess *memory.Session, m *metrics.Manager, logger *zap.SugaredLogger) *Client {
	return &Client{
		wrapper: newConnWrapper(conn),
		sess:    sess,
		metrics: m,
		logger:  logger,
		subs:    make(map[string][]backend.CancelFunc),
	}
}

// Run services the connection until it drops, then fires the session's
// remaining last-wills. Cooperative leavers cancel their wills first, so
// anything still armed here belongs to an abrupt disconnect.
func (c *Client) Run() {
	c.metrics.ActiveConnections.Inc()
	defer c.metrics.ActiveConnections.Dec()
	defer c.teardown()

	conn := c.wrapper.conn
	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	for {
		var f wire.Frame
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warnw("sync connection dropped", "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		c.dispatch(f)
	}
}

func (c *Client) teardown() {
	wills := c.sess.PendingWills()
	if wills > 0 {
		c.metrics.WillsFired.Add(float64(wills))
	}
	if err := c.sess.Close(); err != nil {
		c.logger.Warnw("session close", "error", err)
	}

	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()
	for _, cancels := range subs {
		for _, cancel := range cancels {
			cancel()
		}
	}

	c.wrapper.Close()
}

func (c *Client) dispatch(f wire.Frame) {
	c.metrics.SyncOps.WithLabelValues(f.Op).Inc()

	if f.Path == "" {
		c.writeError(f.ID, wire.CodeBadRequest, "missing path")
		return
	}

	ctx := context.Background()
	switch f.Op {
	case wire.OpWrite:
		c.reply(f.ID, wire.Frame{}, c.sess.Write(ctx, f.Path, f.Value))
	case wire.OpRemove:
		c.reply(f.ID, wire.Frame{}, c.sess.Remove(ctx, f.Path))
	case wire.OpRead:
		v, err := c.sess.Read(ctx, f.Path)
		c.reply(f.ID, wire.Frame{Value: v}, err)
	case wire.OpPush:
		key, err := c.sess.Push(ctx, f.Path, f.Value)
		c.reply(f.ID, wire.Frame{Key: key}, err)
	case wire.OpSubscribe:
		c.handleSubscribe(f)
	case wire.OpSubscribeAppend:
		c.handleSubscribeAppend(f)
	case wire.OpUnsubscribe:
		c.handleUnsubscribe(f)
	case wire.OpWillWrite:
		c.reply(f.ID, wire.Frame{}, c.sess.OnDisconnectWrite(f.Path, f.Value))
	case wire.OpWillRemove:
		c.reply(f.ID, wire.Frame{}, c.sess.OnDisconnectRemove(f.Path))
	case wire.OpWillCancel:
		c.reply(f.ID, wire.Frame{}, c.sess.CancelOnDisconnect(f.Path))
	default:
		c.writeError(f.ID, wire.CodeBadRequest, "unknown op "+f.Op)
	}
}

func (c *Client) handleSubscribe(f wire.Frame) {
	cancel, err := c.sess.Subscribe(f.Path, func(snap backend.Snapshot) {
		c.writeFrame(wire.Frame{
			Op:       wire.OpSnapshot,
			Path:     snap.Path,
			Seq:      snap.Seq,
			Children: snap.Children,
		})
	})
	if err != nil {
		c.reply(f.ID, wire.Frame{}, err)
		return
	}
	c.track(f.Path, cancel)
	c.reply(f.ID, wire.Frame{}, nil)
}

func (c *Client) handleSubscribeAppend(f wire.Frame) {
	cancel, err := c.sess.SubscribeAppend(f.Path, func(key string, value json.RawMessage) {
		c.writeFrame(wire.Frame{
			Op:    wire.OpAppend,
			Path:  f.Path,
			Key:   key,
			Value: value,
		})
	})
	if err != nil {
		c.reply(f.ID, wire.Frame{}, err)
		return
	}
	c.track(f.Path, cancel)
	c.reply(f.ID, wire.Frame{}, nil)
}

func (c *Client) handleUnsubscribe(f wire.Frame) {
	c.mu.Lock()
	cancels := c.subs[f.Path]
	delete(c.subs, f.Path)
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	c.reply(f.ID, wire.Frame{}, nil)
}

func (c *Client) track(path string, cancel backend.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs == nil {
		// Torn down while subscribing; detach immediately.
		go cancel()
		return
	}
	c.subs[path] = append(c.subs[path], cancel)
}

func (c *Client) reply(id uint64, resp wire.Frame, err error) {
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrPathNotFound):
			c.writeError(id, wire.CodePathNotFound, err.Error())
		default:
			c.writeError(id, wire.CodeBadRequest, err.Error())
		}
		return
	}
	resp.Op = wire.OpAck
	resp.ID = id
	c.writeFrame(resp)
}

func (c *Client) writeError(id uint64, code, msg string) {
	c.writeFrame(wire.Frame{Op: wire.OpError, ID: id, Code: code, Error: msg})
}

func (c *Client) writeFrame(f wire.Frame) {
	if err := c.wrapper.WriteJSON(f); err != nil {
		c.logger.Debugw("sync frame write", "op", f.Op, "error", err)
	}
}
