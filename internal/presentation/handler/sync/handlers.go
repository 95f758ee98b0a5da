package sync

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fadechat/fadechat/internal/infrastructure/backend/memory"
	"github.com/fadechat/fadechat/internal/infrastructure/metrics"
	"github.com/fadechat/fadechat/internal/infrastructure/ws"
)

type Handler struct {
	store    *memory.Store
	metrics  *metrics.Manager
	logger   *zap.SugaredLogger
	upgrader websocket.Upgrader
}

func NewHandler(store *memory.Store, m *metrics.Manager, logger *zap.SugaredLogger) *Handler {
	return &Handler{
		store:   store,
		metrics: m,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Clients connect from file:// origins and local tooling
			},
		},
	}
}

// ServeSync upgrades the request and services sync frames until the client
// goes away. Each connection gets its own store session so last-wills fire
// per connection.
func (h *Handler) ServeSync(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	h.logger.Infow("sync client connected", "remote", r.RemoteAddr)
	client := ws.NewClient(conn, h.store.Session(), h.metrics, h.logger)
	go func() {
		client.Run()
		h.logger.Infow("sync client disconnected", "remote", r.RemoteAddr)
	}()
}
