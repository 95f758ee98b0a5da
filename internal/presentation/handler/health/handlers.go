package health

import (
	"net/http"
	"time"

	"github.com/fadechat/fadechat/internal/infrastructure/json"
)

var startTime = time.Now()

type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	data := healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(startTime).Round(time.Second).String(),
	}
	json.Write(w, http.StatusOK, data)
}
