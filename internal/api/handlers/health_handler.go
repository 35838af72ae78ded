package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger reports the state of each backing store by name.
type Pinger func(ctx context.Context) map[string]string

type HealthHandler struct {
	ping    Pinger
	timeout time.Duration
}

func NewHealthHandler(ping Pinger) *HealthHandler {
	return &HealthHandler{ping: ping, timeout: 3 * time.Second}
}

func (h *HealthHandler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}

// Health answers 503 when any configured store fails its ping. Stores that
// were never configured report "disabled" and do not fail the check.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	stores := map[string]string{}
	if h.ping != nil {
		stores = h.ping(ctx)
	}
	status, code := "ok", http.StatusOK
	for _, s := range stores {
		if strings.HasPrefix(s, "error") {
			status, code = "degraded", http.StatusServiceUnavailable
			break
		}
	}
	c.JSON(code, gin.H{"status": status, "stores": stores})
}
