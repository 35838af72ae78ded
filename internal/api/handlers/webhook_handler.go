package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/dmcommerce/internal/services"
	"github.com/yoockh/dmcommerce/internal/utils"
	"golang.org/x/sync/semaphore"
)

const maxWebhookBytes = 1 << 20

// Queue accepts raw payloads for asynchronous processing.
type Queue interface {
	Enqueue(ctx context.Context, raw []byte) error
}

// Processor handles one raw payload end to end.
type Processor interface {
	Handle(ctx context.Context, raw []byte) services.Outcome
}

type WebhookConfig struct {
	// MaxInline bounds concurrent inline processing when no queue is set or
	// the queue is unavailable.
	MaxInline int64
	Timeout   time.Duration
}

type WebhookHandler struct {
	queue    Queue
	pipeline Processor
	sem      *semaphore.Weighted
	timeout  time.Duration
	log      *logrus.Logger
}

// NewWebhookHandler accepts a nil queue; every payload is then processed
// inline.
func NewWebhookHandler(queue Queue, pipeline Processor, cfg WebhookConfig, log *logrus.Logger) *WebhookHandler {
	if cfg.MaxInline <= 0 {
		cfg.MaxInline = 16
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &WebhookHandler{
		queue: queue, pipeline: pipeline, sem: semaphore.NewWeighted(cfg.MaxInline),
		timeout: cfg.Timeout, log: log,
	}
}

type WebhookResponse struct {
	Status string `json:"status"`
}

func (h *WebhookHandler) Receive(c *gin.Context) {
	const op = "WebhookHandler.Receive"

	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBytes))
	if err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "unreadable body", err))
		return
	}
	ev, err := services.DecodeWebhook(raw)
	if err != nil {
		writeError(c, err)
		return
	}
	log := h.log.WithFields(logrus.Fields{
		"sender_id":    ev.SenderID,
		"message_id":   ev.MessageID,
		"message_type": ev.Type,
	})

	if h.queue != nil {
		err := h.queue.Enqueue(c.Request.Context(), raw)
		if err == nil {
			c.JSON(http.StatusOK, WebhookResponse{Status: "queued"})
			return
		}
		log.WithError(err).Warn("enqueue failed, processing inline")
	}

	if !h.sem.TryAcquire(1) {
		writeError(c, utils.E(utils.CodeUnavailable, op, "too many inbound events in flight", nil))
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), h.timeout)
	go func() {
		defer h.sem.Release(1)
		defer cancel()
		h.pipeline.Handle(ctx, raw)
	}()
	c.JSON(http.StatusOK, WebhookResponse{Status: "accepted"})
}
