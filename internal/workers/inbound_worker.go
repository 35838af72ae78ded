package workers

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/dmcommerce/internal/services"
)

const payloadField = "payload"

// Handler processes one raw webhook payload.
type Handler interface {
	Handle(ctx context.Context, raw []byte) services.Outcome
}

// StreamQueue appends raw webhook payloads to a Redis stream.
type StreamQueue struct {
	Redis  *redis.Client
	Stream string
	// MaxLen caps the stream approximately; 0 keeps everything.
	MaxLen int64
}

func (q *StreamQueue) Enqueue(ctx context.Context, raw []byte) error {
	if q.Redis == nil {
		return errors.New("StreamQueue has no Redis client")
	}
	return q.Redis.XAdd(ctx, &redis.XAddArgs{
		Stream: q.Stream,
		MaxLen: q.MaxLen,
		Approx: q.MaxLen > 0,
		Values: map[string]any{payloadField: string(raw)},
	}).Err()
}

// InboundWorkerPool consumes the inbound stream through a consumer group and
// hands every entry to the pipeline. Entries are acked after handling, so a
// crash mid-message leaves it pending for redelivery.
type InboundWorkerPool struct {
	Redis      *redis.Client
	Pipeline   Handler
	NumWorkers int

	Logger *logrus.Logger

	Stream         string
	Group          string
	ConsumerPrefix string

	wg sync.WaitGroup
}

func (p *InboundWorkerPool) Start(ctx context.Context) error {
	if p.Redis == nil || p.Pipeline == nil {
		return errors.New("InboundWorkerPool missing dependency: Redis/Pipeline must be set")
	}
	p.defaults()

	// BUSYGROUP means the group already exists.
	_ = p.Redis.XGroupCreateMkStream(ctx, p.Stream, p.Group, "0").Err()

	for i := range p.NumWorkers {
		consumer := p.ConsumerPrefix + "-" + strconv.Itoa(i+1)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runConsumer(ctx, consumer)
		}()
	}
	p.Logger.WithFields(logrus.Fields{
		"stream":  p.Stream,
		"group":   p.Group,
		"workers": p.NumWorkers,
	}).Info("inbound workers started")
	return nil
}

// Wait blocks until every consumer has returned after ctx is cancelled.
func (p *InboundWorkerPool) Wait() { p.wg.Wait() }

func (p *InboundWorkerPool) defaults() {
	if p.Stream == "" {
		p.Stream = "inbound:stream"
	}
	if p.Group == "" {
		p.Group = "inbound-workers"
	}
	if p.ConsumerPrefix == "" {
		p.ConsumerPrefix = "c"
	}
	if p.NumWorkers <= 0 {
		p.NumWorkers = 4
	}
	if p.Logger == nil {
		p.Logger = logrus.New()
	}
}

func (p *InboundWorkerPool) runConsumer(ctx context.Context, consumer string) {
	for {
		if ctx.Err() != nil {
			return
		}

		res, err := p.Redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    p.Group,
			Consumer: consumer,
			Streams:  []string{p.Stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			p.Logger.WithField("consumer", consumer).WithError(err).Warn("stream read failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				p.handleMsg(ctx, msg)
				if err := p.Redis.XAck(ctx, p.Stream, p.Group, msg.ID).Err(); err != nil {
					p.Logger.WithField("redis_id", msg.ID).WithError(err).Warn("stream ack failed")
				}
			}
		}
	}
}

func (p *InboundWorkerPool) handleMsg(ctx context.Context, msg redis.XMessage) {
	log := p.Logger.WithField("redis_id", msg.ID)

	var raw []byte
	switch v := msg.Values[payloadField].(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	}
	if len(raw) == 0 {
		log.Warn("stream entry without payload")
		return
	}

	out := p.Pipeline.Handle(ctx, raw)
	log.WithFields(logrus.Fields{
		"status":  out.Status,
		"handler": out.Handler,
		"intent":  out.Intent,
	}).Debug("inbound handled")
}
