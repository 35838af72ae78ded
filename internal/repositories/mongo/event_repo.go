package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/yoockh/dmcommerce/internal/models"
	"github.com/yoockh/dmcommerce/internal/utils"
)

type EventRepository interface {
	Insert(ctx context.Context, e *models.Event) error
	// LastOfType returns the newest event of eventType for a conversation.
	LastOfType(ctx context.Context, conversationID, eventType string) (*models.Event, error)
	// Recent returns up to limit events of eventType, newest first.
	Recent(ctx context.Context, conversationID, eventType string, limit int64) ([]models.Event, error)
}

type eventRepo struct {
	col *mongo.Collection
	ttl time.Duration
}

// NewEventRepo stores events in bot_events; each expires ttl after creation.
func NewEventRepo(db *mongo.Database, ttl time.Duration) EventRepository {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &eventRepo{col: db.Collection("bot_events"), ttl: ttl}
}

func (r *eventRepo) Insert(ctx context.Context, e *models.Event) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.ExpiresAt.IsZero() {
		e.ExpiresAt = e.CreatedAt.Add(r.ttl)
	}
	if e.Level == "" {
		e.Level = "info"
	}
	_, err := r.col.InsertOne(ctx, e)
	return err
}

func (r *eventRepo) LastOfType(ctx context.Context, conversationID, eventType string) (*models.Event, error) {
	var e models.Event
	err := r.col.FindOne(ctx,
		bson.M{"conversation_id": conversationID, "event_type": eventType},
		options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}}),
	).Decode(&e)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *eventRepo) Recent(ctx context.Context, conversationID, eventType string, limit int64) ([]models.Event, error) {
	if limit <= 0 {
		limit = 10
	}
	cur, err := r.col.Find(ctx,
		bson.M{"conversation_id": conversationID, "event_type": eventType},
		options.Find().
			SetSort(bson.D{{Key: "created_at", Value: -1}}).
			SetLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Event
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
