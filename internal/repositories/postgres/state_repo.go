package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yoockh/dmcommerce/internal/models"
	"github.com/yoockh/dmcommerce/internal/utils"
)

type StateRepository interface {
	Get(ctx context.Context, conversationID string) (*models.ConversationState, error)
	// Insert is a no-op when the row already exists.
	Insert(ctx context.Context, s *models.ConversationState) error
	Save(ctx context.Context, s *models.ConversationState) error
}

type stateRepo struct {
	db *gorm.DB
}

func NewStateRepo(db *gorm.DB) StateRepository {
	return &stateRepo{db: db}
}

func (r *stateRepo) Get(ctx context.Context, conversationID string) (*models.ConversationState, error) {
	var row models.ConversationState
	err := r.db.WithContext(ctx).Where("conversation_id = ?", conversationID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &row, err
}

func (r *stateRepo) Insert(ctx context.Context, s *models.ConversationState) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "conversation_id"}}, DoNothing: true}).
		Create(s).Error
}

func (r *stateRepo) Save(ctx context.Context, s *models.ConversationState) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "conversation_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"intent", "category", "slots_required", "slots_filled",
				"last_user_question", "last_user_message_id", "last_bot_action",
				"last_handler_used", "last_bot_answer_by_intent", "selected_product",
				"last_raw_answer", "loop_counter", "updated_at",
			}),
		}).
		Create(s).Error
}
