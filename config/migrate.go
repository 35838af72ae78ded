package config

import (
	"gorm.io/gorm"

	"github.com/yoockh/dmcommerce/internal/models"
)

// AutoMigrate creates or updates the bot tables. The vector extension must
// exist before products.embedding can be created.
func AutoMigrate(db *gorm.DB) error {
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return err
	}
	return db.AutoMigrate(
		&models.User{},
		&models.Conversation{},
		&models.ConversationState{},
		&models.Message{},
		&models.BehaviorProfile{},
		&models.Product{},
		&models.FollowupTask{},
		&models.SupportTicket{},
		&models.Usage{},
		&models.Faq{},
		&models.Campaign{},
		&models.BotSettings{},
	)
}
