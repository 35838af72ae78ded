package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yoockh/dmcommerce/internal/models"
)

type FollowupRepository interface {
	Create(ctx context.Context, t *models.FollowupTask) error
	HasScheduled(ctx context.Context, userID string) (bool, error)
	CancelScheduled(ctx context.Context, userID string) (int64, error)
	// ClaimDue locks up to limit due tasks and pushes their scheduled_for
	// forward by lease so a concurrent poller skips them. Claimed tasks
	// stay scheduled until MarkStatus is called.
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]models.FollowupTask, error)
	MarkStatus(ctx context.Context, id string, status models.FollowupStatus, sentAt *time.Time, reason string) error
}

type followupRepo struct {
	db *gorm.DB
}

func NewFollowupRepo(db *gorm.DB) FollowupRepository {
	return &followupRepo{db: db}
}

func (r *followupRepo) Create(ctx context.Context, t *models.FollowupTask) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *followupRepo) HasScheduled(ctx context.Context, userID string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.FollowupTask{}).
		Where("user_id = ? AND status = ?", userID, models.FollowupScheduled).
		Count(&n).Error
	return n > 0, err
}

func (r *followupRepo) CancelScheduled(ctx context.Context, userID string) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.FollowupTask{}).
		Where("user_id = ? AND status = ?", userID, models.FollowupScheduled).
		Updates(map[string]any{
			"status":     models.FollowupCancelled,
			"reason":     "user_activity",
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

func (r *followupRepo) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]models.FollowupTask, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []models.FollowupTask
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND scheduled_for <= ?", models.FollowupScheduled, now.UTC()).
			Order("scheduled_for ASC").
			Limit(limit).
			Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		ids := make([]string, len(rows))
		for i := range rows {
			ids[i] = rows[i].ID
		}
		return tx.Model(&models.FollowupTask{}).
			Where("id IN ?", ids).
			Update("scheduled_for", now.UTC().Add(lease)).Error
	})
	return rows, err
}

func (r *followupRepo) MarkStatus(ctx context.Context, id string, status models.FollowupStatus, sentAt *time.Time, reason string) error {
	fields := map[string]any{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}
	if sentAt != nil {
		fields["sent_at"] = sentAt.UTC()
	}
	if reason != "" {
		fields["reason"] = reason
	}
	return r.db.WithContext(ctx).Model(&models.FollowupTask{}).Where("id = ?", id).Updates(fields).Error
}
