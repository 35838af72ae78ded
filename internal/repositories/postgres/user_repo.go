package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yoockh/dmcommerce/internal/models"
	"github.com/yoockh/dmcommerce/internal/utils"
)

// Enrichment is the best-effort profile data fetched from the platform.
// Nil fields are left untouched.
type Enrichment struct {
	Username      *string
	FollowStatus  *string
	FollowerCount *int64
}

type UserRepository interface {
	GetOrCreate(ctx context.Context, externalID string) (*models.User, bool, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	UpdateProfile(ctx context.Context, id string, p models.UserProfile) error
	UpdateEnrichment(ctx context.Context, id string, e Enrichment) error
	SetVIP(ctx context.Context, id string, score int, vip bool) error
}

type userRepo struct {
	db *gorm.DB
}

func NewUserRepo(db *gorm.DB) UserRepository {
	return &userRepo{db: db}
}

// GetOrCreate returns the user for externalID, creating it on first sight.
// The second result is true when this call created the row.
func (r *userRepo) GetOrCreate(ctx context.Context, externalID string) (*models.User, bool, error) {
	now := time.Now().UTC()
	u := &models.User{
		ID:         uuid.NewString(),
		ExternalID: externalID,
		Profile:    datatypes.NewJSONType(models.UserProfile{}),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "external_id"}}, DoNothing: true}).
		Create(u)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 1 {
		return u, true, nil
	}

	var row models.User
	err := r.db.WithContext(ctx).Where("external_id = ?", externalID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, utils.ErrNotFound
	}
	return &row, false, err
}

func (r *userRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	var row models.User
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &row, err
}

func (r *userRepo) UpdateProfile(ctx context.Context, id string, p models.UserProfile) error {
	return r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"profile_json": datatypes.NewJSONType(p),
			"updated_at":   time.Now().UTC(),
		}).Error
}

func (r *userRepo) UpdateEnrichment(ctx context.Context, id string, e Enrichment) error {
	fields := map[string]any{}
	if e.Username != nil {
		fields["username"] = *e.Username
	}
	if e.FollowStatus != nil {
		fields["follow_status"] = *e.FollowStatus
	}
	if e.FollowerCount != nil {
		fields["follower_count"] = *e.FollowerCount
	}
	if len(fields) == 0 {
		return nil
	}
	fields["updated_at"] = time.Now().UTC()
	return r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(fields).Error
}

func (r *userRepo) SetVIP(ctx context.Context, id string, score int, vip bool) error {
	return r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]any{"vip_score": score, "is_vip": vip, "updated_at": time.Now().UTC()}).Error
}
