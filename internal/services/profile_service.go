package services

import (
	"context"
	"reflect"
	"time"

	"github.com/yoockh/dmcommerce/internal/classify"
	"github.com/yoockh/dmcommerce/internal/models"
	pgrepo "github.com/yoockh/dmcommerce/internal/repositories/postgres"
	"github.com/yoockh/dmcommerce/internal/utils"

	"gorm.io/datatypes"
)

type ProfileConfig struct {
	ContinueTTL       time.Duration
	CrossSellEnabled  bool
	CrossSellCooldown time.Duration
}

// ProfileService maintains the per-user profile blob: preferences, the last
// product list and the cross-sell cooldown.
type ProfileService interface {
	// LearnPreferences merges preferences found in text and returns the
	// merged set. The profile is written only when something changed.
	LearnPreferences(ctx context.Context, u *models.User, text string) (models.Preferences, error)
	// RecordProducts remembers the product list a reply showed so "ادامه"
	// can page through it.
	RecordProducts(ctx context.Context, u *models.User, query string, shown []models.Product, offset, total int) error
	// ListState returns the stored product list. expired is true when it is
	// older than the continue TTL.
	ListState(u *models.User) (st *models.ProductListState, expired bool)
	CrossSellAllowed(u *models.User) bool
	MarkCrossSell(ctx context.Context, u *models.User) error
}

type profileService struct {
	cls   *classify.Classifier
	users pgrepo.UserRepository
	cfg   ProfileConfig
	now   func() time.Time
}

func NewProfileService(cls *classify.Classifier, users pgrepo.UserRepository, cfg ProfileConfig) ProfileService {
	if cfg.ContinueTTL <= 0 {
		cfg.ContinueTTL = 30 * time.Minute
	}
	return &profileService{cls: cls, users: users, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

func (s *profileService) LearnPreferences(ctx context.Context, u *models.User, text string) (models.Preferences, error) {
	const op = "ProfileService.LearnPreferences"

	if u == nil {
		return models.Preferences{}, utils.E(utils.CodeInvalidArgument, op, "user is required", nil)
	}
	p := u.Profile.Data()
	found := s.cls.ExtractPreferences(text)
	if found.Empty() {
		return p.Prefs, nil
	}
	merged := p.Prefs.Merge(found)
	if reflect.DeepEqual(merged, p.Prefs) {
		return merged, nil
	}
	p.Prefs = merged
	if err := s.save(ctx, u, p); err != nil {
		return p.Prefs, utils.E(utils.CodeInternal, op, "failed to save preferences", err)
	}
	return merged, nil
}

func (s *profileService) RecordProducts(ctx context.Context, u *models.User, query string, shown []models.Product, offset, total int) error {
	const op = "ProfileService.RecordProducts"

	if u == nil {
		return utils.E(utils.CodeInvalidArgument, op, "user is required", nil)
	}
	p := u.Profile.Data()
	if query == "" {
		p.ProductState = nil
	} else {
		p.ProductState = &models.ProductListState{Query: query, Offset: offset, Total: total, UpdatedAt: s.now()}
	}
	slugs := make([]string, 0, len(shown))
	for _, pr := range shown {
		if pr.Slug != "" {
			slugs = append(slugs, pr.Slug)
		}
	}
	p.Memory.Remember(query, slugs)
	if err := s.save(ctx, u, p); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to save product list", err)
	}
	return nil
}

func (s *profileService) ListState(u *models.User) (*models.ProductListState, bool) {
	if u == nil {
		return nil, false
	}
	st := u.Profile.Data().ProductState
	if st == nil || st.Query == "" {
		return nil, false
	}
	return st, !st.UpdatedAt.IsZero() && s.now().Sub(st.UpdatedAt) > s.cfg.ContinueTTL
}

func (s *profileService) CrossSellAllowed(u *models.User) bool {
	if !s.cfg.CrossSellEnabled || u == nil {
		return false
	}
	last := u.Profile.Data().CrossSellAt
	return last == nil || s.now().Sub(*last) >= s.cfg.CrossSellCooldown
}

func (s *profileService) MarkCrossSell(ctx context.Context, u *models.User) error {
	const op = "ProfileService.MarkCrossSell"

	p := u.Profile.Data()
	now := s.now()
	p.CrossSellAt = &now
	if err := s.save(ctx, u, p); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to save cross-sell time", err)
	}
	return nil
}

func (s *profileService) save(ctx context.Context, u *models.User, p models.UserProfile) error {
	if err := s.users.UpdateProfile(ctx, u.ID, p); err != nil {
		return err
	}
	u.Profile = datatypes.NewJSONType(p)
	return nil
}
