package postgres

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yoockh/dmcommerce/internal/models"
	"github.com/yoockh/dmcommerce/internal/utils"
)

type ProductRepository interface {
	// Candidates returns products whose slug, title, description or
	// product_id contains any token, newest first.
	Candidates(ctx context.Context, tokens []string, limit int) ([]models.Product, error)
	GetByID(ctx context.Context, id string) (*models.Product, error)
	FindBySlugOrURL(ctx context.Context, slug, pageURL string) (*models.Product, error)
	Latest(ctx context.Context, limit, offset int) ([]models.Product, error)
	Count(ctx context.Context) (int64, error)
	// InStockMatching returns in-stock products whose title or slug
	// contains any of terms, skipping excludeIDs.
	InStockMatching(ctx context.Context, terms []string, excludeIDs []string, limit int) ([]models.Product, error)
	// Similar orders in-stock products by embedding distance to id. It
	// returns nothing when id has no embedding.
	Similar(ctx context.Context, id string, limit int) ([]models.Product, error)
}

type productRepo struct {
	db *gorm.DB
}

func NewProductRepo(db *gorm.DB) ProductRepository {
	return &productRepo{db: db}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}

func (r *productRepo) Candidates(ctx context.Context, tokens []string, limit int) ([]models.Product, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	cond := r.db
	for i, t := range tokens {
		p := likePattern(t)
		expr := "slug ILIKE ? OR title ILIKE ? OR description ILIKE ? OR product_id ILIKE ?"
		if i == 0 {
			cond = cond.Where(expr, p, p, p, p)
		} else {
			cond = cond.Or(expr, p, p, p, p)
		}
	}
	var rows []models.Product
	err := r.db.WithContext(ctx).
		Where(cond).
		Order("updated_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *productRepo) GetByID(ctx context.Context, id string) (*models.Product, error) {
	var row models.Product
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &row, err
}

func (r *productRepo) FindBySlugOrURL(ctx context.Context, slug, pageURL string) (*models.Product, error) {
	if slug == "" && pageURL == "" {
		return nil, utils.ErrNotFound
	}
	q := r.db.WithContext(ctx)
	switch {
	case slug != "" && pageURL != "":
		q = q.Where("slug = ? OR page_url = ?", slug, pageURL)
	case slug != "":
		q = q.Where("slug = ?", slug)
	default:
		q = q.Where("page_url = ?", pageURL)
	}
	var row models.Product
	err := q.Order("updated_at DESC").Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &row, err
}

func (r *productRepo) Latest(ctx context.Context, limit, offset int) ([]models.Product, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []models.Product
	err := r.db.WithContext(ctx).
		Order("updated_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *productRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Product{}).Count(&n).Error
	return n, err
}

func (r *productRepo) InStockMatching(ctx context.Context, terms []string, excludeIDs []string, limit int) ([]models.Product, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 3
	}
	cond := r.db
	for i, t := range terms {
		p := likePattern(t)
		if i == 0 {
			cond = cond.Where("title ILIKE ? OR slug ILIKE ?", p, p)
		} else {
			cond = cond.Or("title ILIKE ? OR slug ILIKE ?", p, p)
		}
	}
	q := r.db.WithContext(ctx).
		Where("availability = ?", models.InStock).
		Where(cond)
	if len(excludeIDs) > 0 {
		q = q.Where("id NOT IN ?", excludeIDs)
	}
	var rows []models.Product
	err := q.Order("updated_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

func (r *productRepo) Similar(ctx context.Context, id string, limit int) ([]models.Product, error) {
	if limit <= 0 {
		limit = 3
	}
	var src models.Product
	err := r.db.WithContext(ctx).Select("id", "embedding").Where("id = ?", id).Take(&src).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if src.Embedding == nil {
		return nil, nil
	}

	var rows []models.Product
	err = r.db.WithContext(ctx).
		Where("id <> ? AND availability = ? AND embedding IS NOT NULL", id, models.InStock).
		Clauses(clause.OrderBy{
			Expression: clause.Expr{SQL: "embedding <-> ?", Vars: []any{*src.Embedding}},
		}).
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
