package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/yoockh/dmcommerce/internal/cache"
	"github.com/yoockh/dmcommerce/internal/classify"
	"github.com/yoockh/dmcommerce/internal/models"
	pgrepo "github.com/yoockh/dmcommerce/internal/repositories/postgres"
	"github.com/yoockh/dmcommerce/internal/utils"

	"github.com/sirupsen/logrus"
)

const (
	catalogCacheKey  = "catalog:snapshot"
	catalogPageSize  = 200
	catalogScanLimit = 2000
	catalogTopN      = 8
	catalogTopDetail = 5
	catalogRecentN   = 5
)

type FacetCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type CategoryDetail struct {
	Name      string   `json:"name"`
	Count     int      `json:"count"`
	MinPrice  *int64   `json:"min_price,omitempty"`
	MaxPrice  *int64   `json:"max_price,omitempty"`
	TopSizes  []string `json:"top_sizes,omitempty"`
	TopBrands []string `json:"top_brands,omitempty"`
}

type RecentProduct struct {
	Title        string              `json:"title"`
	Price        *int64              `json:"price,omitempty"`
	Availability models.Availability `json:"availability"`
	PageURL      string              `json:"page_url,omitempty"`
}

// CatalogSnapshot is an aggregate view of the catalog given to the model
// so it can answer "what do you sell" questions without a product match.
type CatalogSnapshot struct {
	Total      int64            `json:"total"`
	Categories []FacetCount     `json:"categories"`
	Genders    []FacetCount     `json:"genders"`
	Styles     []FacetCount     `json:"styles"`
	Materials  []FacetCount     `json:"materials"`
	Brands     []FacetCount     `json:"brands"`
	Sizes      []FacetCount     `json:"sizes"`
	Details    []CategoryDetail `json:"details"`
	MinPrice   *int64           `json:"min_price,omitempty"`
	MaxPrice   *int64           `json:"max_price,omitempty"`
	Recent     []RecentProduct  `json:"recent"`
	BuiltAt    time.Time        `json:"built_at"`
}

type CatalogService interface {
	Snapshot(ctx context.Context) (*CatalogSnapshot, error)
	Invalidate(ctx context.Context) error
}

type catalogService struct {
	products pgrepo.ProductRepository
	cls      *classify.Classifier
	cache    cache.Cache
	ttl      time.Duration
	log      *logrus.Logger
}

func NewCatalogService(products pgrepo.ProductRepository, cls *classify.Classifier, c cache.Cache, ttl time.Duration, log *logrus.Logger) CatalogService {
	if c == nil {
		c = cache.NewMemoryCache()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &catalogService{products: products, cls: cls, cache: c, ttl: ttl, log: log}
}

func (s *catalogService) Snapshot(ctx context.Context) (*CatalogSnapshot, error) {
	const op = "CatalogService.Snapshot"

	var snap CatalogSnapshot
	hit, err := s.cache.GetJSON(ctx, catalogCacheKey, &snap)
	if err != nil {
		s.log.WithError(err).Warn("catalog cache read failed")
	}
	if hit {
		return &snap, nil
	}

	built, err := s.build(ctx)
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "failed to build catalog snapshot", err)
	}
	if err := s.cache.SetJSON(ctx, catalogCacheKey, built, s.ttl); err != nil {
		s.log.WithError(err).Warn("catalog cache write failed")
	}
	return built, nil
}

func (s *catalogService) Invalidate(ctx context.Context) error {
	const op = "CatalogService.Invalidate"

	if err := s.cache.Del(ctx, catalogCacheKey); err != nil {
		return utils.E(utils.CodeUnavailable, op, "failed to drop catalog snapshot", err)
	}
	return nil
}

type categoryAgg struct {
	count  int
	min    *int64
	max    *int64
	sizes  map[string]int
	brands map[string]int
}

func (s *catalogService) build(ctx context.Context) (*CatalogSnapshot, error) {
	total, err := s.products.Count(ctx)
	if err != nil {
		return nil, err
	}

	var (
		categories = map[string]int{}
		genders    = map[string]int{}
		styles     = map[string]int{}
		materials  = map[string]int{}
		brands     = map[string]int{}
		sizes      = map[string]int{}
		perCat     = map[string]*categoryAgg{}
		minPrice   *int64
		maxPrice   *int64
		recent     []RecentProduct
	)

	for offset := 0; offset < catalogScanLimit; offset += catalogPageSize {
		page, err := s.products.Latest(ctx, catalogPageSize, offset)
		if err != nil {
			return nil, err
		}
		for i := range page {
			p := &page[i]
			if len(recent) < catalogRecentN {
				recent = append(recent, RecentProduct{
					Title: productTitle(p), Price: p.Price,
					Availability: p.Availability, PageURL: p.PageURL,
				})
			}
			minPrice, maxPrice = widen(minPrice, maxPrice, p.Price)

			tags := s.cls.InferTags(productHaystack(p))
			bump(categories, tags.Categories)
			bump(genders, tags.Genders)
			bump(styles, tags.Styles)
			bump(materials, tags.Materials)
			bump(brands, tags.Brands)
			bump(sizes, tags.Sizes)

			for _, cat := range tags.Categories {
				agg := perCat[cat]
				if agg == nil {
					agg = &categoryAgg{sizes: map[string]int{}, brands: map[string]int{}}
					perCat[cat] = agg
				}
				agg.count++
				agg.min, agg.max = widen(agg.min, agg.max, p.Price)
				bump(agg.sizes, tags.Sizes)
				bump(agg.brands, tags.Brands)
			}
		}
		if len(page) < catalogPageSize {
			break
		}
	}

	snap := &CatalogSnapshot{
		Total:      total,
		Categories: topCounts(categories, catalogTopN),
		Genders:    topCounts(genders, catalogTopN),
		Styles:     topCounts(styles, catalogTopN),
		Materials:  topCounts(materials, catalogTopN),
		Brands:     topCounts(brands, catalogTopN),
		Sizes:      topCounts(sizes, catalogTopN),
		MinPrice:   minPrice,
		MaxPrice:   maxPrice,
		Recent:     recent,
		BuiltAt:    time.Now().UTC(),
	}
	for _, fc := range topCounts(categories, catalogTopDetail) {
		agg := perCat[fc.Name]
		snap.Details = append(snap.Details, CategoryDetail{
			Name:      fc.Name,
			Count:     agg.count,
			MinPrice:  agg.min,
			MaxPrice:  agg.max,
			TopSizes:  countNames(topCounts(agg.sizes, 3)),
			TopBrands: countNames(topCounts(agg.brands, 3)),
		})
	}
	return snap, nil
}

func bump(m map[string]int, keys []string) {
	for _, k := range keys {
		m[k]++
	}
}

func widen(lo, hi, v *int64) (*int64, *int64) {
	if v == nil {
		return lo, hi
	}
	if lo == nil || *v < *lo {
		n := *v
		lo = &n
	}
	if hi == nil || *v > *hi {
		n := *v
		hi = &n
	}
	return lo, hi
}

func topCounts(m map[string]int, n int) []FacetCount {
	out := make([]FacetCount, 0, len(m))
	for k, v := range m {
		out = append(out, FacetCount{Name: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func countNames(list []FacetCount) []string {
	out := make([]string, 0, len(list))
	for _, fc := range list {
		out = append(out, fc.Name)
	}
	return out
}

func joinCounts(list []FacetCount) string {
	parts := make([]string, 0, len(list))
	for _, fc := range list {
		parts = append(parts, fmt.Sprintf("%s(%d)", fc.Name, fc.Count))
	}
	return strings.Join(parts, "، ")
}

// Summary renders the snapshot as the [CATALOG] context section.
func (s *CatalogSnapshot) Summary() string {
	if s == nil || s.Total == 0 {
		return ""
	}
	lines := []string{"[CATALOG]", fmt.Sprintf("تعداد کل محصولات: %d", s.Total)}
	facets := []struct {
		label string
		list  []FacetCount
	}{
		{"دسته‌های پرتکرار", s.Categories},
		{"جنسیت پرتکرار", s.Genders},
		{"سبک پرتکرار", s.Styles},
		{"جنس پرتکرار", s.Materials},
		{"برندهای پرتکرار", s.Brands},
		{"سایزهای پرتکرار", s.Sizes},
	}
	for _, f := range facets {
		if len(f.list) > 0 {
			lines = append(lines, f.label+": "+joinCounts(f.list))
		}
	}
	if s.MinPrice != nil && s.MaxPrice != nil {
		lines = append(lines, fmt.Sprintf("بازه قیمت (محصولات قیمت‌دار): %s تا %s", formatPrice(s.MinPrice), formatPrice(s.MaxPrice)))
	}
	if len(s.Details) > 0 {
		lines = append(lines, "جزئیات دسته‌های پرتکرار:")
		for _, d := range s.Details {
			line := fmt.Sprintf("- %s: %d مورد", d.Name, d.Count)
			if d.MinPrice != nil && d.MaxPrice != nil {
				line += fmt.Sprintf(" | قیمت: %s تا %s", formatPrice(d.MinPrice), formatPrice(d.MaxPrice))
			}
			if len(d.TopSizes) > 0 {
				line += " | سایز پرتکرار: " + strings.Join(d.TopSizes, "، ")
			}
			if len(d.TopBrands) > 0 {
				line += " | برند پرتکرار: " + strings.Join(d.TopBrands, "، ")
			}
			lines = append(lines, line)
		}
	}
	if len(s.Recent) > 0 {
		lines = append(lines, "نمونه‌های به‌روز:")
		for _, r := range s.Recent {
			line := fmt.Sprintf("- %s | قیمت: %s | موجودی: %s", r.Title, formatPrice(r.Price), availabilityLabel(r.Availability))
			if r.PageURL != "" {
				line += " | لینک: " + r.PageURL
			}
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
