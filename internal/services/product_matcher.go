package services

import (
	"context"
	"errors"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/yoockh/dmcommerce/internal/classify"
	"github.com/yoockh/dmcommerce/internal/models"
	pgrepo "github.com/yoockh/dmcommerce/internal/repositories/postgres"
	"github.com/yoockh/dmcommerce/internal/utils"
)

type MatcherConfig struct {
	Limit             int
	Candidates        int
	MinScore          int
	SingleTokenMinLen int
}

type ProductMatcher interface {
	// Match returns up to limit scored products for text, best first.
	Match(ctx context.Context, text string, limit int) ([]models.ProductMatch, error)
	// FromURL resolves a store product link in text. It returns
	// utils.ErrNotFound when text carries no such link or no product has it.
	FromURL(ctx context.Context, text string) (*models.Product, error)
	Latest(ctx context.Context, limit, offset int) ([]models.Product, error)
	// CrossSell picks one in-stock complement of the matched products.
	CrossSell(ctx context.Context, matched []models.Product) (*models.Product, error)
	// Alternative returns the nearest in-stock neighbour of an out-of-stock
	// product, or nil.
	Alternative(ctx context.Context, p models.Product) (*models.Product, error)
	Tokenize(text string) []string
}

type productMatcher struct {
	products pgrepo.ProductRepository
	cls      *classify.Classifier
	cfg      MatcherConfig
	stop     map[string]struct{}
}

func NewProductMatcher(products pgrepo.ProductRepository, cls *classify.Classifier, cfg MatcherConfig) ProductMatcher {
	if cfg.Limit <= 0 {
		cfg.Limit = 5
	}
	if cfg.Candidates <= 0 {
		cfg.Candidates = 50
	}
	if cfg.MinScore <= 0 {
		cfg.MinScore = 2
	}
	if cfg.SingleTokenMinLen <= 0 {
		cfg.SingleTokenMinLen = 5
	}
	stop := map[string]struct{}{}
	for _, w := range cls.Rules().Matcher.Stopwords {
		stop[w] = struct{}{}
	}
	return &productMatcher{products: products, cls: cls, cfg: cfg, stop: stop}
}

func (m *productMatcher) Tokenize(text string) []string {
	var out []string
	for _, w := range utils.Words(utils.NormalizeText(text)) {
		if utf8.RuneCountInString(w) < 3 {
			continue
		}
		if _, ok := m.stop[w]; ok {
			continue
		}
		out = append(out, w)
	}
	return out
}

func productHaystack(p *models.Product) string {
	return utils.NormalizeText(strings.Join([]string{p.Slug, p.Title, p.Description, p.ProductID}, " "))
}

var segmentSplitRe = regexp.MustCompile(`[-_\s]+`)

// exactSegment reports whether token equals a whole segment of the slug,
// product id or title.
func exactSegment(p *models.Product, token string) bool {
	for _, v := range []string{p.Slug, p.ProductID, p.Title} {
		if v == "" {
			continue
		}
		for _, part := range segmentSplitRe.Split(utils.NormalizeText(v), -1) {
			if part == token {
				return true
			}
		}
	}
	return false
}

func (m *productMatcher) meetsThreshold(p *models.Product, score int, tokens []string) bool {
	if len(tokens) >= 2 {
		return score >= m.cfg.MinScore
	}
	tok := tokens[0]
	if utf8.RuneCountInString(tok) < m.cfg.SingleTokenMinLen {
		return false
	}
	return exactSegment(p, tok)
}

func (m *productMatcher) Match(ctx context.Context, text string, limit int) ([]models.ProductMatch, error) {
	const op = "ProductMatcher.Match"

	tokens := m.Tokenize(text)
	if len(tokens) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = m.cfg.Limit
	}

	candidates, err := m.products.Candidates(ctx, tokens, m.cfg.Candidates)
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "failed to load candidates", err)
	}

	seen := map[string]struct{}{}
	var out []models.ProductMatch
	for i := range candidates {
		p := &candidates[i]
		if _, dup := seen[p.ID]; dup {
			continue
		}
		hay := productHaystack(p)
		var matched []string
		for _, t := range tokens {
			if strings.Contains(hay, t) {
				matched = append(matched, t)
			}
		}
		score := len(matched)
		if score == 0 || !m.meetsThreshold(p, score, tokens) {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, models.ProductMatch{
			Product:       *p,
			Score:         score,
			TokenCount:    len(tokens),
			MatchedTokens: matched,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Product.UpdatedAt.After(out[j].Product.UpdatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *productMatcher) FromURL(ctx context.Context, text string) (*models.Product, error) {
	const op = "ProductMatcher.FromURL"

	slug, pageURL := ProductSlugFromText(text, m.cls.Rules().Store.Domain)
	if slug == "" {
		return nil, utils.ErrNotFound
	}
	p, err := m.products.FindBySlugOrURL(ctx, slug, pageURL)
	if errors.Is(err, utils.ErrNotFound) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "failed to find product", err)
	}
	return p, nil
}

func (m *productMatcher) Latest(ctx context.Context, limit, offset int) ([]models.Product, error) {
	const op = "ProductMatcher.Latest"

	rows, err := m.products.Latest(ctx, limit, offset)
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "failed to list products", err)
	}
	return rows, nil
}

func (m *productMatcher) CrossSell(ctx context.Context, matched []models.Product) (*models.Product, error) {
	const op = "ProductMatcher.CrossSell"

	if len(matched) == 0 {
		return nil, nil
	}
	complements := map[string][]string{}
	for _, cs := range m.cls.Rules().Taxonomy.CrossSell {
		complements[cs.Category] = cs.Complements
	}
	var terms []string
	ids := make([]string, 0, len(matched))
	for i := range matched {
		ids = append(ids, matched[i].ID)
		for _, cat := range m.cls.InferTags(productHaystack(&matched[i])).Categories {
			terms = append(terms, complements[cat]...)
		}
	}
	terms = utils.Dedupe(terms)
	if len(terms) == 0 {
		return nil, nil
	}
	rows, err := m.products.InStockMatching(ctx, terms, ids, 1)
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "failed to load complements", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (m *productMatcher) Alternative(ctx context.Context, p models.Product) (*models.Product, error) {
	const op = "ProductMatcher.Alternative"

	if p.Availability != models.OutOfStock {
		return nil, nil
	}
	rows, err := m.products.Similar(ctx, p.ID, 1)
	if errors.Is(err, utils.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "failed to load similar products", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

var urlRe = regexp.MustCompile(`https?://[^\s]+`)

// ProductSlugFromText finds a link to a product page of domain in text and
// returns its slug and the link itself.
func ProductSlugFromText(text, domain string) (slug, pageURL string) {
	for _, raw := range urlRe.FindAllString(text, -1) {
		raw = strings.TrimRight(raw, ").,،!؟?")
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
		if host != domain {
			continue
		}
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) < 2 || parts[0] != "product" || parts[1] == "" {
			continue
		}
		s, err := url.PathUnescape(parts[1])
		if err != nil {
			s = parts[1]
		}
		return s, raw
	}
	return "", ""
}

// RankByPreferences reorders products by how well they fit prefs. It is a
// stable reorder: the result holds exactly the input products.
func RankByPreferences(products []models.Product, prefs models.Preferences) []models.Product {
	if len(products) < 2 || prefs.Empty() {
		return products
	}
	var tokens []string
	for _, v := range prefs.Categories {
		tokens = append(tokens, utils.NormalizeText(v))
	}
	if prefs.Gender != "" {
		tokens = append(tokens, utils.NormalizeText(prefs.Gender))
	}
	for _, v := range prefs.Colors {
		tokens = append(tokens, utils.NormalizeText(v))
	}
	tokens = utils.Dedupe(tokens)
	hasBudget := prefs.BudgetMin != nil || prefs.BudgetMax != nil

	type ranked struct {
		p       models.Product
		score   int
		updated time.Time
	}
	rows := make([]ranked, len(products))
	best := 0
	for i := range products {
		p := &products[i]
		hay := productHaystack(p)
		score := 0
		for _, t := range tokens {
			if t != "" && strings.Contains(hay, t) {
				score++
			}
		}
		if hasBudget && inBudget(p.Price, prefs.BudgetMin, prefs.BudgetMax) {
			score++
		}
		rows[i] = ranked{p: *p, score: score, updated: p.UpdatedAt}
		best = max(best, score)
	}
	if best == 0 {
		return products
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].score != rows[j].score {
			return rows[i].score > rows[j].score
		}
		return rows[i].updated.After(rows[j].updated)
	})
	out := make([]models.Product, len(rows))
	for i, r := range rows {
		out[i] = r.p
	}
	return out
}

func inBudget(price, lo, hi *int64) bool {
	if price == nil {
		return false
	}
	if lo != nil && *price < *lo {
		return false
	}
	if hi != nil && *price > *hi {
		return false
	}
	return true
}
