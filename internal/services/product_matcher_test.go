package services

import (
	"context"
	"testing"
	"time"

	"github.com/yoockh/dmcommerce/internal/classify"
	"github.com/yoockh/dmcommerce/internal/models"
	"github.com/yoockh/dmcommerce/internal/rules"
	"github.com/yoockh/dmcommerce/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClassifier() *classify.Classifier { return classify.New(rules.Default()) }

var catalogBase = time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

func catalogFixture() *fakeProducts {
	return &fakeProducts{rows: []models.Product{
		{
			ID: "p1", ProductID: "101", Slug: "nike-air-max", Title: "کفش نایک ایر مکس",
			Price: i64(2500000), OldPrice: i64(2900000), Availability: models.InStock,
			PageURL: "https://ghlbedovom.com/product/nike-air-max/", Images: []string{"https://cdn/p1.jpg"},
			UpdatedAt: catalogBase.Add(3 * time.Hour),
		},
		{
			ID: "p2", ProductID: "102", Slug: "adidas-runner", Title: "کفش آدیداس رانر مشکی",
			Price: i64(1800000), Availability: models.OutOfStock,
			PageURL:   "https://ghlbedovom.com/product/adidas-runner/",
			UpdatedAt: catalogBase.Add(2 * time.Hour),
		},
		{
			ID: "p3", ProductID: "103", Slug: "dior-sauvage", Title: "عطر دیور ساواج",
			Price: i64(4200000), Availability: models.InStock,
			UpdatedAt: catalogBase.Add(1 * time.Hour),
		},
		{
			ID: "p4", ProductID: "104", Slug: "cotton-socks", Title: "جوراب نخی",
			Price: i64(90000), Availability: models.InStock,
			UpdatedAt: catalogBase,
		},
	}}
}

func newTestMatcher(products *fakeProducts) ProductMatcher {
	return NewProductMatcher(products, testClassifier(), MatcherConfig{
		Limit: 5, Candidates: 50, MinScore: 2, SingleTokenMinLen: 5,
	})
}

func matchIDs(ms []models.ProductMatch) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Product.ID)
	}
	return out
}

func TestMatchScoring(t *testing.T) {
	ctx := context.Background()
	m := newTestMatcher(catalogFixture())

	tests := []struct {
		name string
		text string
		want []string
	}{
		{"two tokens reach min score", "کفش نایک مشکی", []string{"p1", "p2"}},
		{"single short token ignored", "کفش", []string{}},
		{"single token exact slug segment", "adidas", []string{"p2"}},
		{"single token partial segment", "adida", []string{}},
		{"stopwords only", "محصول قیمت", []string{}},
		{"no hit", "ساعت کاسیو طلایی", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Match(ctx, tt.text, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.want, matchIDs(got))
		})
	}
}

func TestMatchOrderingAndLimit(t *testing.T) {
	ctx := context.Background()
	m := newTestMatcher(catalogFixture())

	got, err := m.Match(ctx, "کفش نایک آدیداس", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	// equal scores: newest first
	assert.Equal(t, []string{"p1", "p2"}, matchIDs(got))
	assert.Equal(t, 2, got[0].Score)
	assert.Equal(t, 3, got[0].TokenCount)
	assert.ElementsMatch(t, []string{"کفش", "نایک"}, got[0].MatchedTokens)

	got, err = m.Match(ctx, "کفش رانر مشکی", 0)
	require.NoError(t, err)
	assert.Equal(t, "p2", got[0].Product.ID, "higher score wins over recency")

	got, err = m.Match(ctx, "کفش نایک آدیداس", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, matchIDs(got))
}

func TestFromURL(t *testing.T) {
	ctx := context.Background()
	m := newTestMatcher(catalogFixture())

	p, err := m.FromURL(ctx, "این رو دارید؟ https://www.ghlbedovom.com/product/nike-air-max/")
	require.NoError(t, err)
	assert.Equal(t, "p1", p.ID)

	_, err = m.FromURL(ctx, "https://ghlbedovom.com/product/unknown-slug")
	assert.ErrorIs(t, err, utils.ErrNotFound)

	_, err = m.FromURL(ctx, "سلام")
	assert.ErrorIs(t, err, utils.ErrNotFound)
}

func TestProductSlugFromText(t *testing.T) {
	slug, link := ProductSlugFromText("ببین (https://ghlbedovom.com/product/abc-1).", "ghlbedovom.com")
	assert.Equal(t, "abc-1", slug)
	assert.Equal(t, "https://ghlbedovom.com/product/abc-1", link)

	slug, _ = ProductSlugFromText("https://example.com/product/abc-1", "ghlbedovom.com")
	assert.Empty(t, slug)

	slug, _ = ProductSlugFromText("https://ghlbedovom.com/store/shoes", "ghlbedovom.com")
	assert.Empty(t, slug)
}

func TestCrossSell(t *testing.T) {
	ctx := context.Background()
	products := catalogFixture()
	m := newTestMatcher(products)

	got, err := m.CrossSell(ctx, []models.Product{products.rows[0]})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "p4", got.ID)

	got, err = m.CrossSell(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAlternative(t *testing.T) {
	ctx := context.Background()
	products := catalogFixture()
	products.similar = map[string][]models.Product{"p2": {products.rows[0]}}
	m := newTestMatcher(products)

	got, err := m.Alternative(ctx, products.rows[1])
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "p1", got.ID)

	got, err = m.Alternative(ctx, products.rows[0])
	require.NoError(t, err)
	assert.Nil(t, got, "in-stock products need no alternative")
}

func TestRankByPreferences(t *testing.T) {
	rows := catalogFixture().rows[:3]

	got := RankByPreferences(rows, models.Preferences{Colors: []string{"مشکی"}})
	require.Len(t, got, 3)
	assert.Equal(t, "p2", got[0].ID)

	got = RankByPreferences(rows, models.Preferences{BudgetMax: i64(3000000), BudgetMin: i64(2000000)})
	assert.Equal(t, "p1", got[0].ID)
	assert.ElementsMatch(t, []string{"p1", "p2", "p3"}, []string{got[0].ID, got[1].ID, got[2].ID})

	got = RankByPreferences(rows, models.Preferences{})
	assert.Equal(t, rows, got)
}
