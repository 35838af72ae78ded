package classify

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/yoockh/dmcommerce/internal/rules"
	"github.com/yoockh/dmcommerce/internal/utils"
)

// State categories used by the conversation state.
const (
	CategoryShoes       = "shoes"
	CategoryApparel     = "apparel"
	CategoryPerfume     = "perfume"
	CategoryCosmetics   = "cosmetics"
	CategoryAccessories = "accessories"
	CategoryUnknown     = "unknown"
)

var (
	sizeLabelRe = regexp.MustCompile(`(?:سایز|size)\s*([0-9]{2,3})`)
	digitRunRe  = regexp.MustCompile(`[0-9]+`)
	taxoWordRe  = regexp.MustCompile(`[\p{L}\p{N}_]+`)
)

// Tags are the facets found in a piece of text, each deduplicated in
// first-seen order.
type Tags struct {
	Categories []string
	Genders    []string
	Styles     []string
	Materials  []string
	Colors     []string
	Sizes      []string
	Brands     []string
}

// Hits returns every facet except brands, flattened.
func (t Tags) Hits() []string {
	out := make([]string, 0, len(t.Categories)+len(t.Genders)+len(t.Styles)+len(t.Materials)+len(t.Colors)+len(t.Sizes))
	out = append(out, t.Categories...)
	out = append(out, t.Genders...)
	out = append(out, t.Styles...)
	out = append(out, t.Materials...)
	out = append(out, t.Colors...)
	out = append(out, t.Sizes...)
	return out
}

func (t Tags) Empty() bool { return len(t.Hits()) == 0 && len(t.Brands) == 0 }

// Classifier holds the rule tables every classifier in this package reads.
type Classifier struct {
	rules *rules.Set
}

func New(r *rules.Set) *Classifier {
	if r == nil {
		r = rules.Default()
	}
	return &Classifier{rules: r}
}

func (c *Classifier) Rules() *rules.Set { return c.rules }

func matchNamed(text string, list []rules.Named) []string {
	var out []string
	for _, n := range list {
		if utils.ContainsAny(text, n.Synonyms) {
			out = append(out, n.Name)
		}
	}
	return out
}

// MatchBrands finds brands in text. Single-word synonyms must match a whole
// token; multi-word synonyms match as substrings.
func (c *Classifier) MatchBrands(text string) []string {
	normalized := utils.NormalizeSlugText(text)
	if normalized == "" {
		return nil
	}
	tokens := map[string]struct{}{}
	for _, tok := range strings.Fields(normalized) {
		tokens[tok] = struct{}{}
	}
	var out []string
	for _, b := range c.rules.Taxonomy.Brands {
		for _, key := range b.Synonyms {
			if strings.Contains(key, " ") {
				if strings.Contains(normalized, key) {
					out = append(out, b.Name)
					break
				}
				continue
			}
			if _, ok := tokens[key]; ok {
				out = append(out, b.Name)
				break
			}
		}
	}
	return out
}

// InferTags tags free text with taxonomy facets.
func (c *Classifier) InferTags(text string) Tags {
	normalized := utils.NormalizeSlugText(text)
	if normalized == "" {
		return Tags{}
	}
	tx := c.rules.Taxonomy

	tokenSet := map[string]struct{}{}
	for _, tok := range taxoWordRe.FindAllString(normalized, -1) {
		tokenSet[tok] = struct{}{}
	}

	t := Tags{
		Categories: matchNamed(normalized, tx.Categories),
		Genders:    matchNamed(normalized, tx.Genders),
		Styles:     matchNamed(normalized, tx.Styles),
		Materials:  matchNamed(normalized, tx.Materials),
		Brands:     c.MatchBrands(normalized),
	}
	for _, color := range tx.Colors {
		if strings.Contains(normalized, color) {
			t.Colors = append(t.Colors, color)
		}
	}
	if len(t.Categories) == 0 {
		for _, name := range t.Brands {
			for _, b := range tx.Brands {
				if b.Name == name && b.Category != "" {
					t.Categories = append(t.Categories, b.Category)
				}
			}
		}
	}

	for _, m := range sizeLabelRe.FindAllStringSubmatch(normalized, -1) {
		t.Sizes = append(t.Sizes, m[1])
	}
	for _, size := range tx.SizeKeywords {
		if strings.Contains(size, " ") {
			if strings.Contains(normalized, size) {
				t.Sizes = append(t.Sizes, size)
			}
			continue
		}
		if _, ok := tokenSet[size]; ok {
			t.Sizes = append(t.Sizes, size)
		}
	}
	t.Sizes = append(t.Sizes, numericSizes(normalized, tx.CurrencyWords)...)

	if len(t.Sizes) > 0 && len(t.Genders) == 0 {
		for _, s := range t.Sizes {
			n, err := strconv.Atoi(s)
			if err != nil {
				continue
			}
			switch {
			case n <= 34:
				t.Genders = append(t.Genders, "بچگانه")
			case n >= 41:
				t.Genders = append(t.Genders, "مردانه")
			case n <= 39:
				t.Genders = append(t.Genders, "زنانه")
			}
		}
	}

	t.Categories = utils.Dedupe(t.Categories)
	t.Genders = utils.Dedupe(t.Genders)
	t.Styles = utils.Dedupe(t.Styles)
	t.Materials = utils.Dedupe(t.Materials)
	t.Colors = utils.Dedupe(t.Colors)
	t.Sizes = utils.Dedupe(t.Sizes)
	t.Brands = utils.Dedupe(t.Brands)
	return t
}

// numericSizes finds standalone two-digit numbers in 20..50 that are not
// near a currency word, e.g. "42" but not "42 هزار".
func numericSizes(normalized string, currency []string) []string {
	const window = 8
	var out []string
	for _, loc := range digitRunRe.FindAllStringIndex(normalized, -1) {
		run := normalized[loc[0]:loc[1]]
		if len(run) != 2 {
			continue
		}
		n, _ := strconv.Atoi(run)
		if n < 20 || n > 50 {
			continue
		}
		startRune := utf8.RuneCountInString(normalized[:loc[0]])
		endRune := startRune + 2
		runes := []rune(normalized)
		lo := max(0, startRune-window)
		hi := min(len(runes), endRune+window)
		if utils.ContainsAny(string(runes[lo:hi]), currency) {
			continue
		}
		out = append(out, run)
	}
	return out
}

// ExpandQueryTerms returns the query tokens plus synonyms of every facet the
// query hits, longest first.
func (c *Classifier) ExpandQueryTerms(text string) []string {
	normalized := utils.NormalizeSlugText(text)
	if normalized == "" {
		return nil
	}
	tx := c.rules.Taxonomy
	var terms []string
	for _, tok := range taxoWordRe.FindAllString(normalized, -1) {
		if utf8.RuneCountInString(tok) >= 3 {
			terms = append(terms, tok)
		}
	}
	tags := c.InferTags(normalized)
	var extras []string
	for _, v := range tags.Categories {
		extras = append(extras, tx.Synonyms(tx.Categories, v)...)
	}
	for _, v := range tags.Genders {
		extras = append(extras, tx.Synonyms(tx.Genders, v)...)
	}
	for _, v := range tags.Styles {
		extras = append(extras, tx.Synonyms(tx.Styles, v)...)
	}
	for _, v := range tags.Materials {
		extras = append(extras, tx.Synonyms(tx.Materials, v)...)
	}
	extras = append(extras, tags.Colors...)
	extras = append(extras, tags.Sizes...)
	for _, name := range tags.Brands {
		extras = append(extras, strings.ToLower(name))
		for _, b := range tx.Brands {
			if b.Name == name {
				extras = append(extras, b.Synonyms...)
			}
		}
	}
	for _, e := range extras {
		if utf8.RuneCountInString(e) >= 3 {
			terms = append(terms, e)
		}
	}
	terms = utils.Dedupe(terms)
	sort.SliceStable(terms, func(i, j int) bool {
		return utf8.RuneCountInString(terms[i]) > utf8.RuneCountInString(terms[j])
	})
	return terms
}

// StateCategory maps text to one of the coarse state categories.
func (c *Classifier) StateCategory(text string) string {
	return c.CategoryOf(c.InferTags(text))
}

func (c *Classifier) CategoryOf(t Tags) string {
	for _, cat := range t.Categories {
		if g := c.rules.Taxonomy.Group(cat); g != "" {
			return g
		}
	}
	return CategoryUnknown
}

// RequiredFields lists the slots to collect before recommending products
// in the given state category.
func (c *Classifier) RequiredFields(category string) []string {
	rf := c.rules.Taxonomy.RequiredFields
	if f, ok := rf[category]; ok && len(f) > 0 {
		return f
	}
	return rf["default"]
}
