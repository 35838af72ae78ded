package classify

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/yoockh/dmcommerce/internal/models"
	"github.com/yoockh/dmcommerce/internal/utils"
)

var amountRe = regexp.MustCompile(`([0-9][0-9,٬.]*)\s*(میلیون|هزار)?`)

// minBudget drops numbers too small to be a toman price ("سایز 42").
const minBudget = 1000

type amount struct {
	value int64
	mult  int64
}

// ParseAmounts returns every money amount in normalized text, applying
// هزار / میلیون multipliers.
func ParseAmounts(normalized string) []int64 {
	var out []int64
	for _, a := range parseAmounts(normalized) {
		if a.value >= minBudget {
			out = append(out, a.value)
		}
	}
	return out
}

func parseAmounts(normalized string) []amount {
	var out []amount
	for _, m := range amountRe.FindAllStringSubmatch(normalized, -1) {
		num := strings.TrimRight(m[1], ".,٬")
		mult := int64(1)
		switch m[2] {
		case "میلیون":
			mult = 1_000_000
		case "هزار":
			mult = 1_000
		}
		var v int64
		if mult > 1 && strings.Count(num, ".") == 1 {
			f, err := strconv.ParseFloat(strings.NewReplacer(",", "", "٬", "").Replace(num), 64)
			if err != nil {
				continue
			}
			v = int64(f * float64(mult))
		} else {
			digits := strings.Map(func(r rune) rune {
				if r >= '0' && r <= '9' {
					return r
				}
				return -1
			}, num)
			if digits == "" || len(digits) > 12 {
				continue
			}
			n, err := strconv.ParseInt(digits, 10, 64)
			if err != nil {
				continue
			}
			v = n * mult
		}
		out = append(out, amount{value: v, mult: mult})
	}
	return out
}

// ExtractBudget reads a budget range: two amounts with "تا"/"بین" form a
// range, "زیر"/"کمتر" set a maximum, "بالا"/"بیشتر" a minimum, and a lone
// amount is a maximum.
func ExtractBudget(text string) (lo, hi *int64) {
	n := sizeLabelRe.ReplaceAllString(utils.NormalizeText(text), " ")
	raw := parseAmounts(n)
	has := func(w string) bool { return utils.ContainsKeyword(n, w) }
	if (has("تا") || has("بین")) && len(raw) >= 2 {
		a, b := raw[0], raw[1]
		// "بین 500 تا 800 هزار": the unit on the upper bound covers both.
		if a.mult == 1 && b.mult > 1 {
			a.value *= b.mult
		}
		if a.value >= minBudget && b.value >= minBudget {
			x, y := min(a.value, b.value), max(a.value, b.value)
			return &x, &y
		}
	}
	var amounts []int64
	for _, a := range raw {
		if a.value >= minBudget {
			amounts = append(amounts, a.value)
		}
	}
	if len(amounts) == 0 {
		return nil, nil
	}
	largest := amounts[0]
	for _, a := range amounts[1:] {
		if a > largest {
			largest = a
		}
	}
	switch {
	case strings.Contains(n, "زیر") || strings.Contains(n, "کمتر"):
		return nil, &largest
	case strings.Contains(n, "بالا") || strings.Contains(n, "بیشتر"):
		return &largest, nil
	case len(amounts) == 1:
		return nil, &largest
	}
	return nil, nil
}

// ExtractPreferences pulls shopping preferences out of one message.
func (c *Classifier) ExtractPreferences(text string) models.Preferences {
	n := utils.NormalizeText(text)
	if n == "" {
		return models.Preferences{}
	}
	tags := c.InferTags(n)
	p := models.Preferences{
		Categories: tags.Categories,
		Colors:     tags.Colors,
		Styles:     tags.Styles,
	}
	// numeric sizes only count when labelled, a bare number is too ambiguous
	// for a stored preference.
	for _, m := range sizeLabelRe.FindAllStringSubmatch(n, -1) {
		p.Sizes = append(p.Sizes, m[1])
	}
	for _, s := range tags.Sizes {
		if _, err := strconv.Atoi(s); err != nil {
			p.Sizes = append(p.Sizes, s)
		}
	}
	p.Sizes = utils.Dedupe(p.Sizes)
	if g := matchNamed(n, c.rules.Taxonomy.Genders); len(g) > 0 {
		p.Gender = g[0]
	}
	p.BudgetMin, p.BudgetMax = ExtractBudget(n)
	return p
}
