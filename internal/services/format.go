package services

import (
	"strconv"
	"strings"

	"github.com/yoockh/dmcommerce/internal/models"
)

const unknownLabel = "نامشخص"

// formatPrice renders a price with thousands separators.
func formatPrice(p *int64) string {
	if p == nil {
		return unknownLabel
	}
	n := *p
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	s := strconv.FormatInt(n, 10)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + b.String()
}

func availabilityLabel(a models.Availability) string {
	switch a {
	case models.InStock:
		return "موجود"
	case models.OutOfStock:
		return "ناموجود"
	}
	return unknownLabel
}

// productLine is the one-line product summary used in button plans and
// model context: "title | قیمت: X | قبل: Y | موجودی: Z".
func productLine(p *models.Product) string {
	parts := []string{productTitle(p), "قیمت: " + formatPrice(p.Price)}
	if p.OldPrice != nil {
		parts = append(parts, "قبل: "+formatPrice(p.OldPrice))
	}
	parts = append(parts, "موجودی: "+availabilityLabel(p.Availability))
	return strings.Join(parts, " | ")
}

func productTitle(p *models.Product) string {
	if t := strings.TrimSpace(p.Title); t != "" {
		return t
	}
	if s := strings.TrimSpace(p.Slug); s != "" {
		return s
	}
	return "محصول"
}
