package services

import (
	"strings"

	"github.com/yoockh/dmcommerce/internal/utils"
)

func repeatKey(s string) string {
	return strings.Join(utils.Words(utils.NormalizeText(s)), " ")
}

// IsNearRepeat reports whether b says the same thing as a: equal after
// normalization, one containing the other (both at least four words), or
// token overlap of 90% or more.
func IsNearRepeat(a, b string) bool {
	na, nb := repeatKey(a), repeatKey(b)
	if na == "" || nb == "" {
		return false
	}
	if na == nb {
		return true
	}
	wa, wb := strings.Fields(na), strings.Fields(nb)
	if len(wa) >= 4 && len(wb) >= 4 && (strings.Contains(na, nb) || strings.Contains(nb, na)) {
		return true
	}
	sa, sb := toSet(wa), toSet(wb)
	if len(sa) < 4 || len(sb) < 4 {
		return false
	}
	inter := 0
	for w := range sa {
		if _, ok := sb[w]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter)/float64(union) >= 0.9
}

func toSet(words []string) map[string]struct{} {
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[w] = struct{}{}
	}
	return out
}
