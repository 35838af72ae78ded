package utils

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var charFix = strings.NewReplacer(
	"ي", "ی",
	"ك", "ک",
	"‌", " ",
	"۰", "0", "۱", "1", "۲", "2", "۳", "3", "۴", "4",
	"۵", "5", "۶", "6", "۷", "7", "۸", "8", "۹", "9",
	"٠", "0", "١", "1", "٢", "2", "٣", "3", "٤", "4",
	"٥", "5", "٦", "6", "٧", "7", "٨", "8", "٩", "9",
)

var wordRe = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// NormalizeText folds Arabic letter variants and digits, replaces ZWNJ with a
// space, lowercases and collapses whitespace.
func NormalizeText(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ToLower(charFix.Replace(s))
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeSlugText is NormalizeText with '-' and '_' treated as spaces, so
// slugs and free text compare equal.
func NormalizeSlugText(s string) string {
	s = strings.NewReplacer("-", " ", "_", " ").Replace(s)
	return NormalizeText(s)
}

// Words splits s into letter/digit runs.
func Words(s string) []string {
	return wordRe.FindAllString(s, -1)
}

// ContainsKeyword matches k as a substring of text. Keywords of one or two
// runes ("بد", "hi") must match a whole word instead.
func ContainsKeyword(text, k string) bool {
	if k == "" {
		return false
	}
	if utf8.RuneCountInString(k) > 2 {
		return strings.Contains(text, k)
	}
	for _, w := range Words(text) {
		if w == k {
			return true
		}
	}
	return false
}

func ContainsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if ContainsKeyword(text, k) {
			return true
		}
	}
	return false
}

// Hits returns the keywords contained in text, in keyword order.
func Hits(text string, keywords []string) []string {
	var out []string
	for _, k := range keywords {
		if ContainsKeyword(text, k) {
			out = append(out, k)
		}
	}
	return out
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// TruncateEllipsis cuts s to at most n runes, ending in "..." when cut.
func TruncateEllipsis(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	if n <= 3 {
		return Truncate(s, n)
	}
	return strings.TrimSpace(Truncate(s, n-3)) + "..."
}

// Dedupe drops empty and repeated values, keeping first-seen order.
func Dedupe(in []string) []string {
	if len(in) == 0 {
		return in
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
