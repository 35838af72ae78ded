package services

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/yoockh/dmcommerce/internal/classify"
	"github.com/yoockh/dmcommerce/internal/models"
	"github.com/yoockh/dmcommerce/internal/rules"
	"github.com/yoockh/dmcommerce/internal/utils"
)

// Rewrite reasons.
const (
	ReasonLinkHandled      = "link_request_handled"
	ReasonLinkMissing      = "link_request_missing"
	ReasonSelectedTemplate = "template_blocked:selected_product"
	ReasonStoreClarify     = "store_info_clarify"
	ReasonBareRootLink     = "bare_root_link"
	ReasonWrongLanguage    = "wrong_language"
	ReasonTemplateBlocked  = "generic_template_blocked"
	ReasonPriceHallucinate = "hallucination_prevented:price"
	ReasonBudgetIgnored    = "budget_ignored"
	ReasonRepetition       = "repetition_replaced"
	ReasonEmpty            = "empty_reply"
)

type GuardConfig struct {
	MaxChars     int
	MaxSentences int
	MaxEmojis    int
}

// GuardInput is everything the validator may look at. Products and
// Selected form the grounded context; prices outside it are rejected.
type GuardInput struct {
	UserText          string
	Reply             string
	Selected          models.SelectedProduct
	Products          []models.Product
	StoreIntent       bool
	ProductIntent     bool
	SlotTemplatesOff  bool
	NoQuestions       bool
	LastAssistantText string
	// RepeatAlternative replaces a reply that repeats LastAssistantText.
	// Empty picks a canned alternative by intent.
	RepeatAlternative string
	FallbackText      string
	MaxChars          int
}

type Guardrail struct {
	rules *rules.Set
	cls   *classify.Classifier
	cfg   GuardConfig
}

func NewGuardrail(cls *classify.Classifier, cfg GuardConfig) *Guardrail {
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = 800
	}
	if cfg.MaxSentences <= 0 {
		cfg.MaxSentences = 3
	}
	if cfg.MaxEmojis <= 0 {
		cfg.MaxEmojis = 1
	}
	return &Guardrail{rules: cls.Rules(), cls: cls, cfg: cfg}
}

// ValidateOrRewrite runs the rewrite rules in order; the first that fires
// replaces the reply. A reply no rule touches is post-processed.
func (g *Guardrail) ValidateOrRewrite(in GuardInput) (string, []string) {
	if text, reason, ok := g.rewrite(in); ok {
		return utils.TruncateEllipsis(text, g.maxChars(in)), []string{reason}
	}

	fallback := utils.FirstNonEmpty(in.FallbackText, g.rules.Replies.FallbackLLM)
	if _, ok := ParseStructured(in.Reply); ok {
		return strings.TrimSpace(in.Reply), nil
	}
	out := PostProcess(in.Reply, g.maxChars(in), fallback)
	var reasons []string
	if out == fallback && strings.TrimSpace(in.Reply) != fallback {
		reasons = append(reasons, ReasonEmpty)
	}
	out = g.limit(out, in)

	if in.LastAssistantText != "" && IsNearRepeat(out, in.LastAssistantText) {
		out = g.limit(g.repeatAlternative(in), in)
		reasons = append(reasons, ReasonRepetition)
	}
	return out, reasons
}

func (g *Guardrail) maxChars(in GuardInput) int {
	if in.MaxChars > 0 {
		return in.MaxChars
	}
	return g.cfg.MaxChars
}

func (g *Guardrail) limit(text string, in GuardInput) string {
	maxQ := 1
	if in.NoQuestions {
		maxQ = 0
	}
	text = LimitQuestions(text, maxQ)
	text = LimitSentences(text, g.cfg.MaxSentences)
	return LimitEmojis(text, g.cfg.MaxEmojis)
}

func (g *Guardrail) repeatAlternative(in GuardInput) string {
	alt := g.rules.Replies.RepeatAlternatives
	switch {
	case in.RepeatAlternative != "":
		return in.RepeatAlternative
	case in.StoreIntent:
		return alt.Info
	case in.ProductIntent:
		return alt.Products
	}
	return alt.Default
}

func (g *Guardrail) rewrite(in GuardInput) (string, string, bool) {
	r := g.rules.Replies
	body := in.Reply
	if plan, ok := ParseStructured(in.Reply); ok {
		body = plan.PlainText()
	}
	user := utils.NormalizeText(in.UserText)
	reply := utils.NormalizeText(body)

	// 1. explicit link request
	if g.cls.WantsLink(user) && g.cls.StoreTopic(user) != classify.TopicWebsite {
		if in.Selected.PageURL != "" {
			title := utils.FirstNonEmpty(in.Selected.Title, in.Selected.Slug, "محصول")
			return strings.NewReplacer("{title}", title, "{url}", in.Selected.PageURL).Replace(r.LinkSelected), ReasonLinkHandled, true
		}
		return r.LinkMissing, ReasonLinkMissing, true
	}

	// 2. slot questions after the user already picked a product
	if !in.Selected.Empty() && isSlotElicitation(reply) {
		return r.OrderPrompt, ReasonSelectedTemplate, true
	}

	// 3. product talk in answer to a store question
	if in.StoreIntent && !in.ProductIntent && g.looksLikeProductAttributes(body) {
		return r.StoreClarify, ReasonStoreClarify, true
	}

	// 4. storefront root link nobody asked for
	if g.hasBareRootLink(body) && !g.cls.WantsWebsite(user) {
		if !in.Selected.Empty() {
			return r.WebsiteUnrequestedSelected, ReasonBareRootLink, true
		}
		return r.WebsiteUnrequested, ReasonBareRootLink, true
	}

	// 5. language mismatch
	if wrongLanguage(in.UserText, body) {
		return r.WrongLanguage, ReasonWrongLanguage, true
	}

	// 6. generic category/slot template while templates are off
	if in.SlotTemplatesOff && (isSlotElicitation(reply) || g.isCategoryTemplate(reply)) {
		return r.SlotTemplateBlocked, ReasonTemplateBlocked, true
	}

	// 7. prices or option lists without grounding
	figures := PriceFigures(body)
	known := groundedPrices(in.Products, in.Selected)
	noContext := len(in.Products) == 0 && in.Selected.Empty()
	if noContext && (len(figures) > 0 || isEnumerated(body)) {
		return r.AskIdentifier, ReasonPriceHallucinate, true
	}
	for _, f := range figures {
		if !isGrounded(f, known) {
			return r.AskIdentifier, ReasonPriceHallucinate, true
		}
	}

	// 8. quoted prices all outside the user's budget
	if !utils.ContainsAny(user, g.rules.Keywords.BudgetCue) || len(figures) == 0 {
		return "", "", false
	}
	if lo, hi := classify.ExtractBudget(in.UserText); lo != nil || hi != nil {
		inside := false
		for _, f := range figures {
			if budgetFits(f, lo, hi) {
				inside = true
				break
			}
		}
		if !inside {
			return strings.ReplaceAll(r.BudgetRestate, "{budget}", formatBudget(lo, hi)), ReasonBudgetIgnored, true
		}
	}

	return "", "", false
}

var slotCueWords = []string{"جنسیت", "سایز", "بازه قیمت", "بودجه", "سبک", "رنگ", "دسته بندی"}

// isSlotElicitation spots the "tell me gender, size and budget" template.
func isSlotElicitation(normalized string) bool {
	if !strings.ContainsAny(normalized, "؟?") && !strings.Contains(normalized, "بگید") && !strings.Contains(normalized, "بفرستید") {
		return false
	}
	hits := 0
	for _, w := range slotCueWords {
		if strings.Contains(normalized, w) {
			hits++
		}
	}
	return hits >= 2
}

func (g *Guardrail) isCategoryTemplate(normalized string) bool {
	hits := 0
	for _, c := range g.rules.Taxonomy.Categories {
		if strings.Contains(normalized, utils.NormalizeText(c.Name)) {
			hits++
		}
	}
	return hits >= 3
}

var productAttrWords = []string{"قیمت", "موجودی", "سایز", "تومان", "تومن", "رنگ بندی"}

func (g *Guardrail) looksLikeProductAttributes(reply string) bool {
	if len(PriceFigures(reply)) > 0 {
		return true
	}
	n := utils.NormalizeText(reply)
	hits := 0
	for _, w := range productAttrWords {
		if strings.Contains(n, w) {
			hits++
		}
	}
	return hits >= 2
}

func (g *Guardrail) hasBareRootLink(reply string) bool {
	domain := strings.ToLower(g.rules.Store.Domain)
	for _, raw := range linkRe.FindAllString(reply, -1) {
		raw = strings.TrimRight(raw, ").,،!؟?")
		lower := strings.ToLower(raw)
		lower = strings.TrimPrefix(strings.TrimPrefix(lower, "https://"), "http://")
		lower = strings.TrimPrefix(lower, "www.")
		if strings.TrimRight(lower, "/") == domain {
			return true
		}
	}
	return false
}

func wrongLanguage(userText, reply string) bool {
	ua, ul := scriptCounts(linkRe.ReplaceAllString(userText, " "))
	ra, rl := scriptCounts(linkRe.ReplaceAllString(reply, " "))
	if ua == 0 || ua < ul {
		return false
	}
	return rl >= 8 && rl > ra
}

func scriptCounts(s string) (arabic, latin int) {
	for _, r := range s {
		switch {
		case unicode.Is(unicode.Arabic, r) && unicode.IsLetter(r):
			arabic++
		case unicode.Is(unicode.Latin, r):
			latin++
		}
	}
	return arabic, latin
}

func isEnumerated(reply string) bool {
	n := 0
	for _, line := range strings.Split(reply, "\n") {
		if numberedOptionRe.MatchString(line) || bulletRe.MatchString(line) {
			n++
		}
	}
	return n >= 2
}

var (
	bulletRe      = regexp.MustCompile(`^\s*[-*•]\s+\S`)
	figureRe      = regexp.MustCompile(`(\d[\d,٬.]*)\s*(میلیون|هزار)?`)
	groupedRe     = regexp.MustCompile(`\d{1,3}(?:[,٬]\d{3})+`)
	priceCueWords = []string{"تومان", "تومن", "ریال", "قیمت", "هزار", "میلیون"}
)

// PriceFigures returns the money amounts stated in text. Numbers only count
// when the text carries a price cue; links, phone numbers and small numbers
// (sizes, counts) are ignored.
func PriceFigures(text string) []int64 {
	n := utils.NormalizeText(linkRe.ReplaceAllString(text, " "))
	if n == "" {
		return nil
	}
	cue := groupedRe.MatchString(n)
	for _, w := range priceCueWords {
		if cue {
			break
		}
		cue = strings.Contains(n, w)
	}
	if !cue {
		return nil
	}

	var out []int64
	for _, m := range figureRe.FindAllStringSubmatch(n, -1) {
		raw := strings.TrimRight(m[1], ".,٬")
		if !strings.ContainsAny(raw, ",٬.") && len(raw) >= 10 {
			continue // phone number
		}
		mult := int64(1)
		switch m[2] {
		case "میلیون":
			mult = 1_000_000
		case "هزار":
			mult = 1_000
		}
		var v int64
		if mult > 1 && strings.Count(raw, ".") == 1 && !strings.ContainsAny(raw, ",٬") {
			f, err := strconv.ParseFloat(raw, 64)
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
			}, raw)
			if digits == "" || len(digits) > 12 {
				continue
			}
			x, err := strconv.ParseInt(digits, 10, 64)
			if err != nil {
				continue
			}
			v = x * mult
		}
		if v >= 1000 {
			out = append(out, v)
		}
	}
	return out
}

func groundedPrices(products []models.Product, sel models.SelectedProduct) map[int64]struct{} {
	known := map[int64]struct{}{}
	add := func(p *int64) {
		if p != nil && *p > 0 {
			known[*p] = struct{}{}
		}
	}
	for i := range products {
		add(products[i].Price)
		add(products[i].OldPrice)
	}
	add(sel.Price)
	add(sel.OldPrice)
	return known
}

// isGrounded accepts f when it, or its rial/toman equivalent, is known.
func isGrounded(f int64, known map[int64]struct{}) bool {
	if _, ok := known[f]; ok {
		return true
	}
	if _, ok := known[f*10]; ok {
		return true
	}
	if f%10 == 0 {
		if _, ok := known[f/10]; ok {
			return true
		}
	}
	return false
}

func budgetFits(f int64, lo, hi *int64) bool {
	return (lo == nil || f >= *lo) && (hi == nil || f <= *hi)
}

func formatBudget(lo, hi *int64) string {
	switch {
	case lo != nil && hi != nil:
		return formatPrice(lo) + " تا " + formatPrice(hi)
	case hi != nil:
		return formatPrice(hi)
	}
	return formatPrice(lo)
}

var genericFallbacks = map[string]struct{}{
	"لطفاً کمی دقیق‌تر بگید تا بهتر راهنمایی کنم 🙏": {},
	"لطفاً کمی دقیق‌تر بگید تا بهتر راهنمایی کنم":   {},
	"لطفاً کمی دقیق‌تر بفرمایید.":                 {},
}

var (
	mdLinkRe     = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	listPrefixRe = regexp.MustCompile(`(?m)^[ \t]*([-*•]|\d+[.)])[ \t]+`)
	punctSpaceRe = regexp.MustCompile(`\s+([،؛:!؟.,])`)
	multiSpaceRe = regexp.MustCompile(`[ \t]{2,}`)
	blankLinesRe = regexp.MustCompile(`\n{3,}`)
)

// PostProcess strips markdown artifacts, swaps canned non-answers for
// fallback and truncates to maxChars runes with a "..." marker.
func PostProcess(text string, maxChars int, fallback string) string {
	s := strings.TrimSpace(text)
	if s == "" {
		return fallback
	}
	if _, ok := ParseStructured(s); ok {
		return s
	}
	s = sanitize(s)
	if _, generic := genericFallbacks[s]; s == "" || generic {
		return fallback
	}
	if maxChars > 0 && len([]rune(s)) > maxChars {
		s = strings.TrimRight(utils.Truncate(s, maxChars), " \t\n") + "..."
	}
	return s
}

func sanitize(s string) string {
	s = mdLinkRe.ReplaceAllString(s, "$1: $2")
	s = strings.NewReplacer("**", "", "__", "", "`", "").Replace(s)
	s = listPrefixRe.ReplaceAllString(s, "")
	s = punctSpaceRe.ReplaceAllString(s, "$1")
	s = multiSpaceRe.ReplaceAllString(s, " ")
	s = blankLinesRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// LimitQuestions keeps the question mark on the first max questions; later
// questions lose theirs. max < 0 disables the limit.
func LimitQuestions(text string, max int) string {
	if text == "" || max < 0 {
		return text
	}
	var b strings.Builder
	var sentence strings.Builder
	count := 0
	for _, r := range text {
		if r != '?' && r != '؟' {
			sentence.WriteRune(r)
			continue
		}
		count++
		if count <= max {
			b.WriteString(sentence.String())
			b.WriteRune(r)
		} else {
			b.WriteString(strings.TrimRight(sentence.String(), " "))
		}
		sentence.Reset()
	}
	b.WriteString(sentence.String())
	out := strings.TrimSpace(b.String())
	if out == "" {
		return text
	}
	return out
}

// LimitSentences keeps the first max sentences.
func LimitSentences(text string, max int) string {
	if text == "" || max <= 0 {
		return text
	}
	runes := []rune(strings.TrimSpace(text))
	count := 0
	for i, r := range runes {
		if !isSentenceEnd(r) {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		count++
		if count == max {
			rest := strings.TrimSpace(string(runes[i+1:]))
			if rest == "" {
				return text
			}
			return strings.TrimSpace(string(runes[:i+1]))
		}
	}
	return text
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '؟':
		return true
	}
	return false
}

// LimitEmojis drops emojis after the first max.
func LimitEmojis(text string, max int) string {
	if text == "" || max < 0 {
		return text
	}
	var b strings.Builder
	count := 0
	dropping := false
	for _, r := range text {
		if r == 0xFE0F || r == 0x200D {
			if !dropping {
				b.WriteRune(r)
			}
			continue
		}
		if isEmoji(r) {
			count++
			dropping = count > max
			if dropping {
				continue
			}
		} else {
			dropping = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F300 && r <= 0x1FAFF:
		return true
	case r >= 0x1F000 && r <= 0x1F2FF:
		return true
	case r >= 0x2600 && r <= 0x27BF:
		return true
	}
	return false
}
