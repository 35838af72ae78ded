package services

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/yoockh/dmcommerce/internal/classify"
	"github.com/yoockh/dmcommerce/internal/models"
	"github.com/yoockh/dmcommerce/internal/rules"
	"github.com/yoockh/dmcommerce/internal/utils"
)

const (
	templateTitleMax    = 80
	templateSubtitleMax = 80
	faqTagMinRunes      = 4
)

// Handler names recorded on the conversation state and in metrics.
const (
	HandlerRule     = "rule"
	HandlerMenu     = "menu"
	HandlerStore    = "store_info"
	HandlerProducts = "products"
	HandlerFaq      = "faq"
	HandlerLLM      = "llm"
	HandlerOrder    = "order_form"
	HandlerTicket   = "ticket"
	HandlerRepeat   = "repeat"
	HandlerContinue = "continue"
	HandlerFallback = "fallback"
	HandlerSmall    = "smalltalk"
	HandlerFollowup = "followup"
)

type PlanLimits struct {
	MaxButtons           int
	MaxQuickReplies      int
	MaxTemplateSlides    int
	QuickReplyTitleMax   int
	QuickReplyPayloadMax int
}

// Planner turns reply text and catalog rows into outbound plans. It holds
// no state and is safe for concurrent use.
type Planner struct {
	rules  *rules.Set
	cls    *classify.Classifier
	limits PlanLimits
}

func (l *PlanLimits) defaults() {
	if l.MaxButtons <= 0 {
		l.MaxButtons = 3
	}
	if l.MaxQuickReplies <= 0 {
		l.MaxQuickReplies = 13
	}
	if l.MaxTemplateSlides <= 0 {
		l.MaxTemplateSlides = 10
	}
	if l.QuickReplyTitleMax <= 0 {
		l.QuickReplyTitleMax = 20
	}
	if l.QuickReplyPayloadMax <= 0 {
		l.QuickReplyPayloadMax = 20
	}
}

func NewPlanner(cls *classify.Classifier, limits PlanLimits) *Planner {
	limits.defaults()
	return &Planner{rules: cls.Rules(), cls: cls, limits: limits}
}

func (p *Planner) Limits() PlanLimits { return p.limits }

// ParseStructured decodes a reply that is itself a JSON plan.
func ParseStructured(text string) (models.OutboundPlan, bool) {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "{") {
		return models.OutboundPlan{}, false
	}
	var plan models.OutboundPlan
	if err := json.Unmarshal([]byte(s), &plan); err != nil {
		return models.OutboundPlan{}, false
	}
	switch plan.Type {
	case models.PlanText, models.PlanButton, models.PlanQuickReply, models.PlanGenericTemplate,
		models.PlanPhoto, models.PlanVideo, models.PlanAudio:
		return plan, true
	}
	return models.OutboundPlan{}, false
}

var (
	numberedOptionRe = regexp.MustCompile(`^\s*\d+[).:-]\s*(.+)$`)
	linkRe           = regexp.MustCompile(`https?://\S+`)
)

// PlanFromText picks the richest plan a plain reply supports: a JSON plan,
// a link button, a website button or numbered quick replies.
func (p *Planner) PlanFromText(text string) models.OutboundPlan {
	if plan, ok := ParseStructured(text); ok {
		return plan
	}

	if m := linkRe.FindString(text); m != "" {
		return models.OutboundPlan{
			Type:    models.PlanButton,
			Text:    text,
			Buttons: []models.Button{{Type: models.ButtonWebURL, Title: p.rules.Replies.Buttons.Link, URL: strings.TrimRight(m, ").,")}},
		}
	}

	if p.rules.Store.Domain != "" && strings.Contains(strings.ToLower(text), p.rules.Store.Domain) {
		return models.OutboundPlan{
			Type:    models.PlanButton,
			Text:    text,
			Buttons: []models.Button{{Type: models.ButtonWebURL, Title: p.rules.Replies.Buttons.Website, URL: p.rules.Store.WebsiteURL()}},
		}
	}

	var options []string
	for _, line := range strings.Split(text, "\n") {
		if m := numberedOptionRe.FindStringSubmatch(line); m != nil {
			options = append(options, strings.TrimSpace(m[1]))
		}
	}
	if len(options) > 1 && len(options) <= p.limits.MaxQuickReplies {
		qr := make([]models.QuickReplyOption, 0, len(options))
		for _, o := range options {
			qr = append(qr, models.QuickReplyOption{
				Title:   strings.TrimSpace(utils.Truncate(o, p.limits.QuickReplyTitleMax)),
				Payload: strings.TrimSpace(utils.Truncate(o, p.limits.QuickReplyPayloadMax)),
			})
		}
		return models.OutboundPlan{Type: models.PlanQuickReply, Text: text, QuickReplies: qr}
	}

	return models.TextPlan(text)
}

func (p *Planner) MenuPlan() models.OutboundPlan {
	opts := p.rules.Replies.MenuOptions
	if len(opts) > p.limits.MaxQuickReplies {
		opts = opts[:p.limits.MaxQuickReplies]
	}
	qr := make([]models.QuickReplyOption, 0, len(opts))
	for _, o := range opts {
		qr = append(qr, models.QuickReplyOption{Title: o, Payload: o})
	}
	return models.OutboundPlan{Type: models.PlanQuickReply, Text: p.rules.Replies.MenuText, QuickReplies: qr}
}

// FallbackFor is the canned reply for an inbound message of type t.
func (p *Planner) FallbackFor(t models.MessageType) string {
	r := p.rules.Replies
	switch t {
	case models.MessageAudio:
		return r.FallbackAudio
	case models.MessageMedia, models.MessagePhoto, models.MessageVideo:
		return r.FallbackMedia
	}
	return r.FallbackGeneral
}

func (p *Planner) BranchesText() string {
	s := p.rules.Store
	lines := make([]string, 0, len(s.Branches)+1)
	for i, b := range s.Branches {
		line := fmt.Sprintf("%d) شعبه %s: %s", i+1, b.Name, b.Address)
		if b.MapURL != "" {
			line += " | نقشه: " + b.MapURL
		}
		lines = append(lines, line)
	}
	if s.ListingAddress != "" {
		lines = append(lines, "آدرس نشان: "+s.ListingAddress)
	}
	return strings.Join(lines, "\n")
}

func (p *Planner) AddressText() string {
	return fmt.Sprintf("آدرس شعب %s:\n%s\nکدوم محدوده %s هستید تا نزدیک‌ترین شعبه رو معرفی کنم؟",
		p.rules.Store.Name, p.BranchesText(), p.rules.Store.City)
}

func (p *Planner) HoursText() string {
	return fmt.Sprintf("ساعت کاری: %s\nاگر قصد مراجعه دارید، کدوم محدوده %s هستید؟", p.rules.Store.Hours, p.rules.Store.City)
}

func (p *Planner) PhoneText() string {
	return fmt.Sprintf("شماره تماس: %s\nبرای خرید آنلاین هم می‌تونید از وب‌سایت استفاده کنید.", p.rules.Store.Phone)
}

func (p *Planner) TrustText() string {
	t := p.rules.Store.Trust
	return fmt.Sprintf("نماد اعتماد «%s» فعال است: %s. پرداخت امن از طریق زرین‌پال: %s. صفحه فروشگاه در ترب: %s.",
		t.StoreName, t.EnamadURL, t.ZarinpalURL, t.TorobURL)
}

func (p *Planner) WebsitePlan() models.OutboundPlan {
	return models.OutboundPlan{
		Type:    models.PlanButton,
		Text:    fmt.Sprintf("وب‌سایت رسمی %s:", p.rules.Store.Name),
		Buttons: []models.Button{{Type: models.ButtonWebURL, Title: p.rules.Replies.Buttons.Website, URL: p.rules.Store.WebsiteURL()}},
	}
}

// ContactPlan lists phone and social links, with buttons for the first
// socials that fit.
func (p *Planner) ContactPlan() models.OutboundPlan {
	s := p.rules.Store
	lines := []string{"راه‌های ارتباطی " + s.Name + ":"}
	if s.Phone != "" {
		lines = append(lines, "شماره تماس: "+s.Phone)
	}
	var buttons []models.Button
	for _, l := range s.Socials {
		lines = append(lines, l.Title+": "+l.URL)
		if len(buttons) < p.limits.MaxButtons {
			buttons = append(buttons, models.Button{Type: models.ButtonWebURL, Title: utils.Truncate(l.Title, 20), URL: l.URL})
		}
	}
	text := strings.Join(lines, "\n")
	if len(buttons) == 0 {
		return models.TextPlan(text)
	}
	return models.OutboundPlan{Type: models.PlanButton, Text: text, Buttons: buttons}
}

// StoreTopicPlan answers one store fact. ok is false for unknown topics.
func (p *Planner) StoreTopicPlan(topic string) (models.OutboundPlan, bool) {
	switch topic {
	case classify.TopicAddress:
		return models.TextPlan(p.AddressText()), true
	case classify.TopicHours:
		return models.TextPlan(p.HoursText()), true
	case classify.TopicPhone:
		return models.TextPlan(p.PhoneText()), true
	case classify.TopicContact:
		return p.ContactPlan(), true
	case classify.TopicWebsite:
		return p.WebsitePlan(), true
	case classify.TopicTrust:
		return models.TextPlan(p.TrustText()), true
	}
	return models.OutboundPlan{}, false
}

// RulePlan is the deterministic reply for messages that need no catalog or
// model. key names the rule that fired ("store_info:address", "menu", ...).
func (p *Planner) RulePlan(t models.MessageType, text string, firstMessage bool) (plan models.OutboundPlan, key string, ok bool) {
	n := utils.NormalizeText(text)

	if n == "" {
		switch {
		case t == models.MessageAudio || t == models.MessageMedia || t == models.MessagePhoto || t == models.MessageVideo:
			return models.TextPlan(p.FallbackFor(t)), "fallback_" + string(t), true
		case firstMessage:
			return p.MenuPlan(), HandlerMenu, true
		default:
			return models.TextPlan(p.rules.Replies.FallbackGeneral), HandlerFallback, true
		}
	}

	if firstMessage && p.cls.IsGreeting(n) && len(strings.Fields(n)) <= 3 {
		return p.MenuPlan(), HandlerMenu, true
	}
	if topic := p.cls.StoreTopic(n); topic != "" {
		plan, _ := p.StoreTopicPlan(topic)
		return plan, StoreKey(topic), true
	}
	if p.cls.IsAngry(n) {
		return models.TextPlan(p.rules.Replies.Angry), "angry", true
	}
	if p.cls.NeedsProductDetails(n) {
		return models.TextPlan(p.rules.Replies.ProductDetails), "product_details", true
	}
	return models.OutboundPlan{}, "", false
}

// StoreKey is the answer-cache key for a store topic.
func StoreKey(topic string) string { return classify.IntentStoreInfo + ":" + topic }

var productListWords = []string{"محصول", "محصولات", "لیست", "کالا", "مدل", "نمایش", "دیدن", "catalog", "product", "products", "list"}

func wantsProductList(text string) bool {
	n := utils.NormalizeText(text)
	if n == "" {
		return false
	}
	for _, w := range productListWords {
		if strings.Contains(n, w) {
			return true
		}
	}
	return false
}

// ProductPlan presents products: a carousel when several are shown and the
// text asks for a list, otherwise a button message for the first one.
func (p *Planner) ProductPlan(text string, products []models.Product) (models.OutboundPlan, bool) {
	if len(products) == 0 {
		return models.OutboundPlan{}, false
	}
	productButton := p.rules.Replies.Buttons.Product

	if len(products) > 1 && (strings.TrimSpace(text) == "" || wantsProductList(text)) {
		n := min(len(products), p.limits.MaxTemplateSlides)
		elements := make([]models.TemplateElement, 0, n)
		for i := range products[:n] {
			pr := &products[i]
			parts := []string{"قیمت: " + formatPrice(pr.Price)}
			if pr.OldPrice != nil {
				parts = append(parts, "قبل: "+formatPrice(pr.OldPrice))
			}
			parts = append(parts, "موجودی: "+availabilityLabel(pr.Availability))
			el := models.TemplateElement{
				Title:    utils.Truncate(productTitle(pr), templateTitleMax),
				Subtitle: utils.Truncate(strings.Join(parts, " | "), templateSubtitleMax),
				ImageURL: pr.FirstImage(),
			}
			if pr.PageURL != "" {
				el.Buttons = []models.Button{{Type: models.ButtonWebURL, Title: productButton, URL: pr.PageURL}}
			}
			elements = append(elements, el)
		}
		return models.OutboundPlan{Type: models.PlanGenericTemplate, Elements: elements}, true
	}

	top := &products[0]
	plan := models.OutboundPlan{Type: models.PlanButton, Text: productLine(top)}
	if top.PageURL != "" {
		plan.Buttons = []models.Button{{Type: models.ButtonWebURL, Title: productButton, URL: top.PageURL}}
	}
	return plan, true
}

// MatchFaq returns the answer of the first verified FAQ whose question, or
// one of whose tags (four runes or longer), appears in text.
func MatchFaq(text string, faqs []models.Faq) (string, bool) {
	n := utils.NormalizeText(text)
	if n == "" {
		return "", false
	}
	for _, f := range faqs {
		if strings.TrimSpace(f.Answer) == "" {
			continue
		}
		if q := utils.NormalizeText(f.Question); q != "" && strings.Contains(n, q) {
			return f.Answer, true
		}
		for _, tag := range f.Tags {
			tag = utils.NormalizeText(tag)
			if len([]rune(tag)) >= faqTagMinRunes && strings.Contains(n, tag) {
				return f.Answer, true
			}
		}
	}
	return "", false
}
