package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yoockh/dmcommerce/internal/classify"
	"github.com/yoockh/dmcommerce/internal/models"
	"github.com/yoockh/dmcommerce/internal/providers/llm"
	mongorepo "github.com/yoockh/dmcommerce/internal/repositories/mongo"
	pgrepo "github.com/yoockh/dmcommerce/internal/repositories/postgres"
	"github.com/yoockh/dmcommerce/internal/rules"
	"github.com/yoockh/dmcommerce/internal/utils"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Reply markers the model may emit to ask for product cards.
const (
	ShowProductsToken    = "[SHOW_PRODUCTS]"
	ShowProductsTokenAlt = "[GENERIC_TEMPLATE]"
)

// SplitShowProducts strips the product-card marker from a model reply.
func SplitShowProducts(text string) (bool, string) {
	if !strings.Contains(text, ShowProductsToken) && !strings.Contains(text, ShowProductsTokenAlt) {
		return false, text
	}
	cleaned := strings.NewReplacer(ShowProductsToken, "", ShowProductsTokenAlt, "").Replace(text)
	return true, strings.TrimSpace(cleaned)
}

type ContextConfig struct {
	MaxHistory       int
	MaxUserTurns     int
	FaqLimit         int
	CampaignLimit    int
	ResponseLogLimit int
	MessageMaxChars  int
}

func (c *ContextConfig) defaults() {
	if c.MaxHistory <= 0 {
		c.MaxHistory = 20
	}
	if c.MaxUserTurns <= 0 {
		c.MaxUserTurns = 6
	}
	if c.FaqLimit <= 0 {
		c.FaqLimit = 30
	}
	if c.CampaignLimit <= 0 {
		c.CampaignLimit = 5
	}
	if c.ResponseLogLimit <= 0 {
		c.ResponseLogLimit = 5
	}
	if c.MessageMaxChars <= 0 {
		c.MessageMaxChars = 600
	}
}

// ContextInput is what the pipeline knows when it falls through to the model.
type ContextInput struct {
	User     *models.User
	State    *models.ConversationState
	Settings *models.BotSettings

	ConversationID string
	Text           string
	Products       []models.Product
	// Notes become extra system messages ([ORDER_FLOW], [NEED_DETAILS]...).
	Notes             []string
	AllowProductCards bool
}

// ContextBundle is the assembled model input. Sections keeps each block
// by name so callers and tests can inspect what was sent.
type ContextBundle struct {
	SystemPrompt string
	Sections     map[string]string
	Messages     []llm.Message
	History      []models.Message
}

type ContextBuilder interface {
	Build(ctx context.Context, in ContextInput) (*ContextBundle, error)
}

type contextBuilder struct {
	cls       *classify.Classifier
	knowledge pgrepo.KnowledgeRepository
	catalog   CatalogService
	messages  pgrepo.MessageRepository
	behavior  pgrepo.BehaviorRepository
	events    mongorepo.EventRepository
	cfg       ContextConfig
	log       *logrus.Logger
	now       func() time.Time
}

func NewContextBuilder(
	cls *classify.Classifier,
	knowledge pgrepo.KnowledgeRepository,
	catalog CatalogService,
	messages pgrepo.MessageRepository,
	behavior pgrepo.BehaviorRepository,
	events mongorepo.EventRepository,
	cfg ContextConfig,
	log *logrus.Logger,
) ContextBuilder {
	cfg.defaults()
	return &contextBuilder{
		cls: cls, knowledge: knowledge, catalog: catalog, messages: messages,
		behavior: behavior, events: events, cfg: cfg, log: log,
		now: func() time.Time { return time.Now().UTC() },
	}
}

type gathered struct {
	faqs      []models.Faq
	campaigns []models.Campaign
	catalog   string
	history   []models.Message
	behavior  *models.BehaviorProfile
	responses []models.Event
}

func (b *contextBuilder) Build(ctx context.Context, in ContextInput) (*ContextBundle, error) {
	const op = "ContextBuilder.Build"

	if in.ConversationID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "conversation_id is required", nil)
	}
	g, err := b.gather(ctx, in)
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "failed to gather context", err)
	}

	base := b.cls.Rules().Prompts.System
	if in.Settings != nil && strings.TrimSpace(in.Settings.SystemPrompt) != "" {
		base = in.Settings.SystemPrompt
	}
	p := b.cls.Rules().Prompts
	parts := []string{strings.TrimSpace(base)}
	if in.Text != "" {
		if b.cls.NeedsProductDetails(in.Text) || b.cls.IsPurchaseConfirmation(in.Text) {
			parts = append(parts, strings.TrimSpace(p.Sales))
		}
		if b.cls.WantsSupport(in.Text) || b.cls.IsAngry(in.Text) {
			parts = append(parts, strings.TrimSpace(p.Support))
		}
	}

	history := trimHistory(g.history, b.cfg.MaxUserTurns)

	sections := map[string]string{"system_prompt": base}
	system := []string{joinNonEmpty(parts, "\n\n")}
	add := func(key, title, body string) {
		if s := section(title, body); s != "" {
			sections[key] = s
			system = append(system, s)
		}
	}
	add("store", "STORE", StoreKnowledgeText(b.cls.Rules().Store))
	add("campaigns", "ACTIVE CAMPAIGNS", formatCampaigns(g.campaigns))
	add("faqs", "VERIFIED FAQs", formatFaqs(g.faqs))
	if g.catalog != "" {
		sections["catalog"] = g.catalog
		system = append(system, g.catalog)
	}
	add("user_profile", "USER_PROFILE + BEHAVIOR", formatUserProfile(in.User, g.behavior))
	add("behavior", "BEHAVIOR", formatBehaviorDetail(g.behavior))
	add("conversation_state", "CONVERSATION_STATE", formatState(in.State))
	add("recent_messages", "RECENT_MESSAGES", formatRecentMessages(history, b.cfg.MaxUserTurns))
	if in.Settings != nil {
		add("admin_notes", "ADMIN NOTES", in.Settings.AdminNotes)
	}
	if s := formatResponseLog(g.responses, b.cfg.MessageMaxChars); s != "" {
		sections["recent_responses"] = s
		system = append(system, s)
	}

	bundle := &ContextBundle{
		SystemPrompt: strings.TrimSpace(strings.Join(system, "\n\n")),
		Sections:     sections,
		History:      history,
	}
	bundle.Messages = append(bundle.Messages, llm.Message{Role: llm.RoleSystem, Content: bundle.SystemPrompt})
	for _, note := range in.Notes {
		if strings.TrimSpace(note) != "" {
			bundle.Messages = append(bundle.Messages, llm.Message{Role: llm.RoleSystem, Content: note})
		}
	}
	if s := b.productsSection(in.Products, in.AllowProductCards); s != "" {
		sections["products"] = s
		bundle.Messages = append(bundle.Messages, llm.Message{Role: llm.RoleSystem, Content: s})
	}
	for _, m := range history {
		role, ok := llmRole(m.Role)
		if !ok || m.Type == models.MessageRead {
			continue
		}
		content := m.ContentText
		if strings.TrimSpace(content) == "" {
			content = "[" + strings.ToUpper(string(m.Type)) + "]"
		}
		bundle.Messages = append(bundle.Messages, llm.Message{Role: role, Content: content})
	}

	b.log.WithFields(logrus.Fields{
		"conversation_id": in.ConversationID,
		"products":        len(in.Products),
		"faqs":            len(g.faqs),
		"campaigns":       len(g.campaigns),
		"history":         len(history),
	}).Debug("context built")
	return bundle, nil
}

func (b *contextBuilder) gather(ctx context.Context, in ContextInput) (*gathered, error) {
	var (
		out gathered
		mu  sync.Mutex
	)
	maxHistory := b.cfg.MaxHistory
	if in.Settings != nil && in.Settings.MaxHistoryMessages > 0 {
		maxHistory = in.Settings.MaxHistoryMessages
	}
	warn := func(what string, err error) {
		b.log.WithError(err).WithField("conversation_id", in.ConversationID).Warn(what + " unavailable for context")
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		history, err := b.messages.Recent(egCtx, in.ConversationID, maxHistory)
		if err != nil {
			return err
		}
		mu.Lock()
		out.history = history
		mu.Unlock()
		return nil
	})
	eg.Go(func() error {
		faqs, err := b.knowledge.VerifiedFaqs(egCtx, b.cfg.FaqLimit)
		if err != nil {
			warn("faqs", err)
			return nil
		}
		mu.Lock()
		out.faqs = faqs
		mu.Unlock()
		return nil
	})
	eg.Go(func() error {
		campaigns, err := b.knowledge.ActiveCampaigns(egCtx, b.now(), b.cfg.CampaignLimit)
		if err != nil {
			warn("campaigns", err)
			return nil
		}
		mu.Lock()
		out.campaigns = campaigns
		mu.Unlock()
		return nil
	})
	if b.catalog != nil {
		eg.Go(func() error {
			snap, err := b.catalog.Snapshot(egCtx)
			if err != nil {
				warn("catalog", err)
				return nil
			}
			summary := snap.Summary()
			mu.Lock()
			out.catalog = summary
			mu.Unlock()
			return nil
		})
	}
	if in.User != nil && b.behavior != nil {
		eg.Go(func() error {
			profile, err := b.behavior.Get(egCtx, in.User.ID)
			if err != nil {
				if !errors.Is(err, utils.ErrNotFound) {
					warn("behavior", err)
				}
				return nil
			}
			mu.Lock()
			out.behavior = profile
			mu.Unlock()
			return nil
		})
	}
	if b.events != nil {
		eg.Go(func() error {
			events, err := b.events.Recent(egCtx, in.ConversationID, models.EventAssistantResponse, int64(b.cfg.ResponseLogLimit))
			if err != nil {
				warn("response log", err)
				return nil
			}
			mu.Lock()
			out.responses = events
			mu.Unlock()
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *contextBuilder) productsSection(products []models.Product, allowCards bool) string {
	if len(products) == 0 {
		return ""
	}
	lines := make([]string, 0, len(products))
	for i := range products {
		p := &products[i]
		tags := b.cls.InferTags(productHaystack(p))
		parts := []string{productTitle(p), "قیمت: " + formatPrice(p.Price)}
		if p.OldPrice != nil {
			parts = append(parts, "قبل: "+formatPrice(p.OldPrice))
		}
		parts = append(parts, "موجودی: "+availabilityLabel(p.Availability))
		if p.ProductID != "" {
			parts = append(parts, "مدل: "+p.ProductID)
		}
		for _, f := range []struct {
			label  string
			values []string
		}{
			{"دسته", tags.Categories},
			{"جنسیت", tags.Genders},
			{"جنس", tags.Materials},
			{"سبک", tags.Styles},
			{"رنگ", firstN(tags.Colors, 3)},
		} {
			if len(f.values) > 0 {
				parts = append(parts, f.label+": "+strings.Join(f.values, ", "))
			}
		}
		if p.PageURL != "" {
			parts = append(parts, "لینک: "+p.PageURL)
		}
		lines = append(lines, "- "+strings.Join(parts, " | "))
	}
	out := "[PRODUCTS]\n" + strings.Join(lines, "\n") +
		"\nRules:\n" +
		"- فقط از قیمت‌های بالا استفاده کن و قیمت جدید نساز.\n" +
		"- اگر قیمت نامشخص بود، همین را اعلام کن و از کاربر جزئیات بپرس."
	if allowCards {
		out += "\n- اگر می‌خواهی کارت محصول نمایش داده شود، دقیقاً یک خط جدا شامل " + ShowProductsToken + " بنویس."
	}
	return out
}

// StoreKnowledgeText is the [STORE] block: the fixed facts the model may quote.
func StoreKnowledgeText(s rules.Store) string {
	lines := []string{
		fmt.Sprintf("نام فروشگاه: %s (%s)", s.Name, s.City),
		"وب‌سایت: " + s.WebsiteURL(),
	}
	if s.Business != "" {
		lines = append(lines, "نوع فعالیت: "+s.Business)
	}
	if s.About != "" {
		lines = append(lines, "معرفی کوتاه: "+s.About)
	}
	if len(s.Categories) > 0 {
		lines = append(lines, "دسته‌بندی‌ها: "+strings.Join(s.Categories, "، "))
	}
	if len(s.Strengths) > 0 {
		lines = append(lines, "مزیت‌ها: "+strings.Join(s.Strengths, "، "))
	}
	if len(s.Branches) > 0 {
		lines = append(lines, "شعب:")
		for i, br := range s.Branches {
			line := fmt.Sprintf("%d) شعبه %s: %s", i+1, br.Name, br.Address)
			if br.MapURL != "" {
				line += " | نقشه: " + br.MapURL
			}
			lines = append(lines, line)
		}
	}
	if s.ListingAddress != "" {
		lines = append(lines, "آدرس نشان: "+s.ListingAddress)
	}
	if s.Hours != "" {
		lines = append(lines, "ساعت کاری: "+s.Hours)
	}
	if s.Phone != "" {
		lines = append(lines, "تلفن: "+s.Phone)
	}
	t := s.Trust
	if t.EnamadURL != "" {
		lines = append(lines, fmt.Sprintf("نماد اعتماد (%s - %s): %s | لینک: %s", t.Platform, t.StoreName, t.Status, t.EnamadURL))
	}
	if t.TorobURL != "" {
		lines = append(lines, "ترب: "+t.TorobURL)
	}
	if t.ZarinpalURL != "" {
		lines = append(lines, "زرین‌پال: "+t.ZarinpalURL)
	}
	for _, l := range s.Socials {
		lines = append(lines, l.Title+": "+l.URL)
	}
	for _, l := range s.CategoryLinks {
		if l.URL != "" {
			lines = append(lines, l.Title+": "+l.URL)
		}
	}
	return strings.Join(lines, "\n")
}

func section(title, body string) string {
	body = strings.TrimSpace(body)
	if body == "" {
		return ""
	}
	return "[" + title + "]\n" + body
}

func joinNonEmpty(parts []string, sep string) string {
	out := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}

func firstN(list []string, n int) []string {
	if len(list) > n {
		return list[:n]
	}
	return list
}

func llmRole(r models.MessageRole) (llm.Role, bool) {
	switch r {
	case models.RoleUser:
		return llm.RoleUser, true
	case models.RoleAssistant:
		return llm.RoleAssistant, true
	}
	return "", false
}

// trimHistory keeps the tail of history holding the last maxUserTurns user
// messages.
func trimHistory(history []models.Message, maxUserTurns int) []models.Message {
	if maxUserTurns <= 0 {
		return history
	}
	turns := 0
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m.Role == models.RoleUser && m.Type != models.MessageRead {
			turns++
			if turns >= maxUserTurns {
				return history[i:]
			}
		}
	}
	return history
}

func formatCampaigns(campaigns []models.Campaign) string {
	var lines []string
	for _, c := range campaigns {
		parts := []string{}
		for _, v := range []string{c.Title, c.Body} {
			if v != "" {
				parts = append(parts, v)
			}
		}
		if c.DiscountCode != "" {
			parts = append(parts, "کد تخفیف: "+c.DiscountCode)
		}
		if c.Link != "" {
			parts = append(parts, "لینک: "+c.Link)
		}
		if len(parts) > 0 {
			lines = append(lines, "- "+strings.Join(parts, " | "))
		}
	}
	return strings.Join(lines, "\n")
}

func formatFaqs(faqs []models.Faq) string {
	var lines []string
	for _, f := range faqs {
		if f.Question != "" && f.Answer != "" {
			lines = append(lines, "Q: "+f.Question+"\nA: "+f.Answer)
		}
	}
	return strings.Join(lines, "\n")
}

func formatRecentMessages(history []models.Message, limit int) string {
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	var lines []string
	for _, m := range history {
		if _, ok := llmRole(m.Role); !ok || m.Type == models.MessageRead {
			continue
		}
		text := m.ContentText
		if strings.TrimSpace(text) == "" {
			text = "[" + string(m.Type) + "]"
		}
		lines = append(lines, string(m.Role)+": "+text)
	}
	return strings.Join(lines, "\n")
}

func formatUserProfile(u *models.User, bp *models.BehaviorProfile) string {
	if u == nil {
		return ""
	}
	var bits []string
	if u.Username != "" {
		bits = append(bits, "username="+u.Username)
	}
	if u.FollowStatus != "" {
		bits = append(bits, "follow_status="+u.FollowStatus)
	}
	if u.FollowerCount != nil {
		bits = append(bits, fmt.Sprintf("follower_count=%d", *u.FollowerCount))
	}
	if u.IsVIP {
		bits = append(bits, "vip=true")
	}
	if u.VIPScore > 0 {
		bits = append(bits, fmt.Sprintf("vip_score=%d", u.VIPScore))
	}
	prefs := u.Profile.Data().Prefs
	var pb []string
	if len(prefs.Categories) > 0 {
		pb = append(pb, "categories="+strings.Join(prefs.Categories, ", "))
	}
	if prefs.Gender != "" {
		pb = append(pb, "gender="+prefs.Gender)
	}
	if len(prefs.Sizes) > 0 {
		pb = append(pb, "sizes="+strings.Join(prefs.Sizes, ", "))
	}
	if len(prefs.Colors) > 0 {
		pb = append(pb, "colors="+strings.Join(prefs.Colors, ", "))
	}
	if prefs.BudgetMin != nil {
		pb = append(pb, fmt.Sprintf("budget_min=%d", *prefs.BudgetMin))
	}
	if prefs.BudgetMax != nil {
		pb = append(pb, fmt.Sprintf("budget_max=%d", *prefs.BudgetMax))
	}
	if len(pb) > 0 {
		bits = append(bits, "prefs="+strings.Join(pb, "; "))
	}
	if bp != nil && bp.LastPattern != "" {
		bits = append(bits, "behavior="+bp.LastPattern, fmt.Sprintf("confidence=%.2f", bp.Confidence))
	}
	return strings.Join(bits, " | ")
}

func formatBehaviorDetail(bp *models.BehaviorProfile) string {
	if bp == nil || bp.LastPattern == "" {
		return ""
	}
	lines := []string{fmt.Sprintf("آخرین الگو: %s (confidence=%.2f)", bp.LastPattern, bp.Confidence)}
	hist := bp.History.Data()
	if len(hist) == 0 {
		return lines[0]
	}
	counts := map[string]int{}
	for _, h := range hist {
		counts[h.Pattern]++
	}
	top := topCounts(counts, 5)
	lines = append(lines, "خلاصه: "+joinCounts(top))

	recent := hist
	if len(recent) > 3 {
		recent = recent[len(recent)-3:]
	}
	parts := make([]string, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		parts = append(parts, fmt.Sprintf("%s(%.2f)", recent[i].Pattern, recent[i].Confidence))
	}
	lines = append(lines, "نمونه‌های اخیر: "+strings.Join(parts, "، "))
	return strings.Join(lines, "\n")
}

func formatState(st *models.ConversationState) string {
	if st == nil {
		return ""
	}
	var lines []string
	add := func(k, v string) {
		if v != "" {
			lines = append(lines, k+": "+v)
		}
	}
	add("intent", st.Intent)
	add("category", st.Category)
	if len(st.SlotsRequired) > 0 {
		add("slots_required", strings.Join(st.SlotsRequired, ", "))
	}
	if len(st.SlotsFilled) > 0 {
		keys := make([]string, 0, len(st.SlotsFilled))
		for k := range st.SlotsFilled {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, st.SlotsFilled[k]))
		}
		add("slots_filled", strings.Join(parts, ", "))
	}
	if sel := st.Selected(); !sel.Empty() {
		add("selected_product", fmt.Sprintf("%s | قیمت: %s | %s", utils.FirstNonEmpty(sel.Title, sel.Slug), formatPrice(sel.Price), sel.PageURL))
	}
	add("last_user_question", st.LastUserQuestion)
	add("last_bot_action", st.LastBotAction)
	if !st.UpdatedAt.IsZero() {
		add("last_updated_at", st.UpdatedAt.Format(time.RFC3339))
	}
	return strings.Join(lines, "\n")
}

// formatResponseLog renders the last assistant_response events oldest first.
func formatResponseLog(events []models.Event, maxChars int) string {
	var lines []string
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		text, _ := e.Data["text"].(string)
		text = strings.Join(strings.Fields(text), " ")
		if text == "" {
			continue
		}
		tag, _ := e.Data["handler"].(string)
		if tag == "" {
			tag = "reply"
		}
		if intent, _ := e.Data["intent"].(string); intent != "" {
			tag += "/" + intent
		}
		lines = append(lines, fmt.Sprintf("- [%s] %s", tag, utils.TruncateEllipsis(text, maxChars)))
	}
	if len(lines) == 0 {
		return ""
	}
	return utils.TruncateEllipsis("[RECENT_RESPONSES]\n"+strings.Join(lines, "\n"), maxChars)
}
