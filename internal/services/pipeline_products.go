package services

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/yoockh/dmcommerce/internal/classify"
	"github.com/yoockh/dmcommerce/internal/models"
	"github.com/yoockh/dmcommerce/internal/utils"
)

func isProductIntent(d classify.Decision) bool {
	switch d.Intent {
	case classify.IntentProductDiscovery, classify.IntentProductSpecific, classify.IntentPrice:
		return true
	}
	return false
}

func productsOf(matches []models.ProductMatch) []models.Product {
	out := make([]models.Product, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Product)
	}
	return out
}

// appendLine adds a line to plans that carry visible text.
func appendLine(plan *models.OutboundPlan, line string) {
	if line == "" {
		return
	}
	switch plan.Type {
	case models.PlanText, models.PlanButton, models.PlanQuickReply:
		plan.Text = strings.TrimSpace(plan.Text + "\n\n" + line)
	}
}

func fillTitle(tmpl string, p *models.Product) string {
	return strings.ReplaceAll(tmpl, "{title}", productTitle(p))
}

// requiredScore is the top lexical score a match needs before products are
// shown without asking for more details.
func requiredScore(tokens int) int {
	if tokens >= 3 {
		return max(3, tokens)
	}
	return max(2, tokens)
}

func (p *pipeline) continueList(ctx context.Context, t *turn) (*step, error) {
	if !p.Classifier.WantsMore(t.norm) {
		return nil, nil
	}
	r := p.Classifier.Rules().Replies
	t.stateIntent = models.StateIntentProductSearch

	ls, expired := p.Profiles.ListState(t.user)
	switch {
	case ls == nil:
		return textStep(r.ContinueEmpty, HandlerContinue, "product_more_empty"), nil
	case expired:
		return textStep(r.ContinueExpired, HandlerContinue, "product_more_expired"), nil
	}

	end := ls.Offset + p.cfg.MatchLimit
	matches, err := p.Matcher.Match(ctx, ls.Query, max(p.cfg.ContextLimit, end))
	if err != nil {
		return nil, err
	}
	products := RankByPreferences(productsOf(matches), t.user.Profile.Data().Prefs)
	total := len(products)

	var page []models.Product
	if total == 0 {
		// the list came from "show me products", which pages the newest rows
		if page, err = p.Matcher.Latest(ctx, p.cfg.MatchLimit, ls.Offset); err != nil {
			return nil, err
		}
		total = ls.Total
	} else if ls.Offset < total {
		page = products[ls.Offset:min(end, total)]
	}
	if len(page) == 0 {
		return textStep(r.ContinueDone, HandlerContinue, "product_more_done"), nil
	}

	plan, _ := p.Planner.ProductPlan(ls.Query, page)
	if total > end {
		appendLine(&plan, r.MoreHint)
	}
	if err := p.Profiles.RecordProducts(ctx, t.user, ls.Query, page, end, total); err != nil {
		p.Log.WithFields(t.fields()).WithError(err).Warn("product list state not saved")
	}
	return &step{plan: plan, meta: DispatchMeta{Handler: HandlerContinue, Intent: "product_more"}}, nil
}

func (p *pipeline) linkStep(sel models.SelectedProduct) *step {
	r := p.Classifier.Rules().Replies
	title := utils.FirstNonEmpty(sel.Title, sel.Slug, "محصول")
	return &step{
		plan: models.OutboundPlan{
			Type:    models.PlanButton,
			Text:    strings.NewReplacer("{title}", title, "{url}", sel.PageURL).Replace(r.LinkSelected),
			Buttons: []models.Button{{Type: models.ButtonWebURL, Title: r.Buttons.Product, URL: sel.PageURL}},
		},
		meta: DispatchMeta{Handler: HandlerProducts, Intent: classify.IntentProductLink},
	}
}

// productLink answers "send me the link" from the selected product, or from
// a single confident match. It never invents a URL.
func (p *pipeline) productLink(ctx context.Context, t *turn) (*step, error) {
	if t.decision.Intent != classify.IntentProductLink {
		return nil, nil
	}
	if sel := t.state.Selected(); sel.PageURL != "" {
		return p.linkStep(sel), nil
	}
	if pr, err := p.Matcher.FromURL(ctx, t.text); err == nil && pr.PageURL != "" {
		sel := models.SelectedFromProduct(pr)
		t.selected = &sel
		return p.linkStep(sel), nil
	}
	matches, err := p.Matcher.Match(ctx, t.text, 1)
	if err != nil {
		return nil, err
	}
	if len(matches) == 1 && matches[0].Product.PageURL != "" {
		sel := models.SelectedFromProduct(&matches[0].Product)
		t.selected = &sel
		return p.linkStep(sel), nil
	}
	return textStep(p.Classifier.Rules().Replies.LinkMissing, HandlerProducts, classify.IntentProductLink), nil
}

// withAlternative notes an in-stock neighbour when the product is sold out.
func (p *pipeline) withAlternative(ctx context.Context, t *turn, plan *models.OutboundPlan, pr models.Product) {
	if pr.Availability != models.OutOfStock {
		return
	}
	alt, err := p.Matcher.Alternative(ctx, pr)
	if err != nil {
		p.Log.WithFields(t.fields()).WithError(err).Warn("alternative lookup failed")
		return
	}
	if alt != nil {
		appendLine(plan, fillTitle(p.Classifier.Rules().Replies.Similar, alt))
	}
}

func (p *pipeline) productFromURL(ctx context.Context, t *turn) (*step, error) {
	pr, err := p.Matcher.FromURL(ctx, t.text)
	if errors.Is(err, utils.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sel := models.SelectedFromProduct(pr)
	t.selected = &sel
	t.stateIntent = models.StateIntentProductSelected
	t.products = []models.Product{*pr}

	plan, _ := p.Planner.ProductPlan("", t.products)
	p.withAlternative(ctx, t, &plan, *pr)
	return &step{
		plan:     plan,
		meta:     DispatchMeta{Handler: HandlerProducts, Intent: classify.IntentProductSpecific},
		followup: "product_suggest",
	}, nil
}

// slots fills the working set from this message's tags and the stored
// preferences, and lists what the category still needs.
func (p *pipeline) slots(t *turn) (map[string]any, []string) {
	filled := map[string]any{}
	pick := func(key string, tagged, stored []string) {
		if len(tagged) > 0 {
			filled[key] = tagged
		} else if len(stored) > 0 {
			filled[key] = stored
		}
	}
	pick("category", t.tags.Categories, t.prefs.Categories)
	var gender []string
	if t.prefs.Gender != "" {
		gender = []string{t.prefs.Gender}
	}
	pick("gender", t.tags.Genders, gender)
	pick("size", t.tags.Sizes, t.prefs.Sizes)
	pick("style", t.tags.Styles, t.prefs.Styles)
	pick("color", t.tags.Colors, t.prefs.Colors)
	if t.prefs.BudgetMin != nil || t.prefs.BudgetMax != nil {
		budget := map[string]any{}
		if t.prefs.BudgetMin != nil {
			budget["min"] = *t.prefs.BudgetMin
		}
		if t.prefs.BudgetMax != nil {
			budget["max"] = *t.prefs.BudgetMax
		}
		filled["budget"] = budget
	}

	var missing []string
	for _, f := range p.Classifier.RequiredFields(p.Classifier.CategoryOf(t.tags)) {
		if _, ok := filled[f]; !ok {
			missing = append(missing, f)
		}
	}
	return filled, missing
}

// slotQuestion asks for the missing fields. The alternate wording is used
// when the same fields were asked for last turn.
func (p *pipeline) slotQuestion(t *turn, missing []string) string {
	sr := p.Classifier.Rules().Replies.Slots
	labels := make([]string, 0, len(missing))
	for _, f := range missing {
		labels = append(labels, utils.FirstNonEmpty(sr.Labels[f], f))
	}
	var fields string
	switch len(labels) {
	case 0:
		return p.Classifier.Rules().Replies.AskIdentifier
	case 1:
		fields = labels[0]
	default:
		fields = strings.Join(labels[:len(labels)-1], "، ") + " و " + labels[len(labels)-1]
	}
	tmpl := sr.Question
	if t.state != nil && slices.Equal([]string(t.state.SlotsRequired), missing) && sr.QuestionAlt != "" {
		tmpl = sr.QuestionAlt
	}
	return strings.ReplaceAll(tmpl, "{fields}", fields)
}

func (p *pipeline) productMatch(ctx context.Context, t *turn) (*step, error) {
	wantsList := p.Classifier.WantsList(t.norm)
	if !isProductIntent(t.decision) && !wantsList && t.tags.Empty() {
		return nil, nil
	}
	r := p.Classifier.Rules().Replies
	t.stateIntent = models.StateIntentProductSearch

	matches, err := p.Matcher.Match(ctx, t.text, p.cfg.ContextLimit)
	if err != nil {
		return nil, err
	}
	products := productsOf(matches)
	plainList := wantsList && len(matches) == 0
	if plainList {
		if products, err = p.Matcher.Latest(ctx, p.cfg.ContextLimit, 0); err != nil {
			return nil, err
		}
	}
	products = RankByPreferences(products, t.prefs)
	t.products = products
	filled, missing := p.slots(t)
	t.slotsFilled = filled

	ids := make([]string, 0, len(products))
	for _, pr := range products {
		ids = append(ids, pr.ID)
	}
	p.event(ctx, t, models.EventProductMatched, map[string]any{
		"query":         utils.Truncate(t.text, maxQuestionRunes),
		"matched_count": len(products),
		"product_ids":   ids,
		"query_tags":    t.tags.Hits(),
		"plain_list":    plainList,
	})

	if len(products) == 0 {
		if !t.state.Selected().Empty() {
			return nil, nil
		}
		if t.decision.Intent == classify.IntentPrice {
			return textStep(r.AskIdentifier, HandlerProducts, t.decision.Intent), nil
		}
		return textStep(r.ProductNotFound, HandlerProducts, "product_not_found"), nil
	}

	confident := plainList
	if !confident {
		top := matches[0]
		confident = top.Score >= requiredScore(top.TokenCount) || (top.TokenCount == 0 && !t.tags.Empty())
	}
	if !confident {
		if len(missing) == 0 {
			return nil, nil
		}
		question := p.slotQuestion(t, missing)
		t.slotsRequired = missing
		p.Log.WithFields(t.fields()).WithField("missing", missing).Info("asking for product details")
		return textStep(question, HandlerProducts, "need_details"), nil
	}

	shown := append([]models.Product(nil), products[:min(len(products), p.cfg.MatchLimit)]...)
	if len(shown) == 1 || t.decision.Intent == classify.IntentProductSpecific {
		sel := models.SelectedFromProduct(&shown[0])
		t.selected = &sel
	}

	var extra *models.Product
	purchase := t.behavior != nil && slices.Contains(p.Classifier.Rules().Behavior.VIPPatterns, t.behavior.Pattern)
	if purchase && p.Profiles.CrossSellAllowed(t.user) {
		cs, err := p.Matcher.CrossSell(ctx, shown)
		if err != nil {
			p.Log.WithFields(t.fields()).WithError(err).Warn("cross-sell lookup failed")
		} else if cs != nil {
			extra = cs
			if err := p.Profiles.MarkCrossSell(ctx, t.user); err != nil {
				p.Log.WithFields(t.fields()).WithError(err).Warn("cross-sell mark failed")
			}
		}
	}

	list := shown
	if extra != nil {
		list = append(slices.Clone(shown), *extra)
	}
	plan, _ := p.Planner.ProductPlan(t.text, list)
	if plan.Type == models.PlanButton {
		p.withAlternative(ctx, t, &plan, shown[0])
		if extra != nil {
			appendLine(&plan, fillTitle(r.CrossSell, extra))
		}
	}
	if len(products) > len(shown) {
		appendLine(&plan, r.MoreHint)
	}
	if err := p.Profiles.RecordProducts(ctx, t.user, t.text, shown, len(shown), len(products)); err != nil {
		p.Log.WithFields(t.fields()).WithError(err).Warn("product list state not saved")
	}
	return &step{
		plan:     plan,
		meta:     DispatchMeta{Handler: HandlerProducts, Intent: "product_suggest"},
		followup: "product_suggest",
	}, nil
}
