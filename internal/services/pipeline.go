package services

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/yoockh/dmcommerce/internal/cache"
	"github.com/yoockh/dmcommerce/internal/classify"
	"github.com/yoockh/dmcommerce/internal/metrics"
	"github.com/yoockh/dmcommerce/internal/models"
	mongorepo "github.com/yoockh/dmcommerce/internal/repositories/mongo"
	pgrepo "github.com/yoockh/dmcommerce/internal/repositories/postgres"
	"github.com/yoockh/dmcommerce/internal/utils"

	"github.com/sirupsen/logrus"
)

// Pipeline outcomes.
const (
	OutcomeDropped   = "dropped"
	OutcomeDuplicate = "duplicate"
	OutcomeStored    = "stored"
	OutcomeReplied   = "replied"
	OutcomeFailed    = "failed"
)

const (
	inboundDedupeTTL = 10 * time.Minute
	faqLookupLimit   = 30
)

// ticketPatterns are behavior patterns that open a support ticket even when
// the router did not label the message a complaint.
var ticketPatterns = []string{"complaint"}

// Outcome is what one inbound event turned into.
type Outcome struct {
	Status   string
	Handler  string
	Intent   string
	Dispatch *DispatchResult
}

type PipelineConfig struct {
	MatchLimit   int
	ContextLimit int
}

// PipelineDeps wires every collaborator the pipeline calls. Media, Cache and
// Events may be nil.
type PipelineDeps struct {
	Classifier    *classify.Classifier
	Planner       *Planner
	Guardrail     *Guardrail
	OrderFlow     *OrderFlow
	Users         UserService
	Conversations ConversationService
	State         StateService
	Profiles      ProfileService
	Behavior      BehaviorService
	Media         MediaService
	Matcher       ProductMatcher
	Context       ContextBuilder
	Router        ModelRouter
	Dispatcher    Dispatcher
	Followups     FollowupService
	Tickets       TicketService
	Knowledge     pgrepo.KnowledgeRepository
	Events        mongorepo.EventRepository
	Cache         cache.Cache
	Metrics       *metrics.Metrics
	Log           *logrus.Logger
}

// Pipeline turns one webhook payload into at most one reply.
type Pipeline interface {
	// Handle never panics and never returns an error; failures are logged
	// and reported in the outcome.
	Handle(ctx context.Context, raw []byte) Outcome
}

type pipeline struct {
	PipelineDeps
	cfg PipelineConfig
}

func NewPipeline(deps PipelineDeps, cfg PipelineConfig) Pipeline {
	if cfg.MatchLimit <= 0 {
		cfg.MatchLimit = 5
	}
	if cfg.ContextLimit < cfg.MatchLimit {
		cfg.ContextLimit = max(8, cfg.MatchLimit)
	}
	return &pipeline{PipelineDeps: deps, cfg: cfg}
}

// step is a decided reply. followup names the reason to schedule a
// re-engagement task once the reply is delivered.
type step struct {
	plan     models.OutboundPlan
	meta     DispatchMeta
	followup string
}

func textStep(text, handler, intent string) *step {
	return &step{plan: models.TextPlan(text), meta: DispatchMeta{Handler: handler, Intent: intent}}
}

// turn carries what the pipeline learned about one inbound message.
type turn struct {
	ev       *InboundEvent
	user     *models.User
	conv     *models.Conversation
	msg      *models.Message
	text     string
	norm     string
	first    bool
	decision classify.Decision
	behavior *classify.BehaviorMatch
	state    *models.ConversationState
	settings *models.BotSettings
	tags     classify.Tags
	prefs    models.Preferences

	// working set written to the conversation state before the reply
	stateIntent   string
	slotsRequired []string
	slotsFilled   map[string]any
	selected      *models.SelectedProduct
	stateSaved    bool

	// grounded catalog candidates handed to the model
	products []models.Product
}

func (t *turn) fields() logrus.Fields {
	return logrus.Fields{
		"conversation_id": t.conv.ID,
		"user_id":         t.user.ID,
		"intent":          t.decision.Intent,
	}
}

func (p *pipeline) Handle(ctx context.Context, raw []byte) (out Outcome) {
	start := time.Now()
	defer p.Metrics.ObservePipeline(start)
	defer func() {
		if r := recover(); r != nil {
			p.Log.WithFields(logrus.Fields{
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			}).Error("pipeline panic recovered")
			out = Outcome{Status: OutcomeFailed}
		}
	}()

	ev, err := DecodeWebhook(raw)
	if err != nil {
		p.Log.WithError(err).Warn("inbound event dropped")
		return Outcome{Status: OutcomeDropped}
	}
	out, err = p.process(ctx, ev)
	if err != nil {
		p.Log.WithFields(logrus.Fields{
			"sender_id":  ev.SenderID,
			"message_id": ev.MessageID,
		}).WithError(err).Error("inbound event failed")
		out.Status = OutcomeFailed
	}
	return out
}

// claim reports whether this delivery is the first for the platform
// message id. Cache errors let the event through.
func (p *pipeline) claim(ctx context.Context, ev *InboundEvent) bool {
	if p.Cache == nil || ev.MessageID == "" || ev.Type == models.MessageRead {
		return true
	}
	ok, err := p.Cache.Claim(ctx, "inbound:"+ev.MessageID, inboundDedupeTTL)
	if err != nil {
		p.Log.WithError(err).Warn("inbound dedupe unavailable")
		return true
	}
	return ok
}

func (p *pipeline) process(ctx context.Context, ev *InboundEvent) (Outcome, error) {
	p.Metrics.Inbound(string(ev.Type))
	if !p.claim(ctx, ev) {
		p.Log.WithField("message_id", ev.MessageID).Info("duplicate delivery skipped")
		return Outcome{Status: OutcomeDuplicate}, nil
	}

	user, _, err := p.Users.Resolve(ctx, ev.SenderID)
	if err != nil {
		return Outcome{}, err
	}
	active := !ev.IsAdmin && ev.Type != models.MessageRead
	if active {
		p.Users.Enrich(ctx, user)
	}

	conv, err := p.Conversations.Open(ctx, user.ID)
	if err != nil {
		return Outcome{}, err
	}
	msg, err := p.Conversations.RecordInbound(ctx, conv, ev)
	if err != nil {
		return Outcome{}, err
	}
	if !active {
		return Outcome{Status: OutcomeStored}, nil
	}
	if _, err := p.Followups.Cancel(ctx, user.ID); err != nil {
		p.Log.WithField("user_id", user.ID).WithError(err).Warn("followup cancel failed")
	}

	t := &turn{ev: ev, user: user, conv: conv, msg: msg, text: strings.TrimSpace(ev.Text)}
	if p.Media != nil && (ev.MediaURL != "" || ev.AudioURL != "") {
		if res := p.Media.Process(ctx, conv.ID, msg.ID, ev); res.Transcript != "" {
			t.text = res.Transcript
		}
	}
	t.norm = utils.NormalizeText(t.text)

	if t.first, err = p.Conversations.IsFirstMessage(ctx, conv.ID); err != nil {
		p.Log.WithFields(t.fields()).WithError(err).Warn("first message check failed")
	}
	if t.state, err = p.State.GetOrCreate(ctx, conv.ID); err != nil {
		return Outcome{}, err
	}

	if t.norm == "" {
		plan, key, _ := p.Planner.RulePlan(ev.Type, "", t.first)
		handler := HandlerFallback
		if key == HandlerMenu {
			handler = HandlerMenu
		}
		return p.reply(ctx, t, &step{plan: plan, meta: DispatchMeta{Handler: handler, Intent: key}})
	}

	if t.behavior, err = p.Behavior.Observe(ctx, user, conv.ID, t.text); err != nil {
		p.Log.WithFields(t.fields()).WithError(err).Warn("behavior tracking failed")
	}
	t.decision = p.Classifier.Route(t.text)
	t.tags = p.Classifier.InferTags(t.norm)
	t.prefs = user.Profile.Data().Prefs
	t.settings = p.activeSettings(ctx)
	p.Metrics.Intent(t.decision.Intent)

	steps := []func(context.Context, *turn) (*step, error){
		p.activeOrder,
		p.smalltalk,
		p.storeInfo,
		p.repeat,
		p.continueList,
		p.learnPreferences,
		p.orderForm,
		p.supportTicket,
		p.productLink,
		p.productFromURL,
		p.productMatch,
		p.faq,
		p.rulePlan,
		p.lowSignal,
	}
	for _, fn := range steps {
		s, err := fn(ctx, t)
		if err != nil {
			p.Log.WithFields(t.fields()).WithError(err).Warn("pipeline step failed")
			continue
		}
		if s != nil {
			return p.reply(ctx, t, s)
		}
	}
	return p.reply(ctx, t, p.generate(ctx, t))
}

func (p *pipeline) activeSettings(ctx context.Context) *models.BotSettings {
	if p.Knowledge == nil {
		return nil
	}
	s, err := p.Knowledge.ActiveSettings(ctx)
	if err != nil {
		if !errors.Is(err, utils.ErrNotFound) {
			p.Log.WithError(err).Warn("bot settings unavailable")
		}
		return nil
	}
	return s
}

func stateIntentFor(d classify.Decision) string {
	switch d.Intent {
	case classify.IntentStoreInfo, classify.IntentAmbiguousStoreProduct:
		return models.StateIntentStoreInfo
	case classify.IntentComplaint:
		return models.StateIntentSupport
	case classify.IntentProductDiscovery, classify.IntentProductSpecific, classify.IntentPrice,
		classify.IntentProductLink, classify.IntentOrder, classify.IntentCampaign:
		return models.StateIntentProductSearch
	}
	return models.StateIntentUnknown
}

func (p *pipeline) saveState(ctx context.Context, t *turn) {
	if t.stateSaved {
		return
	}
	t.stateSaved = true
	intent := t.stateIntent
	if intent == "" {
		intent = stateIntentFor(t.decision)
	}
	st, err := p.State.Update(ctx, StateUpdate{
		ConversationID:    t.conv.ID,
		Intent:            intent,
		Category:          t.decision.Category,
		SlotsRequired:     t.slotsRequired,
		SlotsFilled:       t.slotsFilled,
		LastQuestion:      t.text,
		LastUserMessageID: t.msg.ID,
		Selected:          t.selected,
	})
	if err != nil {
		p.Log.WithFields(t.fields()).WithError(err).Warn("state update failed")
		return
	}
	t.state = st
}

func (p *pipeline) reply(ctx context.Context, t *turn, s *step) (Outcome, error) {
	if s.meta.Handler != HandlerLLM {
		p.Metrics.ShortCircuit(s.meta.Handler)
	}
	s.meta.UserID = t.user.ID
	p.saveState(ctx, t)

	res, err := p.Dispatcher.Dispatch(ctx, t.conv.ID, t.ev.SenderID, s.plan, s.meta)
	out := Outcome{Status: OutcomeReplied, Handler: s.meta.Handler, Intent: s.meta.Intent, Dispatch: res}
	if err != nil {
		return out, err
	}

	reason := s.followup
	if reason == "" && t.behavior != nil && slices.Contains(p.Classifier.Rules().Behavior.FollowupPatterns, t.behavior.Pattern) {
		reason = "behavior:" + t.behavior.Pattern
	}
	if reason != "" && res.Delivered() {
		if _, err := p.Followups.Schedule(ctx, t.user, t.conv.ID, reason); err != nil {
			p.Log.WithFields(t.fields()).WithError(err).Warn("followup schedule failed")
		}
	}
	return out, nil
}

func (p *pipeline) event(ctx context.Context, t *turn, eventType string, data map[string]any) {
	if p.Events == nil {
		return
	}
	if err := p.Events.Insert(ctx, &models.Event{
		Type: eventType, Level: "info",
		ConversationID: t.conv.ID, UserID: t.user.ID, Data: data,
	}); err != nil {
		p.Log.WithField("event_type", eventType).WithError(err).Warn("event insert failed")
	}
}

func (p *pipeline) activeOrder(ctx context.Context, t *turn) (*step, error) {
	if p.OrderFlow == nil || !p.OrderFlow.Active(t.user) {
		return nil, nil
	}
	return p.orderForm(ctx, t)
}

func (p *pipeline) orderForm(ctx context.Context, t *turn) (*step, error) {
	if p.OrderFlow == nil {
		return nil, nil
	}
	res, err := p.OrderFlow.Handle(ctx, t.user, t.text)
	if err != nil || res == nil {
		return nil, err
	}
	t.stateIntent = models.StateIntentOrderFlow
	s := &step{plan: res.Plan, meta: DispatchMeta{Handler: HandlerOrder, Intent: classify.IntentOrder}}
	if !res.Done {
		s.followup = "order_flow"
	}
	return s, nil
}

func (p *pipeline) smalltalk(_ context.Context, t *turn) (*step, error) {
	if t.decision.Intent != classify.IntentSmalltalk {
		return nil, nil
	}
	r := p.Classifier.Rules().Replies
	n := len(utils.Words(t.norm))
	switch {
	case p.Classifier.IsThanks(t.norm) && n <= 4:
		return textStep(r.Thanks, HandlerSmall, "thanks"), nil
	case p.Classifier.IsDecline(t.norm) && n <= 6:
		return textStep(r.Decline, HandlerSmall, "decline"), nil
	case p.Classifier.IsGoodbye(t.norm) && n <= 4:
		return textStep(r.Goodbye, HandlerSmall, "goodbye"), nil
	case p.Classifier.IsGreeting(t.norm) && t.first && n <= 3:
		return &step{plan: p.Planner.MenuPlan(), meta: DispatchMeta{Handler: HandlerMenu, Intent: HandlerMenu}}, nil
	}
	return nil, nil
}

func (p *pipeline) storeInfo(_ context.Context, t *turn) (*step, error) {
	switch t.decision.Intent {
	case classify.IntentStoreInfo:
		plan, ok := p.Planner.StoreTopicPlan(t.decision.StoreTopic)
		if !ok {
			return nil, nil
		}
		return &step{plan: plan, meta: DispatchMeta{
			Handler: HandlerStore, Intent: classify.IntentStoreInfo, StoreTopic: t.decision.StoreTopic,
		}}, nil
	case classify.IntentAmbiguousStoreProduct:
		return textStep(p.Classifier.Rules().Replies.StoreClarify, HandlerStore, t.decision.Intent), nil
	}
	return nil, nil
}

// repeat serves "say that again" from what was already sent: the last store
// topic, the cached answer of the last action, then the last reply.
func (p *pipeline) repeat(ctx context.Context, t *turn) (*step, error) {
	if !p.Classifier.WantsRepeat(t.norm) {
		return nil, nil
	}
	key := t.state.LastBotAction
	meta := DispatchMeta{Handler: HandlerRepeat}
	if topic, ok := strings.CutPrefix(key, classify.IntentStoreInfo+":"); ok {
		if plan, ok := p.Planner.StoreTopicPlan(topic); ok {
			return &step{plan: plan, meta: meta}, nil
		}
	}
	if cached := t.state.Answers()[key]; strings.TrimSpace(cached) != "" {
		return &step{plan: p.Planner.PlanFromText(cached), meta: meta}, nil
	}
	last, err := p.Conversations.LastAssistantText(ctx, t.conv.ID)
	if err != nil || last == "" {
		return nil, err
	}
	return &step{plan: models.TextPlan(last), meta: meta}, nil
}

func (p *pipeline) learnPreferences(ctx context.Context, t *turn) (*step, error) {
	prefs, err := p.Profiles.LearnPreferences(ctx, t.user, t.text)
	if err != nil {
		return nil, err
	}
	t.prefs = prefs
	return nil, nil
}

func (p *pipeline) supportTicket(ctx context.Context, t *turn) (*step, error) {
	byPattern := t.behavior != nil && slices.Contains(ticketPatterns, t.behavior.Pattern)
	if t.decision.Intent != classify.IntentComplaint && !byPattern {
		return nil, nil
	}
	tk, err := p.Tickets.Open(ctx, t.user.ID, t.conv.ID, complaintSummary, t.text)
	if err != nil {
		return nil, err
	}
	p.event(ctx, t, models.EventTicketCreated, map[string]any{"ticket_id": tk.ID, "reason": "complaint"})
	t.stateIntent = models.StateIntentSupport
	return textStep(p.Classifier.Rules().Replies.TicketOpened, HandlerTicket, classify.IntentComplaint), nil
}

func (p *pipeline) faq(ctx context.Context, t *turn) (*step, error) {
	if p.Knowledge == nil {
		return nil, nil
	}
	faqs, err := p.Knowledge.VerifiedFaqs(ctx, faqLookupLimit)
	if err != nil {
		return nil, err
	}
	answer, ok := MatchFaq(t.text, faqs)
	if !ok {
		return nil, nil
	}
	return &step{plan: p.Planner.PlanFromText(answer), meta: DispatchMeta{Handler: HandlerFaq, Intent: "faq"}}, nil
}

func (p *pipeline) rulePlan(_ context.Context, t *turn) (*step, error) {
	plan, key, ok := p.Planner.RulePlan(t.ev.Type, t.text, t.first)
	if !ok {
		return nil, nil
	}
	handler := HandlerRule
	if key == HandlerMenu {
		handler = HandlerMenu
	}
	return &step{plan: plan, meta: DispatchMeta{Handler: handler, Intent: key}}, nil
}

// lowSignal answers one-word messages nothing else understood.
func (p *pipeline) lowSignal(_ context.Context, t *turn) (*step, error) {
	if t.decision.Intent != classify.IntentUnknown || !t.tags.Empty() || len(utils.Words(t.norm)) > 1 {
		return nil, nil
	}
	return textStep(p.Planner.FallbackFor(t.ev.Type), HandlerFallback, "low_signal"), nil
}

func (p *pipeline) fallbackText(t *turn) string {
	if t.settings != nil && strings.TrimSpace(t.settings.FallbackText) != "" {
		return t.settings.FallbackText
	}
	return p.Classifier.Rules().Replies.FallbackLLM
}

func (p *pipeline) notes(t *turn) []string {
	var notes []string
	if len(t.slotsRequired) > 0 {
		notes = append(notes, "[NEED_DETAILS]\n"+p.slotQuestion(t, t.slotsRequired))
	}
	if isProductIntent(t.decision) && len(t.products) == 0 && t.state.Selected().Empty() {
		notes = append(notes, "[NO_PRODUCT_MATCH]\n"+p.Classifier.Rules().Replies.AskIdentifier)
	}
	return notes
}

// generate asks the model, validates the answer and plans it. Loop
// escalation is checked first so a stuck conversation goes to an operator
// instead of another generated reply.
func (p *pipeline) generate(ctx context.Context, t *turn) *step {
	p.saveState(ctx, t)
	r := p.Classifier.Rules().Replies
	lg := p.Log.WithFields(t.fields())

	tk, err := p.Tickets.EscalateLoop(ctx, t.state, t.user.ID, t.text)
	if err != nil {
		lg.WithError(err).Warn("loop escalation check failed")
	}
	if tk != nil {
		return textStep(r.Escalated, HandlerTicket, "escalated")
	}

	fallback := textStep(p.fallbackText(t), HandlerFallback, t.decision.Intent)
	bundle, err := p.Context.Build(ctx, ContextInput{
		User:              t.user,
		State:             t.state,
		Settings:          t.settings,
		ConversationID:    t.conv.ID,
		Text:              t.text,
		Products:          t.products,
		Notes:             p.notes(t),
		AllowProductCards: len(t.products) > 1,
	})
	if err != nil {
		lg.WithError(err).Warn("context build failed")
		return fallback
	}

	mode := ""
	if t.settings != nil {
		mode = t.settings.AIMode
	}
	res, err := p.Router.GenerateWithFallback(ctx, p.Router.Choose(t.text, mode), bundle.Messages, t.conv.ID)
	if err != nil {
		lg.WithError(err).Error("generation failed, sending fallback")
		return fallback
	}

	show, text := SplitShowProducts(res.Text)
	last, err := p.Conversations.LastAssistantText(ctx, t.conv.ID)
	if err != nil {
		lg.WithError(err).Warn("last reply lookup failed")
	}
	maxChars := 0
	if t.settings != nil {
		maxChars = t.settings.MaxOutputChars
	}
	out, reasons := p.Guardrail.ValidateOrRewrite(GuardInput{
		UserText:          t.text,
		Reply:             text,
		Selected:          t.state.Selected(),
		Products:          t.products,
		StoreIntent:       stateIntentFor(t.decision) == models.StateIntentStoreInfo,
		ProductIntent:     isProductIntent(t.decision),
		SlotTemplatesOff:  len(t.slotsRequired) == 0 && !isProductIntent(t.decision),
		NoQuestions:       p.Classifier.IsThanks(t.norm) || p.Classifier.IsGoodbye(t.norm),
		LastAssistantText: last,
		FallbackText:      p.fallbackText(t),
		MaxChars:          maxChars,
	})
	if len(reasons) > 0 {
		p.Metrics.GuardrailRewrite(reasons)
		p.event(ctx, t, models.EventGuardrailRewrite, map[string]any{
			"reasons":  reasons,
			"provider": res.Provider,
			"original": utils.Truncate(text, maxAnswerRunes),
		})
		lg.WithField("reasons", reasons).Info("model reply rewritten")
	}

	plan := p.Planner.PlanFromText(out)
	if show && len(reasons) == 0 && len(t.products) > 1 {
		if cards, ok := p.Planner.ProductPlan("", t.products); ok {
			plan = cards
		}
	}
	return &step{plan: plan, meta: DispatchMeta{Handler: HandlerLLM, Intent: t.decision.Intent, Raw: text}}
}
