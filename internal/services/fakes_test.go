package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yoockh/dmcommerce/internal/models"
	"github.com/yoockh/dmcommerce/internal/providers/channel"
	"github.com/yoockh/dmcommerce/internal/providers/llm"
	pgrepo "github.com/yoockh/dmcommerce/internal/repositories/postgres"
	"github.com/yoockh/dmcommerce/internal/utils"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type fakeStates struct {
	mu   sync.Mutex
	rows map[string]models.ConversationState
}

func newFakeStates() *fakeStates { return &fakeStates{rows: map[string]models.ConversationState{}} }

func (f *fakeStates) Get(_ context.Context, id string) (*models.ConversationState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return nil, utils.ErrNotFound
	}
	return &row, nil
}

func (f *fakeStates) Insert(_ context.Context, s *models.ConversationState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[s.ConversationID]; !ok {
		f.rows[s.ConversationID] = *s
	}
	return nil
}

func (f *fakeStates) Save(_ context.Context, s *models.ConversationState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[s.ConversationID] = *s
	return nil
}

type fakeUsers struct {
	mu   sync.Mutex
	rows map[string]*models.User
}

func newFakeUsers() *fakeUsers { return &fakeUsers{rows: map[string]*models.User{}} }

func (f *fakeUsers) add(u *models.User) *models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	f.rows[u.ID] = u
	return u
}

func (f *fakeUsers) GetOrCreate(_ context.Context, externalID string) (*models.User, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.rows {
		if u.ExternalID == externalID {
			cp := *u
			return &cp, false, nil
		}
	}
	u := &models.User{ID: uuid.NewString(), ExternalID: externalID, Profile: datatypes.NewJSONType(models.UserProfile{})}
	f.rows[u.ID] = u
	cp := *u
	return &cp, true, nil
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.rows[id]
	if !ok {
		return nil, utils.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) UpdateProfile(_ context.Context, id string, p models.UserProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.rows[id]
	if !ok {
		return utils.ErrNotFound
	}
	u.Profile = datatypes.NewJSONType(p)
	return nil
}

func (f *fakeUsers) UpdateEnrichment(_ context.Context, id string, e pgrepo.Enrichment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.rows[id]
	if !ok {
		return utils.ErrNotFound
	}
	if e.Username != nil {
		u.Username = *e.Username
	}
	if e.FollowStatus != nil {
		u.FollowStatus = *e.FollowStatus
	}
	if e.FollowerCount != nil {
		u.FollowerCount = e.FollowerCount
	}
	return nil
}

func (f *fakeUsers) SetVIP(_ context.Context, id string, score int, vip bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.rows[id]
	if !ok {
		return utils.ErrNotFound
	}
	u.VIPScore = score
	u.IsVIP = vip
	return nil
}

func (f *fakeUsers) profile(id string) models.UserProfile {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[id].Profile.Data()
}

type fakeConversations struct {
	mu   sync.Mutex
	rows map[string]*models.Conversation
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{rows: map[string]*models.Conversation{}}
}

func (f *fakeConversations) add(c *models.Conversation) *models.Conversation {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = models.ConversationOpen
	}
	f.rows[c.ID] = c
	return c
}

func (f *fakeConversations) GetByID(_ context.Context, id string) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.rows[id]
	if !ok {
		return nil, utils.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeConversations) FindOpenByUser(_ context.Context, userID string) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.rows {
		if c.UserID == userID && c.Status == models.ConversationOpen {
			cp := *c
			return &cp, nil
		}
	}
	return nil, utils.ErrNotFound
}

func (f *fakeConversations) Create(_ context.Context, c *models.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *c
	f.rows[c.ID] = &cp
	return nil
}

func (f *fakeConversations) TouchUser(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.rows[id]; ok && (c.LastUserMessageAt == nil || at.After(*c.LastUserMessageAt)) {
		c.LastUserMessageAt = &at
	}
	return nil
}

func (f *fakeConversations) TouchBot(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.rows[id]; ok {
		c.LastBotMessageAt = &at
	}
	return nil
}

type fakeMessages struct {
	mu   sync.Mutex
	rows []models.Message
}

func (f *fakeMessages) Insert(_ context.Context, m *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC().Add(time.Duration(len(f.rows)) * time.Millisecond)
	}
	f.rows = append(f.rows, *m)
	return nil
}

func (f *fakeMessages) Recent(_ context.Context, conversationID string, limit int) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Message
	for _, m := range f.rows {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeMessages) LastByRole(_ context.Context, conversationID string, role models.MessageRole) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.rows) - 1; i >= 0; i-- {
		m := f.rows[i]
		if m.ConversationID == conversationID && m.Role == role {
			return &m, nil
		}
	}
	return nil, utils.ErrNotFound
}

func (f *fakeMessages) CountByRole(_ context.Context, conversationID string, role models.MessageRole) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, m := range f.rows {
		if m.ConversationID == conversationID && m.Role == role && m.Type != models.MessageRead {
			n++
		}
	}
	return n, nil
}

func (f *fakeMessages) byRole(role models.MessageRole) []models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Message
	for _, m := range f.rows {
		if m.Role == role {
			out = append(out, m)
		}
	}
	return out
}

// fakeProducts mimics the ILIKE candidate query in memory.
type fakeProducts struct {
	rows    []models.Product
	similar map[string][]models.Product
}

func (f *fakeProducts) sorted() []models.Product {
	out := append([]models.Product(nil), f.rows...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

func (f *fakeProducts) Candidates(_ context.Context, tokens []string, limit int) ([]models.Product, error) {
	var out []models.Product
	for _, p := range f.sorted() {
		hay := strings.ToLower(strings.Join([]string{p.Slug, p.Title, p.Description, p.ProductID}, " "))
		for _, t := range tokens {
			if strings.Contains(hay, strings.ToLower(t)) {
				out = append(out, p)
				break
			}
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeProducts) GetByID(_ context.Context, id string) (*models.Product, error) {
	for _, p := range f.rows {
		if p.ID == id {
			cp := p
			return &cp, nil
		}
	}
	return nil, utils.ErrNotFound
}

func (f *fakeProducts) FindBySlugOrURL(_ context.Context, slug, pageURL string) (*models.Product, error) {
	for _, p := range f.sorted() {
		if (slug != "" && p.Slug == slug) || (pageURL != "" && p.PageURL == pageURL) {
			cp := p
			return &cp, nil
		}
	}
	return nil, utils.ErrNotFound
}

func (f *fakeProducts) Latest(_ context.Context, limit, offset int) ([]models.Product, error) {
	all := f.sorted()
	if offset >= len(all) {
		return nil, nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], nil
}

func (f *fakeProducts) Count(context.Context) (int64, error) { return int64(len(f.rows)), nil }

func (f *fakeProducts) InStockMatching(_ context.Context, terms []string, excludeIDs []string, limit int) ([]models.Product, error) {
	skip := map[string]bool{}
	for _, id := range excludeIDs {
		skip[id] = true
	}
	var out []models.Product
	for _, p := range f.sorted() {
		if skip[p.ID] || p.Availability != models.InStock {
			continue
		}
		for _, t := range terms {
			if strings.Contains(p.Title, t) || strings.Contains(p.Slug, t) {
				out = append(out, p)
				break
			}
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeProducts) Similar(_ context.Context, id string, limit int) ([]models.Product, error) {
	out := f.similar[id]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeFollowups struct {
	mu   sync.Mutex
	rows map[string]*models.FollowupTask
}

func newFakeFollowups() *fakeFollowups { return &fakeFollowups{rows: map[string]*models.FollowupTask{}} }

func (f *fakeFollowups) Create(_ context.Context, t *models.FollowupTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *t
	f.rows[t.ID] = &cp
	return nil
}

func (f *fakeFollowups) HasScheduled(_ context.Context, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.rows {
		if t.UserID == userID && t.Status == models.FollowupScheduled {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeFollowups) CancelScheduled(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, t := range f.rows {
		if t.UserID == userID && t.Status == models.FollowupScheduled {
			t.Status = models.FollowupCancelled
			t.Reason = "user_activity"
			n++
		}
	}
	return n, nil
}

func (f *fakeFollowups) ClaimDue(_ context.Context, now time.Time, lease time.Duration, limit int) ([]models.FollowupTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.FollowupTask
	for _, t := range f.rows {
		if t.Status == models.FollowupScheduled && !t.ScheduledFor.After(now) {
			out = append(out, *t)
			t.ScheduledFor = now.Add(lease)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeFollowups) MarkStatus(_ context.Context, id string, status models.FollowupStatus, sentAt *time.Time, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.rows[id]
	if !ok {
		return utils.ErrNotFound
	}
	t.Status = status
	t.SentAt = sentAt
	t.Reason = reason
	return nil
}

func (f *fakeFollowups) all() []models.FollowupTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.FollowupTask
	for _, t := range f.rows {
		out = append(out, *t)
	}
	return out
}

type fakeTickets struct {
	mu   sync.Mutex
	rows []*models.SupportTicket
}

func (f *fakeTickets) FindOpen(_ context.Context, conversationID string) (*models.SupportTicket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.rows) - 1; i >= 0; i-- {
		t := f.rows[i]
		if t.ConversationID == conversationID && t.Status != models.TicketClosed {
			cp := *t
			return &cp, nil
		}
	}
	return nil, utils.ErrNotFound
}

func (f *fakeTickets) Create(_ context.Context, t *models.SupportTicket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *t
	f.rows = append(f.rows, &cp)
	return nil
}

func (f *fakeTickets) UpdateLastMessage(_ context.Context, id, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.rows {
		if t.ID == id {
			t.LastMessage = msg
			return nil
		}
	}
	return utils.ErrNotFound
}

type fakeUsage struct {
	mu   sync.Mutex
	rows []models.Usage
}

func (f *fakeUsage) Insert(_ context.Context, u *models.Usage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, *u)
	return nil
}

type fakeKnowledge struct {
	faqs      []models.Faq
	campaigns []models.Campaign
	settings  *models.BotSettings
	err       error
}

func (f *fakeKnowledge) VerifiedFaqs(context.Context, int) ([]models.Faq, error) {
	return f.faqs, f.err
}

func (f *fakeKnowledge) ActiveCampaigns(context.Context, time.Time, int) ([]models.Campaign, error) {
	return f.campaigns, f.err
}

func (f *fakeKnowledge) ActiveSettings(context.Context) (*models.BotSettings, error) {
	if f.settings == nil {
		return nil, utils.ErrNotFound
	}
	return f.settings, nil
}

type fakeBehavior struct {
	mu   sync.Mutex
	rows map[string]models.BehaviorProfile
}

func newFakeBehavior() *fakeBehavior {
	return &fakeBehavior{rows: map[string]models.BehaviorProfile{}}
}

func (f *fakeBehavior) Get(_ context.Context, userID string) (*models.BehaviorProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[userID]
	if !ok {
		return nil, utils.ErrNotFound
	}
	return &p, nil
}

func (f *fakeBehavior) Upsert(_ context.Context, p *models.BehaviorProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[p.UserID] = *p
	return nil
}

type fakeEvents struct {
	mu   sync.Mutex
	rows []models.Event
}

func (f *fakeEvents) Insert(_ context.Context, e *models.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	f.rows = append(f.rows, *e)
	return nil
}

func (f *fakeEvents) LastOfType(_ context.Context, conversationID, eventType string) (*models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.rows) - 1; i >= 0; i-- {
		e := f.rows[i]
		if e.ConversationID == conversationID && e.Type == eventType {
			return &e, nil
		}
	}
	return nil, utils.ErrNotFound
}

func (f *fakeEvents) Recent(_ context.Context, conversationID, eventType string, limit int64) ([]models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Event
	for i := len(f.rows) - 1; i >= 0 && int64(len(out)) < limit; i-- {
		e := f.rows[i]
		if e.ConversationID == conversationID && e.Type == eventType {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeEvents) ofType(eventType string) []models.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Event
	for _, e := range f.rows {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type sentPlan struct {
	Receiver string
	Plan     models.OutboundPlan
}

// fakeSender fails the first failN sends.
type fakeSender struct {
	mu    sync.Mutex
	failN int
	sent  []sentPlan
	calls int
}

func (f *fakeSender) Send(_ context.Context, receiverID string, plan models.OutboundPlan) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failN {
		return "", &channel.SendError{Path: "/send/" + string(plan.Type), StatusCode: 500}
	}
	f.sent = append(f.sent, sentPlan{Receiver: receiverID, Plan: plan})
	return "mid-" + receiverID, nil
}

func (f *fakeSender) Sent() []sentPlan {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentPlan(nil), f.sent...)
}

func (f *fakeSender) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeProvider answers with text, or fails with err.
type fakeProvider struct {
	mu    sync.Mutex
	name  string
	text  string
	err   error
	calls int
	last  []llm.Message
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Generate(_ context.Context, msgs []llm.Message, _ llm.Params) (llm.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = msgs
	if f.err != nil {
		return llm.Result{}, f.err
	}
	return llm.Result{Provider: f.name, Model: f.name + "-model", Text: f.text, TokensIn: 10, TokensOut: 5}, nil
}

func (f *fakeProvider) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func i64(v int64) *int64 { return &v }

type fakeUserClient struct {
	username  *string
	follow    *string
	followers *int64
	err       error
	delay     time.Duration
}

func (f *fakeUserClient) wait(ctx context.Context) error {
	if f.delay == 0 {
		return nil
	}
	select {
	case <-time.After(f.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeUserClient) Username(ctx context.Context, _ string) (*string, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return f.username, nil
}

func (f *fakeUserClient) FollowStatus(ctx context.Context, _ string) (*string, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return f.follow, f.err
}

func (f *fakeUserClient) FollowerCount(ctx context.Context, _ string) (*int64, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return f.followers, nil
}

func strPtr(s string) *string { return &s }
