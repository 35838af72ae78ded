package services

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/yoockh/dmcommerce/internal/classify"
	"github.com/yoockh/dmcommerce/internal/models"
	pgrepo "github.com/yoockh/dmcommerce/internal/repositories/postgres"
	"github.com/yoockh/dmcommerce/internal/rules"
	"github.com/yoockh/dmcommerce/internal/utils"

	"gorm.io/datatypes"
)

var (
	mobileRe  = regexp.MustCompile(`^09\d{9}$`)
	nonDigits = regexp.MustCompile(`\D`)
)

const minAddressRunes = 6

type OrderConfig struct {
	Enabled bool
	TTL     time.Duration
}

// OrderResult is one step of the order form.
type OrderResult struct {
	Plan models.OutboundPlan
	Step models.OrderStep
	Done bool
}

// OrderFlow collects name, phone, address and note over consecutive
// messages, keeping progress in the user's profile.
type OrderFlow struct {
	rules *rules.Set
	users pgrepo.UserRepository
	cfg   OrderConfig
	now   func() time.Time
}

func NewOrderFlow(cls *classify.Classifier, users pgrepo.UserRepository, cfg OrderConfig) *OrderFlow {
	return &OrderFlow{rules: cls.Rules(), users: users, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

// Active reports whether the user is in the middle of the form.
func (o *OrderFlow) Active(u *models.User) bool {
	if u == nil {
		return false
	}
	f := u.Profile.Data().OrderForm
	return f != nil && f.Status == models.OrderCollecting && !o.expired(f)
}

func (o *OrderFlow) expired(f *models.OrderForm) bool {
	if o.cfg.TTL <= 0 {
		return false
	}
	started := f.StartedAt
	if started.IsZero() {
		started = f.UpdatedAt
	}
	return !started.IsZero() && o.now().Sub(started) > o.cfg.TTL
}

// Handle advances the form for text. It returns nil when the message is not
// part of an order conversation.
func (o *OrderFlow) Handle(ctx context.Context, u *models.User, text string) (*OrderResult, error) {
	const op = "OrderFlow.Handle"

	if !o.cfg.Enabled || u == nil {
		return nil, nil
	}
	normalized := utils.NormalizeText(text)
	if normalized == "" {
		return nil, nil
	}

	kw := o.rules.Keywords
	replies := o.rules.Replies.Order
	profile := u.Profile.Data()
	form := profile.OrderForm

	if form != nil && o.expired(form) {
		profile.OrderForm = nil
		if err := o.save(ctx, u, profile); err != nil {
			return nil, utils.E(utils.CodeInternal, op, "failed to drop expired order form", err)
		}
		form = nil
	}
	collecting := form != nil && form.Status == models.OrderCollecting

	if utils.ContainsAny(normalized, kw.OrderCancel) && (collecting || isExactKeyword(normalized, kw.OrderCancel)) {
		if form != nil {
			profile.OrderForm = nil
			if err := o.save(ctx, u, profile); err != nil {
				return nil, utils.E(utils.CodeInternal, op, "failed to cancel order form", err)
			}
		}
		return &OrderResult{Plan: models.TextPlan(replies.Cancelled), Done: true}, nil
	}

	if collecting {
		res, changed := o.step(form, text, normalized)
		if changed {
			form.UpdatedAt = o.now()
			profile.OrderForm = form
			if err := o.save(ctx, u, profile); err != nil {
				return nil, utils.E(utils.CodeInternal, op, "failed to save order form", err)
			}
		}
		return res, nil
	}

	if o.isExplicitOrder(normalized) {
		now := o.now()
		profile.OrderForm = &models.OrderForm{
			Status: models.OrderCollecting, Step: models.OrderStepName,
			StartedAt: now, UpdatedAt: now,
		}
		if err := o.save(ctx, u, profile); err != nil {
			return nil, utils.E(utils.CodeInternal, op, "failed to start order form", err)
		}
		return &OrderResult{Plan: o.withCancel(replies.Start), Step: models.OrderStepName}, nil
	}
	return nil, nil
}

// step validates text for the current step and moves the form forward.
// changed is false when the input was rejected.
func (o *OrderFlow) step(form *models.OrderForm, text, normalized string) (*OrderResult, bool) {
	replies := o.rules.Replies.Order
	raw := strings.TrimSpace(text)

	switch form.Step {
	case models.OrderStepName:
		if !o.looksLikeName(raw) {
			return &OrderResult{Plan: o.withCancel(replies.NameRetry), Step: form.Step}, false
		}
		form.Data.Name = strings.Join(strings.Fields(raw), " ")
		form.Step = models.OrderStepPhone
		return &OrderResult{Plan: o.withCancel(replies.Phone), Step: form.Step}, true

	case models.OrderStepPhone:
		phone, ok := FormatMobile(normalized)
		if !ok {
			return &OrderResult{Plan: o.withCancel(replies.PhoneRetry), Step: form.Step}, false
		}
		form.Data.Phone = phone
		form.Step = models.OrderStepAddress
		return &OrderResult{Plan: o.withCancel(replies.Address), Step: form.Step}, true

	case models.OrderStepAddress:
		if utf8.RuneCountInString(normalized) < minAddressRunes {
			return &OrderResult{Plan: o.withCancel(replies.AddressRetry), Step: form.Step}, false
		}
		form.Data.Address = raw
		form.Step = models.OrderStepNote
		return &OrderResult{Plan: o.withCancel(replies.Note), Step: form.Step}, true
	}

	note := raw
	if isExactKeyword(normalized, o.rules.Keywords.OrderNoNote) {
		note = ""
	}
	now := o.now()
	form.Data.Note = note
	form.Status = models.OrderDone
	form.CompletedAt = &now
	return &OrderResult{Plan: models.TextPlan(o.summary(form.Data)), Step: models.OrderStepNote, Done: true}, true
}

func (o *OrderFlow) summary(d models.OrderData) string {
	r := o.rules.Replies.Order
	lines := []string{
		r.SummaryHeader,
		"- نام: " + d.Name,
		"- موبایل: " + d.Phone,
		"- آدرس: " + d.Address,
	}
	if d.Note != "" {
		lines = append(lines, "- توضیح: "+d.Note)
	}
	lines = append(lines, r.SummaryFooter)
	return strings.Join(lines, "\n")
}

func (o *OrderFlow) withCancel(text string) models.OutboundPlan {
	opt := o.rules.Replies.Order.CancelOption
	return models.OutboundPlan{
		Type:         models.PlanQuickReply,
		Text:         text,
		QuickReplies: []models.QuickReplyOption{{Title: opt, Payload: opt}},
	}
}

func (o *OrderFlow) isExplicitOrder(normalized string) bool {
	if isExactKeyword(normalized, o.rules.Keywords.OrderStart) {
		return true
	}
	return strings.HasPrefix(normalized, "ثبت سفارش") || strings.HasPrefix(normalized, "سفارش می")
}

// looksLikeName wants at least two words, no digits and no catalog words.
func (o *OrderFlow) looksLikeName(raw string) bool {
	cleaned := strings.Join(strings.Fields(raw), " ")
	if utf8.RuneCountInString(cleaned) < 3 || len(strings.Fields(cleaned)) < 2 {
		return false
	}
	for _, r := range cleaned {
		if unicode.IsDigit(r) {
			return false
		}
	}
	return !utils.ContainsAny(utils.NormalizeText(cleaned), o.rules.Keywords.OrderNotName)
}

func (o *OrderFlow) save(ctx context.Context, u *models.User, p models.UserProfile) error {
	u.Profile = datatypes.NewJSONType(p)
	return o.users.UpdateProfile(ctx, u.ID, p)
}

// FormatMobile normalizes an Iranian mobile number to 09xxxxxxxxx.
func FormatMobile(normalized string) (string, bool) {
	digits := nonDigits.ReplaceAllString(normalized, "")
	if strings.HasPrefix(digits, "98") {
		digits = "0" + digits[2:]
	}
	if !strings.HasPrefix(digits, "0") {
		digits = "0" + digits
	}
	if !mobileRe.MatchString(digits) {
		return "", false
	}
	return digits, true
}

func isExactKeyword(normalized string, keywords []string) bool {
	for _, k := range keywords {
		if normalized == utils.NormalizeText(k) {
			return true
		}
	}
	return false
}
