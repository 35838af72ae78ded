package services

import (
	"strings"
	"testing"

	"github.com/yoockh/dmcommerce/internal/models"
	"github.com/yoockh/dmcommerce/internal/rules"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGuardrail() *Guardrail {
	return NewGuardrail(testClassifier(), GuardConfig{MaxChars: 800, MaxSentences: 3, MaxEmojis: 1})
}

func TestGuardrailRewriteRules(t *testing.T) {
	g := newTestGuardrail()
	r := rules.Default().Replies
	rows := catalogFixture().rows
	selected := models.SelectedFromProduct(&rows[0])

	tests := []struct {
		name   string
		in     GuardInput
		want   string
		reason string
	}{
		{
			name:   "link request with selection",
			in:     GuardInput{UserText: "لینکش رو بفرست", Reply: "حتما", Selected: selected},
			want:   "لینک کفش نایک ایر مکس: https://ghlbedovom.com/product/nike-air-max/",
			reason: ReasonLinkHandled,
		},
		{
			name:   "link request without selection",
			in:     GuardInput{UserText: "لینک بده", Reply: "https://ghlbedovom.com/product/random/"},
			want:   r.LinkMissing,
			reason: ReasonLinkMissing,
		},
		{
			name:   "slot questions after selection",
			in:     GuardInput{UserText: "خوبه", Reply: "لطفاً جنسیت و سایز رو بگید؟", Selected: selected},
			want:   r.OrderPrompt,
			reason: ReasonSelectedTemplate,
		},
		{
			name:   "product answer to store question",
			in:     GuardInput{UserText: "ساعت کاری؟", Reply: "قیمت این کفش 2,500,000 تومانه", StoreIntent: true, Products: rows},
			want:   r.StoreClarify,
			reason: ReasonStoreClarify,
		},
		{
			name:   "unrequested storefront link",
			in:     GuardInput{UserText: "کفش دارید", Reply: "همه مدل‌ها رو در https://ghlbedovom.com/ ببینید"},
			want:   r.WebsiteUnrequested,
			reason: ReasonBareRootLink,
		},
		{
			name:   "unrequested storefront link with selection",
			in:     GuardInput{UserText: "باشه", Reply: "به https://www.ghlbedovom.com سر بزنید", Selected: selected},
			want:   r.WebsiteUnrequestedSelected,
			reason: ReasonBareRootLink,
		},
		{
			name:   "reply in the wrong language",
			in:     GuardInput{UserText: "سلام کفش دارید", Reply: "Yes, we have many shoes available"},
			want:   r.WrongLanguage,
			reason: ReasonWrongLanguage,
		},
		{
			name:   "slot template while templates are off",
			in:     GuardInput{UserText: "یه چیزی میخوام", Reply: "لطفاً جنسیت و بودجه رو بگید؟", SlotTemplatesOff: true},
			want:   r.SlotTemplateBlocked,
			reason: ReasonTemplateBlocked,
		},
		{
			name:   "price without any grounded product",
			in:     GuardInput{UserText: "قیمتش چنده", Reply: "قیمتش 2,500,000 تومانه"},
			want:   r.AskIdentifier,
			reason: ReasonPriceHallucinate,
		},
		{
			name:   "options without any grounded product",
			in:     GuardInput{UserText: "چی دارید", Reply: "1) کفش ونس\n2) کفش پوما"},
			want:   r.AskIdentifier,
			reason: ReasonPriceHallucinate,
		},
		{
			name:   "price not in the grounded set",
			in:     GuardInput{UserText: "قیمت نایک", Reply: "قیمتش 3,100,000 تومانه", Products: rows},
			want:   r.AskIdentifier,
			reason: ReasonPriceHallucinate,
		},
		{
			name:   "grounded price outside the budget",
			in:     GuardInput{UserText: "کفش تا 2 میلیون", Reply: "کفش نایک ایر مکس 2,500,000 تومانه", Products: rows},
			want:   strings.ReplaceAll(r.BudgetRestate, "{budget}", "2,000,000"),
			reason: ReasonBudgetIgnored,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reasons := g.ValidateOrRewrite(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, []string{tt.reason}, reasons)
		})
	}
}

func TestGuardrailPassesGroundedReplies(t *testing.T) {
	g := newTestGuardrail()
	rows := catalogFixture().rows

	got, reasons := g.ValidateOrRewrite(GuardInput{
		UserText: "قیمت نایک ایر مکس",
		Reply:    "کفش نایک ایر مکس 2,500,000 تومانه.",
		Products: rows,
	})
	assert.Equal(t, "کفش نایک ایر مکس 2,500,000 تومانه.", got)
	assert.Empty(t, reasons)

	got, reasons = g.ValidateOrRewrite(GuardInput{
		UserText: "قیمت نایک ایر مکس",
		Reply:    "قیمتش 25,000,000 ریاله.",
		Products: rows,
	})
	assert.Equal(t, "قیمتش 25,000,000 ریاله.", got, "rial figure of a known toman price")
	assert.Empty(t, reasons)

	got, _ = g.ValidateOrRewrite(GuardInput{
		UserText: "کفش تا 3 میلیون",
		Reply:    "کفش آدیداس رانر 1,800,000 تومانه.",
		Products: rows,
	})
	assert.Equal(t, "کفش آدیداس رانر 1,800,000 تومانه.", got)

	got, reasons = g.ValidateOrRewrite(GuardInput{UserText: "سایت دارید؟", Reply: "بله، https://ghlbedovom.com"})
	assert.Equal(t, "بله، https://ghlbedovom.com", got)
	assert.Empty(t, reasons)
}

func TestGuardrailBudgetIsNotGrounding(t *testing.T) {
	g := newTestGuardrail()
	rows := catalogFixture().rows
	require.NotNil(t, rows[0].Price)
	require.Equal(t, int64(2500000), *rows[0].Price)

	got, reasons := g.ValidateOrRewrite(GuardInput{
		UserText: "بودجه من 5 میلیون تومنه، کفش نایک دارید؟",
		Reply:    "بله، کفش نایک ایر مکس 5,000,000 تومان است.",
		Products: rows[:1],
	})
	assert.Equal(t, rules.Default().Replies.AskIdentifier, got)
	assert.Equal(t, []string{ReasonPriceHallucinate}, reasons)

	got, reasons = g.ValidateOrRewrite(GuardInput{
		UserText: "بودجه من 5 میلیون تومنه، کفش نایک دارید؟",
		Reply:    "بله، کفش نایک ایر مکس 2,500,000 تومان است.",
		Products: rows[:1],
	})
	assert.Equal(t, "بله، کفش نایک ایر مکس 2,500,000 تومان است.", got)
	assert.Empty(t, reasons)
}

func TestGuardrailPostProcessing(t *testing.T) {
	g := newTestGuardrail()

	got, _ := g.ValidateOrRewrite(GuardInput{
		UserText: "سلام",
		Reply:    "**سلام** خوش اومدید 😊🌷 [سایت](https://ghlbedovom.com/product/x) رو ببینید. چی میخواید؟ سایز؟",
	})
	assert.Equal(t, "سلام خوش اومدید 😊 سایت: https://ghlbedovom.com/product/x رو ببینید. چی میخواید؟ سایز", got)

	got, _ = g.ValidateOrRewrite(GuardInput{UserText: "سلام", Reply: "یک. دو. سه. چهار."})
	assert.Equal(t, "یک. دو. سه.", got)

	got, _ = g.ValidateOrRewrite(GuardInput{UserText: "سلام", Reply: "خوبید؟", NoQuestions: true})
	assert.Equal(t, "خوبید", got)

	got, reasons := g.ValidateOrRewrite(GuardInput{UserText: "سلام", Reply: "  ", FallbackText: "پیام پیش‌فرض"})
	assert.Equal(t, "پیام پیش‌فرض", got)
	assert.Equal(t, []string{ReasonEmpty}, reasons)

	got, _ = g.ValidateOrRewrite(GuardInput{UserText: "سلام", Reply: strings.Repeat("ا", 50), MaxChars: 10})
	assert.Equal(t, strings.Repeat("ا", 10)+"...", got)

	structured := `{"type":"text","text":"**سلام**"}`
	got, _ = g.ValidateOrRewrite(GuardInput{UserText: "سلام", Reply: structured})
	assert.Equal(t, structured, got)
}

func TestGuardrailRepetition(t *testing.T) {
	g := newTestGuardrail()
	alt := rules.Default().Replies.RepeatAlternatives
	last := "برای راهنمایی دقیق لطفا مدل محصول رو بفرستید"

	got, reasons := g.ValidateOrRewrite(GuardInput{UserText: "کفش", Reply: last, LastAssistantText: last, ProductIntent: true})
	assert.Equal(t, alt.Products, got)
	assert.Equal(t, []string{ReasonRepetition}, reasons)

	got, _ = g.ValidateOrRewrite(GuardInput{UserText: "ساعت", Reply: last, LastAssistantText: last, StoreIntent: true})
	assert.Equal(t, alt.Info, got)

	got, _ = g.ValidateOrRewrite(GuardInput{UserText: "سلام", Reply: last, LastAssistantText: last, RepeatAlternative: "جایگزین"})
	assert.Equal(t, "جایگزین", got)
}

func TestPriceFigures(t *testing.T) {
	assert.Empty(t, PriceFigures("سایز 42 و 43 موجوده"))
	assert.Empty(t, PriceFigures("مدل 2024 اومده"), "no price cue")
	assert.Equal(t, []int64{2500000}, PriceFigures("قیمت: ۲٬۵۰۰٬۰۰۰"))
	assert.Equal(t, []int64{1500000, 800000}, PriceFigures("از 1.5 میلیون تا 800 هزار تومان"))
	assert.Empty(t, PriceFigures("قیمت رو از 09158600035 بپرسید"), "phone number")
	assert.Empty(t, PriceFigures("قیمت در https://ghlbedovom.com/product/?id=427786"), "numbers inside links")
}

func TestLimitHelpers(t *testing.T) {
	assert.Equal(t, "الف؟ ب پ", LimitQuestions("الف؟ ب? پ", 1))
	assert.Equal(t, "بدون سوال", LimitQuestions("بدون سوال", 0))
	assert.Equal(t, "یک! دو.", LimitSentences("یک! دو. سه؟", 2))
	assert.Equal(t, "3.5 میلیون. بعدی.", LimitSentences("3.5 میلیون. بعدی.", 2))
	assert.Equal(t, "سلام 🌷 خوبی", LimitEmojis("سلام 🌷 خوبی😊", 1))
	assert.Equal(t, "❤️ سلام ", LimitEmojis("❤️ سلام ❤️", 1))
}
