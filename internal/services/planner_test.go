package services

import (
	"strings"
	"testing"

	"github.com/yoockh/dmcommerce/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPlanner() *Planner {
	return NewPlanner(testClassifier(), PlanLimits{
		MaxButtons: 3, MaxQuickReplies: 13, MaxTemplateSlides: 10,
		QuickReplyTitleMax: 20, QuickReplyPayloadMax: 20,
	})
}

func TestPlanFromText(t *testing.T) {
	p := newTestPlanner()

	t.Run("structured json", func(t *testing.T) {
		plan := p.PlanFromText(`{"type":"quick_reply","text":"کدوم؟","quick_replies":[{"title":"الف","payload":"a"}]}`)
		assert.Equal(t, models.PlanQuickReply, plan.Type)
		assert.Len(t, plan.QuickReplies, 1)
	})

	t.Run("invalid json stays text", func(t *testing.T) {
		plan := p.PlanFromText(`{"type":"carousel"}`)
		assert.Equal(t, models.PlanText, plan.Type)
	})

	t.Run("first link becomes button", func(t *testing.T) {
		plan := p.PlanFromText("اینجا ببینید: https://ghlbedovom.com/product/x). ممنون")
		require.Equal(t, models.PlanButton, plan.Type)
		assert.Equal(t, "https://ghlbedovom.com/product/x", plan.Buttons[0].URL)
		assert.Equal(t, "مشاهده لینک", plan.Buttons[0].Title)
	})

	t.Run("bare domain mention", func(t *testing.T) {
		plan := p.PlanFromText("همه محصولات در ghlbedovom.com هست")
		require.Equal(t, models.PlanButton, plan.Type)
		assert.Equal(t, "https://ghlbedovom.com", plan.Buttons[0].URL)
		assert.Equal(t, "مشاهده سایت", plan.Buttons[0].Title)
	})

	t.Run("numbered options", func(t *testing.T) {
		plan := p.PlanFromText("کدوم مدل؟\n1) کفش اسپرت مردانه با زیره طبی\n2. صندل\n3- دمپایی")
		require.Equal(t, models.PlanQuickReply, plan.Type)
		require.Len(t, plan.QuickReplies, 3)
		assert.Equal(t, "کفش اسپرت مردانه با", plan.QuickReplies[0].Title)
		assert.Equal(t, "صندل", plan.QuickReplies[1].Payload)
	})

	t.Run("single option stays text", func(t *testing.T) {
		plan := p.PlanFromText("1) فقط یک گزینه")
		assert.Equal(t, models.PlanText, plan.Type)
	})
}

func TestStoreTopicPlans(t *testing.T) {
	p := newTestPlanner()

	plan, ok := p.StoreTopicPlan("address")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(plan.Text, "آدرس شعب فروشگاه قلب دوم:\n1) شعبه قاسم‌آباد:"))
	assert.Contains(t, plan.Text, "| نقشه: https://share.google/")
	assert.Contains(t, plan.Text, "آدرس نشان: ")

	plan, ok = p.StoreTopicPlan("website")
	require.True(t, ok)
	assert.Equal(t, models.PlanButton, plan.Type)
	assert.Equal(t, "وب‌سایت رسمی فروشگاه قلب دوم:", plan.Text)

	plan, ok = p.StoreTopicPlan("contact")
	require.True(t, ok)
	assert.Equal(t, models.PlanButton, plan.Type)
	assert.Len(t, plan.Buttons, 3)
	assert.Contains(t, plan.Text, "09158600035")

	plan, ok = p.StoreTopicPlan("trust")
	require.True(t, ok)
	assert.Contains(t, plan.Text, "trustseal.enamad.ir")

	_, ok = p.StoreTopicPlan("weather")
	assert.False(t, ok)
}

func TestRulePlan(t *testing.T) {
	p := newTestPlanner()

	tests := []struct {
		name    string
		msgType models.MessageType
		text    string
		first   bool
		wantKey string
		want    models.PlanType
	}{
		{"audio without text", models.MessageAudio, "", false, "fallback_audio", models.PlanText},
		{"media without text", models.MessageMedia, "", false, "fallback_media", models.PlanText},
		{"empty first message", models.MessageText, "", true, HandlerMenu, models.PlanQuickReply},
		{"empty later message", models.MessageText, " ", false, HandlerFallback, models.PlanText},
		{"first greeting", models.MessageText, "سلام", true, HandlerMenu, models.PlanQuickReply},
		{"hours", models.MessageText, "ساعت کاری فروشگاه؟", false, "store_info:hours", models.PlanText},
		{"website", models.MessageText, "سایت دارید؟", false, "store_info:website", models.PlanButton},
		{"angry", models.MessageText, "خیلی ناراضی هستم", false, "angry", models.PlanText},
		{"details", models.MessageText, "چنده؟", false, "product_details", models.PlanText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, key, ok := p.RulePlan(tt.msgType, tt.text, tt.first)
			require.True(t, ok)
			assert.Equal(t, tt.wantKey, key)
			assert.Equal(t, tt.want, plan.Type)
		})
	}

	_, _, ok := p.RulePlan(models.MessageText, "یه کفش نایک میخوام", false)
	assert.False(t, ok)
}

func TestProductPlan(t *testing.T) {
	p := newTestPlanner()
	rows := catalogFixture().rows

	_, ok := p.ProductPlan("", nil)
	assert.False(t, ok)

	plan, ok := p.ProductPlan("لیست محصولات", rows)
	require.True(t, ok)
	require.Equal(t, models.PlanGenericTemplate, plan.Type)
	require.Len(t, plan.Elements, 4)
	first := plan.Elements[0]
	assert.Equal(t, "کفش نایک ایر مکس", first.Title)
	assert.Equal(t, "قیمت: 2,500,000 | قبل: 2,900,000 | موجودی: موجود", first.Subtitle)
	assert.Equal(t, "https://cdn/p1.jpg", first.ImageURL)
	require.Len(t, first.Buttons, 1)
	assert.Equal(t, "مشاهده محصول", first.Buttons[0].Title)
	assert.Empty(t, plan.Elements[2].Buttons, "no page url, no button")

	plan, ok = p.ProductPlan("نایک دارید؟", rows)
	require.True(t, ok)
	assert.Equal(t, models.PlanButton, plan.Type)
	assert.Equal(t, "کفش نایک ایر مکس | قیمت: 2,500,000 | قبل: 2,900,000 | موجودی: موجود", plan.Text)

	many := make([]models.Product, 15)
	for i := range many {
		many[i] = rows[0]
	}
	plan, _ = p.ProductPlan("", many)
	assert.Len(t, plan.Elements, 10)
}

func TestMatchFaq(t *testing.T) {
	faqs := []models.Faq{
		{Question: "هزینه ارسال", Answer: "ارسال بالای ۲ میلیون رایگانه", Verified: true},
		{Question: "", Tags: []string{"مرجوعی", "پس"}, Answer: "تا ۷ روز امکان مرجوعی هست", Verified: true},
	}

	got, ok := MatchFaq("هزینه ارسال به تهران چقدره", faqs)
	require.True(t, ok)
	assert.Equal(t, "ارسال بالای ۲ میلیون رایگانه", got)

	got, ok = MatchFaq("شرایط مرجوعی چیه", faqs)
	require.True(t, ok)
	assert.Equal(t, "تا ۷ روز امکان مرجوعی هست", got)

	_, ok = MatchFaq("پس کی میرسه", faqs)
	assert.False(t, ok, "short tags never match")
}
