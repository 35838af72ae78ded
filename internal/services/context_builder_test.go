package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/yoockh/dmcommerce/internal/cache"
	"github.com/yoockh/dmcommerce/internal/logger"
	"github.com/yoockh/dmcommerce/internal/models"
	"github.com/yoockh/dmcommerce/internal/providers/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

type brokenMessages struct{ fakeMessages }

func (*brokenMessages) Recent(context.Context, string, int) ([]models.Message, error) {
	return nil, errors.New("db down")
}

func seedHistory(msgs *fakeMessages, convID string, turns ...string) {
	for i, text := range turns {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		_ = msgs.Insert(context.Background(), &models.Message{
			ID: text, ConversationID: convID, Role: role, Type: models.MessageText, ContentText: text,
		})
	}
}

func TestContextBuilderBuild(t *testing.T) {
	ctx := context.Background()
	cls := testClassifier()
	products := catalogFixture()
	catalog := NewCatalogService(products, cls, cache.NewMemoryCache(), time.Minute, logger.Discard())

	msgs := &fakeMessages{}
	seedHistory(msgs, "c1", "سلام", "سلام، خوش اومدید", "کفش دارید؟", "بله", "نایک ایر مکس", "کدوم سایز؟")
	_ = msgs.Insert(ctx, &models.Message{ConversationID: "c1", Role: models.RoleUser, Type: models.MessageAudio})

	knowledge := &fakeKnowledge{
		faqs:      []models.Faq{{Question: "ارسال رایگانه؟", Answer: "بالای ۲ میلیون", Verified: true}},
		campaigns: []models.Campaign{{Title: "حراج پاییزه", Body: "۲۰٪ تخفیف", DiscountCode: "FALL20"}},
	}
	behavior := newFakeBehavior()
	bp := models.BehaviorProfile{UserID: "u1"}
	bp.AppendHit(models.PatternHit{Pattern: "price_inquiry", Confidence: 0.6, CreatedAt: time.Now()}, 20)
	bp.AppendHit(models.PatternHit{Pattern: "product_request", Confidence: 0.7, CreatedAt: time.Now()}, 20)
	require.NoError(t, behavior.Upsert(ctx, &bp))

	events := &fakeEvents{}
	require.NoError(t, events.Insert(ctx, &models.Event{
		Type: models.EventAssistantResponse, ConversationID: "c1",
		Data: map[string]any{"text": "آدرس شعب  فروشگاه", "handler": HandlerStore, "intent": "address"},
	}))

	user := &models.User{ID: "u1", Username: "sara", IsVIP: true,
		Profile: datatypes.NewJSONType(models.UserProfile{Prefs: models.Preferences{Gender: "زنانه", BudgetMax: i64(3000000)}})}
	st := &models.ConversationState{ConversationID: "c1", Intent: models.StateIntentProductSearch, Category: "shoes"}

	b := NewContextBuilder(cls, knowledge, catalog, msgs, behavior, events,
		ContextConfig{MaxHistory: 20, MaxUserTurns: 2}, logger.Discard())
	bundle, err := b.Build(ctx, ContextInput{
		User: user, State: st, ConversationID: "c1",
		Text:              "قیمت نایک ایر مکس چنده",
		Products:          products.rows[:1],
		Notes:             []string{"[NEED_DETAILS]\nسایز رو بپرس", " "},
		AllowProductCards: true,
		Settings:          &models.BotSettings{AdminNotes: "کد تخفیف فقط برای VIP"},
	})
	require.NoError(t, err)

	sys := bundle.SystemPrompt
	assert.True(t, strings.HasPrefix(sys, "تو دستیار فروش"))
	assert.Contains(t, sys, "کاربر قصد خرید دارد", "price question adds the sales prompt")
	assert.NotContains(t, sys, "کاربر مشکل یا شکایتی دارد")
	for _, want := range []string{
		"[STORE]\nنام فروشگاه: فروشگاه قلب دوم (مشهد)",
		"[ACTIVE CAMPAIGNS]\n- حراج پاییزه | ۲۰٪ تخفیف | کد تخفیف: FALL20",
		"[VERIFIED FAQs]\nQ: ارسال رایگانه؟\nA: بالای ۲ میلیون",
		"[CATALOG]\nتعداد کل محصولات: 4",
		"[USER_PROFILE + BEHAVIOR]\nusername=sara | vip=true | prefs=gender=زنانه; budget_max=3000000 | behavior=product_request",
		"[BEHAVIOR]\nآخرین الگو: product_request (confidence=0.70)",
		"[CONVERSATION_STATE]\nintent: product_search\ncategory: shoes",
		"[ADMIN NOTES]\nکد تخفیف فقط برای VIP",
		"[RECENT_RESPONSES]\n- [store_info/address] آدرس شعب فروشگاه",
	} {
		assert.Contains(t, sys, want)
	}
	assert.Less(t, strings.Index(sys, "[STORE]"), strings.Index(sys, "[CATALOG]"))
	assert.Less(t, strings.Index(sys, "[CONVERSATION_STATE]"), strings.Index(sys, "[RECENT_MESSAGES]"))

	require.GreaterOrEqual(t, len(bundle.Messages), 4)
	assert.Equal(t, llm.RoleSystem, bundle.Messages[0].Role)
	assert.Equal(t, "[NEED_DETAILS]\nسایز رو بپرس", bundle.Messages[1].Content)
	products0 := bundle.Messages[2].Content
	assert.True(t, strings.HasPrefix(products0, "[PRODUCTS]\n- کفش نایک ایر مکس | قیمت: 2,500,000 | قبل: 2,900,000 | موجودی: موجود"))
	assert.Contains(t, products0, "لینک: https://ghlbedovom.com/product/nike-air-max/")
	assert.Contains(t, products0, ShowProductsToken)

	turns := bundle.Messages[3:]
	require.Len(t, turns, 3, "history trimmed to the last two user turns")
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "نایک ایر مکس"}, turns[0])
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "[AUDIO]"}, turns[2])
	assert.Equal(t, llm.RoleAssistant, turns[1].Role)
}

func TestContextBuilderDegradesGracefully(t *testing.T) {
	ctx := context.Background()
	msgs := &fakeMessages{}
	seedHistory(msgs, "c1", "سلام")

	b := NewContextBuilder(testClassifier(), &fakeKnowledge{err: errors.New("timeout")}, nil, msgs, nil, nil,
		ContextConfig{}, logger.Discard())
	bundle, err := b.Build(ctx, ContextInput{ConversationID: "c1", Text: "سلام"})
	require.NoError(t, err)
	assert.NotContains(t, bundle.Sections, "faqs")
	assert.NotContains(t, bundle.Sections, "products")
	assert.Contains(t, bundle.Sections, "store")
	assert.Equal(t, "تو دستیار فروش دایرکت اینستاگرام فروشگاه قلب دوم هستی.", strings.SplitN(bundle.SystemPrompt, "\n", 2)[0])
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "سلام"}, bundle.Messages[len(bundle.Messages)-1])

	b = NewContextBuilder(testClassifier(), &fakeKnowledge{}, nil, &brokenMessages{}, nil, nil, ContextConfig{}, logger.Discard())
	_, err = b.Build(ctx, ContextInput{ConversationID: "c1"})
	require.Error(t, err)

	_, err = b.Build(ctx, ContextInput{})
	require.Error(t, err)
}

func TestContextBuilderSettingsPrompt(t *testing.T) {
	msgs := &fakeMessages{}
	b := NewContextBuilder(testClassifier(), &fakeKnowledge{}, nil, msgs, nil, nil, ContextConfig{}, logger.Discard())
	bundle, err := b.Build(context.Background(), ContextInput{
		ConversationID: "c1",
		Text:           "از سفارشم ناراضی هستم",
		Settings:       &models.BotSettings{SystemPrompt: "پرامپت ادمین"},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(bundle.SystemPrompt, "پرامپت ادمین\n\nکاربر مشکل یا شکایتی دارد"))
	assert.Equal(t, "پرامپت ادمین", bundle.Sections["system_prompt"])
}

func TestSplitShowProducts(t *testing.T) {
	ok, text := SplitShowProducts("این دو مدل موجوده\n[SHOW_PRODUCTS]")
	assert.True(t, ok)
	assert.Equal(t, "این دو مدل موجوده", text)

	ok, text = SplitShowProducts("[GENERIC_TEMPLATE] مدل‌ها")
	assert.True(t, ok)
	assert.Equal(t, "مدل‌ها", text)

	ok, text = SplitShowProducts("بدون کارت")
	assert.False(t, ok)
	assert.Equal(t, "بدون کارت", text)
}
