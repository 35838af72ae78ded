package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserProfileLegacyShapes(t *testing.T) {
	raw := `{
		"prefs": {"gender": ["زنانه", "مردانه"], "budget_max": "2,500,000", "colors": "مشکی"},
		"order_form": {"status": "collecting", "step": "shipping", "data": {}},
		"product_state": {"query": "کفش", "offset": "5"},
		"cross_sell_ts": 1700000000,
		"vip_note": {"by": "admin"}
	}`

	var p UserProfile
	require.NoError(t, json.Unmarshal([]byte(raw), &p))

	assert.Equal(t, "زنانه", p.Prefs.Gender)
	require.NotNil(t, p.Prefs.BudgetMax)
	assert.Equal(t, int64(2500000), *p.Prefs.BudgetMax)
	assert.Equal(t, []string{"مشکی"}, p.Prefs.Colors)
	assert.Nil(t, p.OrderForm, "unknown order step is dropped")
	require.NotNil(t, p.ProductState)
	assert.Equal(t, 5, p.ProductState.Offset)
	require.NotNil(t, p.CrossSellAt)
	assert.Equal(t, int64(1700000000), p.CrossSellAt.Unix())

	out, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"vip_note":{"by":"admin"}`)
	assert.NotContains(t, string(out), "cross_sell_ts")
}

func TestUserProfileRoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p := UserProfile{
		OrderForm: &OrderForm{Status: OrderCollecting, Step: OrderStepPhone, Data: OrderData{Name: "علی رضایی"}, StartedAt: now, UpdatedAt: now},
	}
	b, err := json.Marshal(p)
	require.NoError(t, err)

	var back UserProfile
	require.NoError(t, json.Unmarshal(b, &back))
	require.NotNil(t, back.OrderForm)
	assert.Equal(t, OrderStepPhone, back.OrderForm.Step)
	assert.Equal(t, "علی رضایی", back.OrderForm.Data.Name)
}

func TestPreferencesMerge(t *testing.T) {
	budget := int64(3000000)
	old := Preferences{Colors: []string{"سفید"}, Gender: "مردانه"}
	got := old.Merge(Preferences{Colors: []string{"مشکی", "سفید"}, BudgetMax: &budget})

	assert.Equal(t, []string{"مشکی", "سفید"}, got.Colors)
	assert.Equal(t, "مردانه", got.Gender)
	assert.Equal(t, &budget, got.BudgetMax)
}

func TestMemoryRememberCaps(t *testing.T) {
	var m UserMemory
	for i := 0; i < 15; i++ {
		m.Remember(string(rune('a'+i)), nil)
	}
	assert.Len(t, m.RecentQueries, memoryCap)
	assert.Equal(t, "o", m.RecentQueries[0])
}

func TestBehaviorProfileRingBuffer(t *testing.T) {
	var b BehaviorProfile
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		b.AppendHit(PatternHit{Pattern: "p" + string(rune('0'+i)), Confidence: 0.5, CreatedAt: base.Add(time.Duration(i) * time.Second)}, 3)
	}
	hist := b.History.Data()
	require.Len(t, hist, 3)
	assert.Equal(t, "p2", hist[0].Pattern)
	assert.Equal(t, "p4", b.LastPattern)
}

func TestPlanPlainText(t *testing.T) {
	p := OutboundPlan{Type: PlanGenericTemplate, Elements: []TemplateElement{
		{Title: "کفش A", Subtitle: "قیمت: 100"},
		{Title: "کفش B"},
	}}
	assert.Equal(t, "کفش A - قیمت: 100\nکفش B", p.PlainText())
	assert.Equal(t, MessageGenericTemplate, p.MessageType())
	assert.Equal(t, "", OutboundPlan{Type: PlanPhoto}.PlainText())
}

func TestWithinWindow(t *testing.T) {
	now := time.Now()
	old := now.Add(-25 * time.Hour)
	recent := now.Add(-time.Hour)

	assert.False(t, (&Conversation{LastUserMessageAt: &old}).WithinWindow(now, 24*time.Hour))
	assert.True(t, (&Conversation{LastUserMessageAt: &recent}).WithinWindow(now, 24*time.Hour))
	assert.False(t, (&Conversation{}).WithinWindow(now, 24*time.Hour))
}
