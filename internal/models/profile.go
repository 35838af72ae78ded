package models

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Preferences are shopping preferences collected from the user's messages.
type Preferences struct {
	Categories []string `json:"categories,omitempty"`
	Gender     string   `json:"gender,omitempty"`
	Sizes      []string `json:"sizes,omitempty"`
	Colors     []string `json:"colors,omitempty"`
	Styles     []string `json:"styles,omitempty"`
	BudgetMin  *int64   `json:"budget_min,omitempty"`
	BudgetMax  *int64   `json:"budget_max,omitempty"`
}

func (p Preferences) Empty() bool {
	return len(p.Categories) == 0 && p.Gender == "" && len(p.Sizes) == 0 &&
		len(p.Colors) == 0 && len(p.Styles) == 0 && p.BudgetMin == nil && p.BudgetMax == nil
}

// Merge overlays u on p: list values are unioned (newest first), scalars
// are replaced when u sets them.
func (p Preferences) Merge(u Preferences) Preferences {
	out := p
	out.Categories = mergeValues(u.Categories, p.Categories)
	out.Sizes = mergeValues(u.Sizes, p.Sizes)
	out.Colors = mergeValues(u.Colors, p.Colors)
	out.Styles = mergeValues(u.Styles, p.Styles)
	if u.Gender != "" {
		out.Gender = u.Gender
	}
	if u.BudgetMin != nil {
		out.BudgetMin = u.BudgetMin
	}
	if u.BudgetMax != nil {
		out.BudgetMax = u.BudgetMax
	}
	return out
}

const maxPrefValues = 6

func mergeValues(newer, older []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, list := range [][]string{newer, older} {
		for _, v := range list {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	if len(out) > maxPrefValues {
		out = out[:maxPrefValues]
	}
	return out
}

type OrderStep string

const (
	OrderStepName    OrderStep = "name"
	OrderStepPhone   OrderStep = "phone"
	OrderStepAddress OrderStep = "address"
	OrderStepNote    OrderStep = "note"
)

type OrderStatus string

const (
	OrderCollecting OrderStatus = "collecting"
	OrderDone       OrderStatus = "done"
)

type OrderData struct {
	Name    string `json:"name,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
	Note    string `json:"note,omitempty"`
}

// OrderForm is the in-chat order collection state.
type OrderForm struct {
	Status      OrderStatus `json:"status"`
	Step        OrderStep   `json:"step"`
	Data        OrderData   `json:"data"`
	StartedAt   time.Time   `json:"started_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

func (f *OrderForm) valid() bool {
	switch f.Status {
	case OrderCollecting, OrderDone:
	default:
		return false
	}
	switch f.Step {
	case OrderStepName, OrderStepPhone, OrderStepAddress, OrderStepNote:
		return true
	}
	return false
}

// ProductListState remembers the last product list for "continue" paging.
type ProductListState struct {
	Query     string    `json:"query"`
	Offset    int       `json:"offset"`
	Total     int       `json:"total"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserMemory keeps short rolling lists of what the user looked at.
type UserMemory struct {
	RecentQueries      []string `json:"recent_queries,omitempty"`
	RecentProductSlugs []string `json:"recent_product_slugs,omitempty"`
}

const memoryCap = 10

func (m *UserMemory) Remember(query string, slugs []string) {
	if q := strings.TrimSpace(query); q != "" {
		m.RecentQueries = mergeCapped([]string{q}, m.RecentQueries, memoryCap)
	}
	if len(slugs) > 0 {
		m.RecentProductSlugs = mergeCapped(slugs, m.RecentProductSlugs, memoryCap)
	}
}

func mergeCapped(newer, older []string, n int) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, n)
	for _, list := range [][]string{newer, older} {
		for _, v := range list {
			if _, ok := seen[v]; ok || v == "" {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
			if len(out) == n {
				return out
			}
		}
	}
	return out
}

// UserProfile is the typed shape of users.profile_json. Keys it does not
// know are carried in Extra and written back untouched.
type UserProfile struct {
	Prefs        Preferences       `json:"prefs"`
	OrderForm    *OrderForm        `json:"order_form,omitempty"`
	ProductState *ProductListState `json:"product_state,omitempty"`
	Memory       UserMemory        `json:"memory"`
	CrossSellAt  *time.Time        `json:"cross_sell_at,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var profileKeys = map[string]bool{
	"prefs": true, "order_form": true, "product_state": true,
	"memory": true, "cross_sell_at": true, "cross_sell_ts": true,
}

func (p UserProfile) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Extra)+5)
	for k, v := range p.Extra {
		out[k] = v
	}
	out["prefs"] = p.Prefs
	out["memory"] = p.Memory
	if p.OrderForm != nil {
		out["order_form"] = p.OrderForm
	}
	if p.ProductState != nil {
		out["product_state"] = p.ProductState
	}
	if p.CrossSellAt != nil {
		out["cross_sell_at"] = p.CrossSellAt
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts current and legacy shapes: gender stored as a list,
// numbers stored as strings, unix cross-sell timestamps, and order forms
// with unknown steps (dropped).
func (p *UserProfile) UnmarshalJSON(b []byte) error {
	*p = UserProfile{}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		if !profileKeys[k] {
			if p.Extra == nil {
				p.Extra = map[string]json.RawMessage{}
			}
			p.Extra[k] = v
		}
	}

	if v, ok := raw["prefs"]; ok {
		p.Prefs = decodePrefs(v)
	}
	if v, ok := raw["order_form"]; ok {
		var f OrderForm
		if json.Unmarshal(v, &f) == nil && f.valid() {
			if f.StartedAt.IsZero() {
				f.StartedAt = f.UpdatedAt
			}
			p.OrderForm = &f
		}
	}
	if v, ok := raw["product_state"]; ok {
		p.ProductState = decodeProductState(v)
	}
	if v, ok := raw["memory"]; ok {
		var m UserMemory
		if json.Unmarshal(v, &m) == nil {
			p.Memory = m
		}
	}
	for _, key := range []string{"cross_sell_at", "cross_sell_ts"} {
		if v, ok := raw[key]; ok {
			if t, ok := flexTime(v); ok {
				p.CrossSellAt = &t
				break
			}
		}
	}
	return nil
}

func decodePrefs(b json.RawMessage) Preferences {
	var raw map[string]json.RawMessage
	if json.Unmarshal(b, &raw) != nil {
		return Preferences{}
	}
	out := Preferences{
		Categories: flexStrings(raw["categories"]),
		Sizes:      flexStrings(raw["sizes"]),
		Colors:     flexStrings(raw["colors"]),
		Styles:     flexStrings(raw["styles"]),
		BudgetMin:  flexInt(raw["budget_min"]),
		BudgetMax:  flexInt(raw["budget_max"]),
	}
	if g := flexStrings(raw["gender"]); len(g) > 0 {
		out.Gender = g[0]
	}
	return out
}

func decodeProductState(b json.RawMessage) *ProductListState {
	var raw map[string]json.RawMessage
	if json.Unmarshal(b, &raw) != nil {
		return nil
	}
	var st ProductListState
	_ = json.Unmarshal(raw["query"], &st.Query)
	if st.Query == "" {
		return nil
	}
	if n := flexInt(raw["offset"]); n != nil {
		st.Offset = int(*n)
	}
	if n := flexInt(raw["total"]); n != nil {
		st.Total = int(*n)
	}
	if t, ok := flexTime(raw["updated_at"]); ok {
		st.UpdatedAt = t
	}
	return &st
}

func flexStrings(b json.RawMessage) []string {
	if len(b) == 0 {
		return nil
	}
	var list []string
	if json.Unmarshal(b, &list) == nil {
		return list
	}
	var s string
	if json.Unmarshal(b, &s) == nil && strings.TrimSpace(s) != "" {
		return []string{strings.TrimSpace(s)}
	}
	return nil
}

func flexInt(b json.RawMessage) *int64 {
	if len(b) == 0 {
		return nil
	}
	var f float64
	if json.Unmarshal(b, &f) == nil {
		n := int64(f)
		return &n
	}
	var s string
	if json.Unmarshal(b, &s) == nil {
		s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return &n
		}
	}
	return nil
}

func flexTime(b json.RawMessage) (time.Time, bool) {
	if len(b) == 0 {
		return time.Time{}, false
	}
	var t time.Time
	if json.Unmarshal(b, &t) == nil && !t.IsZero() {
		return t.UTC(), true
	}
	var f float64
	if json.Unmarshal(b, &f) == nil && f > 0 {
		return time.Unix(int64(f), 0).UTC(), true
	}
	return time.Time{}, false
}
