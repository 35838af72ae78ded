package classify

import (
	"strings"

	"github.com/yoockh/dmcommerce/internal/utils"
)

type Risk string

const (
	RiskLow  Risk = "LOW"
	RiskMed  Risk = "MED"
	RiskHigh Risk = "HIGH"
)

// Router intents.
const (
	IntentAmbiguousStoreProduct = "ambiguous_store_vs_products"
	IntentProductLink           = "product_link_request"
	IntentStoreInfo             = "store_info"
	IntentComplaint             = "complaint_support"
	IntentOrder                 = "order_intent"
	IntentCampaign              = "campaign_discount"
	IntentSmalltalk             = "smalltalk"
	IntentPrice                 = "price_availability"
	IntentProductDiscovery      = "product_discovery"
	IntentProductSpecific       = "product_specific"
	IntentUnknown               = "unknown"
)

// Store topics carried by store_info decisions.
const (
	TopicAddress = "address"
	TopicHours   = "hours"
	TopicPhone   = "phone"
	TopicContact = "contact"
	TopicWebsite = "website"
	TopicTrust   = "trust"
)

// Decision is the router's label for one message.
type Decision struct {
	Intent     string   `json:"intent"`
	Category   string   `json:"category"`
	Confidence float64  `json:"confidence"`
	Evidence   []string `json:"evidence_keywords,omitempty"`
	Risk       Risk     `json:"risk_level"`
	StoreTopic string   `json:"store_topic,omitempty"`
}

func (c *Classifier) has(text string, kws []string) bool {
	return utils.ContainsAny(utils.NormalizeText(text), kws)
}

func (c *Classifier) IsGreeting(text string) bool  { return c.has(text, c.rules.Keywords.Greeting) }
func (c *Classifier) IsThanks(text string) bool    { return c.has(text, c.rules.Keywords.Thanks) }
func (c *Classifier) IsGoodbye(text string) bool   { return c.has(text, c.rules.Keywords.Goodbye) }
func (c *Classifier) IsDecline(text string) bool   { return c.has(text, c.rules.Keywords.Decline) }
func (c *Classifier) IsAngry(text string) bool     { return c.has(text, c.rules.Keywords.Angry) }
func (c *Classifier) WantsRepeat(text string) bool { return c.has(text, c.rules.Keywords.Repeat) }
func (c *Classifier) WantsWebsite(text string) bool {
	return c.has(text, c.rules.Keywords.Website)
}
func (c *Classifier) WantsList(text string) bool { return c.has(text, c.rules.Keywords.ListRequest) }
func (c *Classifier) IsSensitive(text string) bool {
	return c.has(text, c.rules.Keywords.Sensitive)
}
func (c *Classifier) NeedsProductDetails(text string) bool {
	return c.has(text, c.rules.Keywords.Price)
}
func (c *Classifier) WantsSupport(text string) bool {
	return c.has(text, c.rules.Keywords.Ticket)
}

// WantsLink reports an explicit request for a product link. A request for
// the website itself is not a link request.
func (c *Classifier) WantsLink(text string) bool {
	n := utils.NormalizeText(text)
	if !utils.ContainsAny(n, c.rules.Keywords.LinkRequest) {
		return false
	}
	return !strings.Contains(n, "لینک سایت")
}

// WantsMore reports a short "continue the list" message.
func (c *Classifier) WantsMore(text string) bool {
	n := utils.NormalizeText(text)
	if n == "" || len(strings.Fields(n)) > 4 {
		return false
	}
	return utils.ContainsAny(n, c.rules.Keywords.Continue)
}

// WantsProductIntent reports a product-shopping message: an explicit product
// keyword, a taxonomy category or a known brand.
func (c *Classifier) WantsProductIntent(text string) bool {
	if c.has(text, c.rules.Keywords.ProductIntent) {
		return true
	}
	t := c.InferTags(text)
	return len(t.Categories) > 0 || len(t.Brands) > 0
}

// IsPurchaseConfirmation reports "I'll take it" style messages.
func (c *Classifier) IsPurchaseConfirmation(text string) bool {
	n := utils.NormalizeText(text)
	return utils.ContainsAny(n, c.rules.Keywords.PurchaseConfirm) || utils.ContainsAny(n, c.rules.Keywords.OrderStart)
}

// StoreTopic returns which store fact the message asks for, or "".
func (c *Classifier) StoreTopic(text string) string {
	n := utils.NormalizeText(text)
	if n == "" {
		return ""
	}
	k := c.rules.Keywords
	switch {
	case utils.ContainsAny(n, k.Address):
		return TopicAddress
	case utils.ContainsAny(n, k.Hours):
		return TopicHours
	case utils.ContainsAny(n, k.Phone):
		return TopicPhone
	case utils.ContainsAny(n, k.Contact):
		return TopicContact
	case utils.ContainsAny(n, k.Website) && !c.WantsLinkToProduct(n):
		return TopicWebsite
	case utils.ContainsAny(n, k.Trust):
		return TopicTrust
	}
	return ""
}

// WantsLinkToProduct is true for "site link of this product" phrasing that
// mentions the website but is really about a product page.
func (c *Classifier) WantsLinkToProduct(normalized string) bool {
	return strings.Contains(normalized, "محصول") && utils.ContainsAny(normalized, c.rules.Keywords.LinkRequest)
}

// wantsProductAddress catches "address" asked about a product, which could
// mean a branch address or a product page.
func (c *Classifier) wantsProductAddress(n string) bool {
	if utils.ContainsAny(n, c.rules.Keywords.ProductAddress) {
		return true
	}
	return strings.Contains(n, "آدرس") && (strings.Contains(n, "محصول") || strings.Contains(n, "کالا"))
}

// Route evaluates intent groups in a fixed order and returns the first hit.
func (c *Classifier) Route(text string) Decision {
	n := utils.NormalizeText(text)
	k := c.rules.Keywords
	category := c.StateCategory(n)

	if c.wantsProductAddress(n) {
		return Decision{
			Intent:     IntentAmbiguousStoreProduct,
			Category:   CategoryUnknown,
			Confidence: 0.92,
			Evidence:   utils.Hits(n, []string{"آدرس", "محصول", "محصولات", "کالا"}),
			Risk:       RiskHigh,
		}
	}
	if topic := c.StoreTopic(n); topic != "" {
		return Decision{
			Intent:     IntentStoreInfo,
			Category:   CategoryUnknown,
			Confidence: 0.9,
			Evidence:   utils.Hits(n, []string{"آدرس", "ساعت", "تلفن", "شماره", "شعبه", "سایت", "اینماد"}),
			Risk:       RiskHigh,
			StoreTopic: topic,
		}
	}
	if c.WantsLink(n) {
		return Decision{
			Intent:     IntentProductLink,
			Category:   category,
			Confidence: 0.95,
			Evidence:   utils.Hits(n, []string{"لینک", "پرداخت", "صفحه"}),
			Risk:       RiskHigh,
		}
	}
	if utils.ContainsAny(n, k.Angry) || utils.ContainsAny(n, k.Support) {
		return Decision{
			Intent:     IntentComplaint,
			Category:   category,
			Confidence: 0.85,
			Evidence:   utils.Hits(n, k.Support),
			Risk:       RiskHigh,
		}
	}
	if c.IsPurchaseConfirmation(n) {
		return Decision{
			Intent:     IntentOrder,
			Category:   category,
			Confidence: 0.8,
			Evidence:   utils.Hits(n, []string{"ثبت", "میخوام", "بخر", "سفارش"}),
			Risk:       RiskHigh,
		}
	}
	if hits := utils.Hits(n, k.Campaign); len(hits) > 0 {
		return Decision{
			Intent:     IntentCampaign,
			Category:   category,
			Confidence: 0.7,
			Evidence:   hits,
			Risk:       RiskMed,
		}
	}
	if c.IsGreeting(n) || c.IsThanks(n) || c.IsGoodbye(n) || c.IsDecline(n) {
		return Decision{
			Intent:     IntentSmalltalk,
			Category:   CategoryUnknown,
			Confidence: 0.6,
			Evidence:   utils.Hits(n, []string{"سلام", "مرسی", "ممنون", "خداحافظ"}),
			Risk:       RiskLow,
		}
	}
	if c.NeedsProductDetails(n) {
		return Decision{
			Intent:     IntentPrice,
			Category:   category,
			Confidence: 0.6,
			Evidence:   utils.Hits(n, []string{"قیمت", "موجود", "سایز", "رنگ"}),
			Risk:       RiskMed,
		}
	}
	if c.WantsProductIntent(n) {
		intent := IntentProductDiscovery
		if utils.ContainsAny(n, k.ProductSpecific) || strings.Contains(n, c.rules.Store.Domain+"/product") {
			intent = IntentProductSpecific
		}
		return Decision{
			Intent:     intent,
			Category:   category,
			Confidence: 0.55,
			Evidence:   utils.Hits(n, []string{"محصول", "لیست", "مدل", "کفش", "عطر", "لباس"}),
			Risk:       RiskMed,
		}
	}
	return Decision{
		Intent:     IntentUnknown,
		Category:   category,
		Confidence: 0.3,
		Risk:       RiskLow,
	}
}
