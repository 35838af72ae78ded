package rules

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/yoockh/dmcommerce/internal/utils"
)

// PathEnv points at a YAML file that replaces the embedded tables.
const PathEnv = "RULES_PATH"

//go:embed rules.yaml
var rulesFS embed.FS

type Named struct {
	Name     string   `yaml:"name"`
	Synonyms []string `yaml:"synonyms"`
}

type Brand struct {
	Name     string   `yaml:"name"`
	Synonyms []string `yaml:"synonyms"`
	Category string   `yaml:"category"`
}

type Link struct {
	Title string `yaml:"title"`
	URL   string `yaml:"url"`
}

type Branch struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
	MapURL  string `yaml:"map_url"`
}

type Trust struct {
	Platform    string `yaml:"platform"`
	StoreName   string `yaml:"store_name"`
	Status      string `yaml:"status"`
	EnamadURL   string `yaml:"enamad_url"`
	TorobURL    string `yaml:"torob_url"`
	ZarinpalURL string `yaml:"zarinpal_url"`
}

type Store struct {
	Name           string   `yaml:"name"`
	City           string   `yaml:"city"`
	Domain         string   `yaml:"domain"`
	Business       string   `yaml:"business"`
	About          string   `yaml:"about"`
	Hours          string   `yaml:"hours"`
	Phone          string   `yaml:"phone"`
	ListingAddress string   `yaml:"listing_address"`
	Categories     []string `yaml:"categories"`
	Strengths      []string `yaml:"strengths"`
	Branches       []Branch `yaml:"branches"`
	Trust          Trust    `yaml:"trust"`
	Socials        []Link   `yaml:"socials"`
	CategoryLinks  []Link   `yaml:"category_links"`
}

func (s Store) WebsiteURL() string { return "https://" + s.Domain }

type OrderReplies struct {
	Start         string `yaml:"start"`
	NameRetry     string `yaml:"name_retry"`
	Phone         string `yaml:"phone"`
	PhoneRetry    string `yaml:"phone_retry"`
	Address       string `yaml:"address"`
	AddressRetry  string `yaml:"address_retry"`
	Note          string `yaml:"note"`
	Cancelled     string `yaml:"cancelled"`
	CancelOption  string `yaml:"cancel_option"`
	SummaryHeader string `yaml:"summary_header"`
	SummaryFooter string `yaml:"summary_footer"`
}

type SlotReplies struct {
	Question    string            `yaml:"question"`
	QuestionAlt string            `yaml:"question_alt"`
	Labels      map[string]string `yaml:"labels"`
}

type ButtonTitles struct {
	Website string `yaml:"website"`
	Link    string `yaml:"link"`
	Product string `yaml:"product"`
	Map     string `yaml:"map"`
}

type RepeatAlternatives struct {
	Default  string `yaml:"default"`
	Info     string `yaml:"info"`
	Products string `yaml:"products"`
}

type Replies struct {
	FallbackGeneral            string             `yaml:"fallback_general"`
	FallbackMedia              string             `yaml:"fallback_media"`
	FallbackAudio              string             `yaml:"fallback_audio"`
	FallbackLLM                string             `yaml:"fallback_llm"`
	MenuText                   string             `yaml:"menu_text"`
	MenuOptions                []string           `yaml:"menu_options"`
	ProductDetails             string             `yaml:"product_details"`
	Angry                      string             `yaml:"angry"`
	AskIdentifier              string             `yaml:"ask_identifier"`
	LinkMissing                string             `yaml:"link_missing"`
	LinkSelected               string             `yaml:"link_selected"`
	OrderPrompt                string             `yaml:"order_prompt"`
	StoreClarify               string             `yaml:"store_clarify"`
	WrongLanguage              string             `yaml:"wrong_language"`
	WebsiteUnrequested         string             `yaml:"website_unrequested"`
	WebsiteUnrequestedSelected string             `yaml:"website_unrequested_selected"`
	SlotTemplateBlocked        string             `yaml:"slot_template_blocked"`
	BudgetRestate              string             `yaml:"budget_restate"`
	Thanks                     string             `yaml:"thanks"`
	Goodbye                    string             `yaml:"goodbye"`
	Decline                    string             `yaml:"decline"`
	ContinueEmpty              string             `yaml:"continue_empty"`
	ContinueExpired            string             `yaml:"continue_expired"`
	ContinueDone               string             `yaml:"continue_done"`
	MoreHint                   string             `yaml:"more_hint"`
	ProductNotFound            string             `yaml:"product_not_found"`
	TicketOpened               string             `yaml:"ticket_opened"`
	Escalated                  string             `yaml:"escalated"`
	Followup                   string             `yaml:"followup"`
	CrossSell                  string             `yaml:"cross_sell"`
	Similar                    string             `yaml:"similar"`
	RepeatAlternatives         RepeatAlternatives `yaml:"repeat_alternatives"`
	Buttons                    ButtonTitles       `yaml:"buttons"`
	Order                      OrderReplies       `yaml:"order"`
	Slots                      SlotReplies        `yaml:"slots"`
}

type Keywords struct {
	Greeting        []string `yaml:"greeting"`
	Address         []string `yaml:"address"`
	Hours           []string `yaml:"hours"`
	Phone           []string `yaml:"phone"`
	Contact         []string `yaml:"contact"`
	Website         []string `yaml:"website"`
	Trust           []string `yaml:"trust"`
	Price           []string `yaml:"price"`
	ProductIntent   []string `yaml:"product_intent"`
	ProductSpecific []string `yaml:"product_specific"`
	ListRequest     []string `yaml:"list_request"`
	Angry           []string `yaml:"angry"`
	Support         []string `yaml:"support"`
	Ticket          []string `yaml:"ticket"`
	Campaign        []string `yaml:"campaign"`
	LinkRequest     []string `yaml:"link_request"`
	ProductAddress  []string `yaml:"product_address"`
	PurchaseConfirm []string `yaml:"purchase_confirm"`
	Thanks          []string `yaml:"thanks"`
	Goodbye         []string `yaml:"goodbye"`
	Decline         []string `yaml:"decline"`
	Repeat          []string `yaml:"repeat"`
	Continue        []string `yaml:"continue"`
	Sensitive       []string `yaml:"sensitive"`
	OrderStart      []string `yaml:"order_start"`
	OrderNotName    []string `yaml:"order_not_name"`
	OrderCancel     []string `yaml:"order_cancel"`
	OrderNoNote     []string `yaml:"order_no_note"`
	BudgetCue       []string `yaml:"budget_cue"`
}

type CrossSell struct {
	Category    string   `yaml:"category"`
	Complements []string `yaml:"complements"`
}

type Taxonomy struct {
	Categories     []Named             `yaml:"categories"`
	Brands         []Brand             `yaml:"brands"`
	Genders        []Named             `yaml:"genders"`
	Styles         []Named             `yaml:"styles"`
	Materials      []Named             `yaml:"materials"`
	Colors         []string            `yaml:"colors"`
	SizeKeywords   []string            `yaml:"size_keywords"`
	CurrencyWords  []string            `yaml:"currency_words"`
	Groups         map[string][]string `yaml:"groups"`
	RequiredFields map[string][]string `yaml:"required_fields"`
	CrossSell      []CrossSell         `yaml:"cross_sell"`
}

// Group returns the state category (shoes, apparel, ...) a taxonomy
// category belongs to, or "" when it belongs to none.
func (t Taxonomy) Group(category string) string {
	for _, g := range []string{"shoes", "apparel", "perfume", "cosmetics", "accessories"} {
		for _, c := range t.Groups[g] {
			if c == category {
				return g
			}
		}
	}
	return ""
}

func (t Taxonomy) Synonyms(list []Named, name string) []string {
	for _, n := range list {
		if n.Name == name {
			return n.Synonyms
		}
	}
	return nil
}

type BehaviorRule struct {
	Name     string   `yaml:"name"`
	Base     float64  `yaml:"base"`
	Keywords []string `yaml:"keywords"`
}

type Behavior struct {
	Rules            []BehaviorRule `yaml:"rules"`
	Priority         []string       `yaml:"priority"`
	FollowupPatterns []string       `yaml:"followup_patterns"`
	VIPPatterns      []string       `yaml:"vip_patterns"`
}

// Prompts are the model instructions. Sales and Support are appended to
// System when the message reads like a purchase or a complaint.
type Prompts struct {
	System  string `yaml:"system"`
	Sales   string `yaml:"sales"`
	Support string `yaml:"support"`
}

type Matcher struct {
	Stopwords []string `yaml:"stopwords"`
}

// Set is the full rule configuration. A loaded Set is shared between
// goroutines and must not be mutated.
type Set struct {
	Store    Store    `yaml:"store"`
	Replies  Replies  `yaml:"replies"`
	Keywords Keywords `yaml:"keywords"`
	Taxonomy Taxonomy `yaml:"taxonomy"`
	Behavior Behavior `yaml:"behavior"`
	Matcher  Matcher  `yaml:"matcher"`
	Prompts  Prompts  `yaml:"prompts"`
}

// Parse decodes and validates a rule document. Keywords are normalized the
// same way message text is, so lookups can use plain substring checks.
func Parse(b []byte) (*Set, error) {
	var s Set
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("rules: decode: %w", err)
	}
	if err := validate(&s); err != nil {
		return nil, err
	}
	normalize(&s)
	return &s, nil
}

// Load reads the document at path, or the embedded one when path is empty.
func Load(path string) (*Set, error) {
	b, err := read(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

var (
	defaultOnce sync.Once
	defaultSet  *Set
)

// Default returns the embedded rule set. It panics if the embedded document
// is invalid, which tests rule out.
func Default() *Set {
	defaultOnce.Do(func() {
		s, err := Load("")
		if err != nil {
			panic(err)
		}
		defaultSet = s
	})
	return defaultSet
}

// FromEnv loads the file named by RULES_PATH, falling back to the embedded
// set when the variable is unset.
func FromEnv() (*Set, error) {
	if p := strings.TrimSpace(os.Getenv(PathEnv)); p != "" {
		return Load(p)
	}
	return Default(), nil
}

func read(path string) ([]byte, error) {
	if path != "" {
		return os.ReadFile(path)
	}
	return rulesFS.ReadFile("rules.yaml")
}

func validate(s *Set) error {
	var errs []error
	if s.Store.Domain == "" {
		errs = append(errs, errors.New("store.domain is required"))
	}
	if s.Replies.FallbackGeneral == "" || s.Replies.FallbackLLM == "" {
		errs = append(errs, errors.New("replies.fallback_general and replies.fallback_llm are required"))
	}
	if strings.TrimSpace(s.Prompts.System) == "" {
		errs = append(errs, errors.New("prompts.system is required"))
	}
	if len(s.Taxonomy.Categories) == 0 {
		errs = append(errs, errors.New("taxonomy.categories is empty"))
	}
	seen := map[string]bool{}
	for _, r := range s.Behavior.Rules {
		if r.Name == "" || r.Base <= 0 || r.Base > 1 {
			errs = append(errs, fmt.Errorf("behavior rule %q: base must be in (0,1]", r.Name))
		}
		if seen[r.Name] {
			errs = append(errs, fmt.Errorf("behavior rule %q defined twice", r.Name))
		}
		seen[r.Name] = true
	}
	for _, p := range s.Behavior.Priority {
		if p != "product_request" && !seen[p] {
			errs = append(errs, fmt.Errorf("behavior priority %q has no rule", p))
		}
	}
	if len(s.Taxonomy.RequiredFields["default"]) == 0 {
		errs = append(errs, errors.New("taxonomy.required_fields.default is empty"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("rules: %w", errors.Join(errs...))
	}
	return nil
}

func normalize(s *Set) {
	n := func(list []string) []string {
		out := make([]string, 0, len(list))
		for _, v := range list {
			out = append(out, utils.NormalizeText(v))
		}
		return utils.Dedupe(out)
	}
	nn := func(list []Named) {
		for i := range list {
			list[i].Synonyms = n(list[i].Synonyms)
		}
	}

	k := &s.Keywords
	for _, p := range []*[]string{
		&k.Greeting, &k.Address, &k.Hours, &k.Phone, &k.Contact, &k.Website, &k.Trust,
		&k.Price, &k.ProductIntent, &k.ProductSpecific, &k.ListRequest, &k.Angry,
		&k.Support, &k.Ticket, &k.Campaign, &k.LinkRequest, &k.ProductAddress,
		&k.PurchaseConfirm, &k.Thanks, &k.Goodbye, &k.Decline, &k.Repeat,
		&k.Continue, &k.Sensitive, &k.OrderStart, &k.OrderNotName, &k.OrderCancel,
		&k.OrderNoNote,
	} {
		*p = n(*p)
	}
	// budget cues keep their trailing spaces ("تا ").
	for i, v := range k.BudgetCue {
		k.BudgetCue[i] = strings.ToLower(v)
	}

	t := &s.Taxonomy
	nn(t.Categories)
	nn(t.Genders)
	nn(t.Styles)
	nn(t.Materials)
	for i := range t.Brands {
		t.Brands[i].Synonyms = n(t.Brands[i].Synonyms)
	}
	t.Colors = n(t.Colors)
	t.SizeKeywords = n(t.SizeKeywords)
	t.CurrencyWords = n(t.CurrencyWords)
	for i := range s.Behavior.Rules {
		s.Behavior.Rules[i].Keywords = n(s.Behavior.Rules[i].Keywords)
	}
	s.Matcher.Stopwords = n(s.Matcher.Stopwords)
}
