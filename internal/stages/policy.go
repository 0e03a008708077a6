package stages

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"ticketflow/internal/config"
	"ticketflow/internal/items"
)

const (
	maxShortDescription = 80
	maxDescription      = 4000
	defaultLevel        = "3"
	spamConfidence      = 0.95
)

// Fallbacks are the values applied when a stage exhausts its attempts.
type Fallbacks struct {
	Category        items.Category
	CategoryGroups  map[string]string
	AssignmentGroup string
	Caller          string
}

// GroupFor returns the assignment group for category, or the default group.
func (f Fallbacks) GroupFor(category string) string {
	for name, group := range f.CategoryGroups {
		if strings.EqualFold(name, category) && strings.TrimSpace(group) != "" {
			return group
		}
	}
	return f.AssignmentGroup
}

// Policy is the categorization rule set.
type Policy struct {
	Categories       []string
	UrgentKeywords   []string
	AccessKeywords   []string
	DomainCategories map[string]string
}

// FromConfig builds the fallbacks and policy from configuration.
func FromConfig(cfg *config.Config) (Fallbacks, Policy) {
	fallbacks := Fallbacks{
		Category: items.Category{
			Category:    cfg.Rules.DefaultCategory,
			Subcategory: cfg.Rules.DefaultSubcategory,
			Priority:    ClampLevel(cfg.Rules.DefaultPriority),
			Urgency:     ClampLevel(cfg.Rules.DefaultPriority),
		},
		CategoryGroups:  cfg.ServiceNow.CategoryGroups,
		AssignmentGroup: cfg.ServiceNow.DefaultAssignmentGroup,
		Caller:          cfg.ServiceNow.DefaultCaller,
	}
	policy := Policy{
		Categories:       cfg.Rules.Categories,
		UrgentKeywords:   cfg.Rules.UrgentKeywords,
		AccessKeywords:   cfg.Rules.AccessKeywords,
		DomainCategories: cfg.Rules.DomainCategories,
	}
	return fallbacks, policy
}

// ClampLevel coerces a priority or urgency into "1".."4", defaulting to "3".
func ClampLevel(value string) string {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return defaultLevel
	}
	n = max(1, min(4, n))
	return strconv.Itoa(n)
}

var categoryKeywords = []struct {
	keyword  string
	category string
}{
	{"technical", "IT"},
	{"technology", "IT"},
	{"computer", "IT"},
	{"software", "IT"},
	{"hardware", "IT"},
	{"network", "IT"},
	{"password", "IT"},
	{"login", "IT"},
	{"human resources", "HR"},
	{"employee", "HR"},
	{"payroll", "HR"},
	{"benefits", "HR"},
	{"accounting", "Finance"},
	{"invoice", "Finance"},
	{"payment", "Finance"},
	{"expense", "Finance"},
	{"office", "Facilities"},
	{"building", "Facilities"},
	{"maintenance", "Facilities"},
}

// ClosestCategory maps a suggested category onto the allowed set: exact match,
// then substring match either way, then keyword mapping. It returns "" when
// nothing matches.
func (p Policy) ClosestCategory(suggested string) string {
	lower := strings.ToLower(strings.TrimSpace(suggested))
	if lower == "" {
		return ""
	}
	for _, allowed := range p.Categories {
		if strings.EqualFold(allowed, lower) {
			return allowed
		}
	}
	for _, allowed := range p.Categories {
		a := strings.ToLower(allowed)
		if strings.Contains(a, lower) || strings.Contains(lower, a) {
			return allowed
		}
	}
	return p.keywordCategory(lower)
}

func (p Policy) keywordCategory(text string) string {
	for _, mapping := range categoryKeywords {
		if strings.Contains(text, mapping.keyword) && p.allowed(mapping.category) {
			return mapping.category
		}
	}
	return ""
}

func (p Policy) allowed(category string) bool {
	if len(p.Categories) == 0 {
		return true
	}
	for _, allowed := range p.Categories {
		if strings.EqualFold(allowed, category) {
			return true
		}
	}
	return false
}

// Normalize clamps levels, maps the category onto the allowed set, and applies
// the business rules. fallback supplies values for anything left empty.
func (p Policy) Normalize(raw items.Category, content items.Content, fallback items.Category) items.Category {
	out := items.Category{
		Category:    p.ClosestCategory(raw.Category),
		Subcategory: strings.TrimSpace(raw.Subcategory),
		Priority:    ClampLevel(raw.Priority),
		Urgency:     ClampLevel(raw.Urgency),
		Fallback:    raw.Fallback,
	}
	if out.Category == "" {
		out.Category = fallback.Category
	}
	if out.Subcategory == "" {
		out.Subcategory = fallback.Subcategory
	}
	return p.ApplyRules(out, content)
}

// Fallback derives a category from subject keywords alone.
func (p Policy) Fallback(content items.Content, fallback items.Category) items.Category {
	out := fallback
	out.Priority = ClampLevel(fallback.Priority)
	out.Urgency = ClampLevel(fallback.Urgency)
	out.Fallback = true
	if category := p.keywordCategory(strings.ToLower(content.Subject)); category != "" {
		out.Category = category
	}
	return p.ApplyRules(out, content)
}

// ApplyRules enforces the keyword and sender-domain overrides. Rules apply in
// order: sender domain, urgent keywords, access keywords.
func (p Policy) ApplyRules(category items.Category, content items.Content) items.Category {
	subject := strings.ToLower(content.Subject)
	var rules []string

	if _, domain, ok := strings.Cut(strings.ToLower(strings.TrimSpace(content.From)), "@"); ok {
		if mapped, ok := p.DomainCategories[domain]; ok && mapped != "" {
			category.Category = mapped
			rules = append(rules, "domain:"+domain)
		}
	}
	if containsAny(subject, p.UrgentKeywords) {
		category.Priority = "1"
		category.Urgency = "1"
		rules = append(rules, "urgent")
	}
	if containsAny(subject, p.AccessKeywords) {
		category.Category = "IT"
		category.Subcategory = "Access Management"
		category.Priority = "2"
		rules = append(rules, "access")
	}
	if len(rules) > 0 {
		category.Rule = strings.Join(rules, ",")
	}
	return category
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" && strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

var spamSubjects = []string{
	"lottery", "you have won", "winner", "congratulations", "claim your prize",
	"prize", "click here", "limited time", "act now", "unsubscribe",
}

var spamSenders = []string{"newsletter", "marketing", "promo", "offers@"}

// ObviousSpam short-circuits classification for unmistakable promotions.
func ObviousSpam(content items.Content) (items.Classification, bool) {
	subject := strings.ToLower(content.Subject)
	sender := strings.ToLower(content.From)
	for _, phrase := range spamSubjects {
		if strings.Contains(subject, phrase) {
			return items.Classification{Relevant: false, Confidence: spamConfidence, Reason: "promotional subject: " + phrase}, true
		}
	}
	for _, marker := range spamSenders {
		if strings.Contains(sender, marker) {
			return items.Classification{Relevant: false, Confidence: spamConfidence, Reason: "promotional sender: " + marker}, true
		}
	}
	return items.Classification{}, false
}

// FallbackSummary derives ticket text from the subject and sender.
func FallbackSummary(content items.Content) items.Summary {
	subject := strings.TrimSpace(content.Subject)
	short := subject
	if short == "" {
		short = "General Support Request"
	}
	description := fmt.Sprintf("Support request from %s.\nOriginal subject: %s", content.From, subject)
	if content.Body != "" {
		description += "\n\n" + content.Body
	}
	return items.Summary{
		ShortDescription: truncate(short, maxShortDescription),
		Description:      truncate(description, maxDescription),
		Fallback:         true,
	}
}

func truncate(value string, limit int) string {
	value = strings.TrimSpace(value)
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	return strings.TrimSpace(string([]rune(value)[:limit]))
}
